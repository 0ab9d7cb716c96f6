package exporter

import "github.com/buildlog-ai/buildlog/internal/model"

// ToSlim returns an equivalent slim-format copy of the document with
// every full-format-only field stripped (prompt responses, action
// diffs, terminal output). Idempotent; a slim input comes back as an
// unchanged copy.
func ToSlim(doc *model.Document) *model.Document {
	slim := *doc
	slim.Format = model.FormatSlim
	slim.Steps = make([]model.Step, len(doc.Steps))
	for i, s := range doc.Steps {
		slim.Steps[i] = s.StripFullFields()
	}
	if doc.Outcome != nil {
		outcome := *doc.Outcome
		slim.Outcome = &outcome
	}
	return &slim
}
