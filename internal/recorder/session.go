package recorder

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buildlog-ai/buildlog/internal/model"
)

// session is the live mutable recording state. It is owned exclusively
// by the Recorder while the state is not idle and is never handed out;
// Stop and Snapshot materialize it into an immutable model.Document.
type session struct {
	id        uuid.UUID
	title     string
	startedAt time.Time
	format    model.Format

	author   string
	editor   string
	provider string
	aiModel  string

	steps []model.Step
	seq   int

	// Pending file changes buffered between flush points, in arrival
	// order. First action wins per path: a create is never downgraded
	// to a modify by a later notification.
	pending    []pendingChange
	pendingIdx map[string]int

	// Distinct paths touched over the whole session, for the outcome
	// report. A path that was created stays in created even when later
	// modified.
	createdPaths  map[string]struct{}
	modifiedPaths map[string]struct{}
}

type pendingChange struct {
	path string
	kind model.FileChangeKind
}

func newSession(id uuid.UUID, title string, startedAt time.Time, opts StartOptions) *session {
	format := opts.Format
	if format == "" {
		format = model.FormatSlim
	}
	return &session{
		id:            id,
		title:         title,
		startedAt:     startedAt,
		format:        format,
		author:        opts.Author,
		editor:        opts.Editor,
		provider:      opts.AIProvider,
		aiModel:       opts.AIModel,
		pendingIdx:    make(map[string]int),
		createdPaths:  make(map[string]struct{}),
		modifiedPaths: make(map[string]struct{}),
	}
}

// elapsed returns the whole-second offset from session start.
func (s *session) elapsed(now time.Time) int64 {
	d := now.Sub(s.startedAt)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}

// appendStep assigns identity, sequence, and timestamp, then appends.
// Steps are immutable once appended. Returns the appended step.
func (s *session) appendStep(now time.Time, step model.Step) model.Step {
	step.ID = uuid.New()
	step.Seq = s.seq
	step.Timestamp = s.elapsed(now)
	if s.format != model.FormatFull {
		step = step.StripFullFields()
	}
	s.seq++
	s.steps = append(s.steps, step)
	return step
}

// trackChange buffers a raw file-touch notification without emitting a
// step. The outcome path sets are updated immediately so they survive
// even if the session stops before the next flush.
func (s *session) trackChange(path string, kind model.FileChangeKind) {
	if _, seen := s.pendingIdx[path]; !seen {
		s.pendingIdx[path] = len(s.pending)
		s.pending = append(s.pending, pendingChange{path: path, kind: kind})
	}

	switch kind {
	case model.FileCreated:
		s.createdPaths[path] = struct{}{}
		delete(s.modifiedPaths, path)
	case model.FileModified:
		if _, created := s.createdPaths[path]; !created {
			s.modifiedPaths[path] = struct{}{}
		}
	}
}

// flushPending drains the buffer into a single action step. A no-op
// when nothing is buffered. response becomes the action's AI-response
// field (dropped again for slim sessions by appendStep).
func (s *session) flushPending(now time.Time, response string) (model.Step, bool) {
	if len(s.pending) == 0 {
		return model.Step{}, false
	}

	var created, modified, deleted []string
	for _, c := range s.pending {
		switch c.kind {
		case model.FileCreated:
			created = append(created, c.path)
		case model.FileModified:
			modified = append(modified, c.path)
		case model.FileDeleted:
			deleted = append(deleted, c.path)
		}
	}
	s.pending = nil
	s.pendingIdx = make(map[string]int)

	step := s.appendStep(now, model.Step{
		Type:     model.StepAction,
		Summary:  changeSummary(len(created), len(modified), len(deleted)),
		Created:  created,
		Modified: modified,
		Deleted:  deleted,
		Response: response,
	})
	return step, true
}

// changeSummary builds the deterministic action summary from counts,
// omitting zero-count clauses. Falls back to "Code changes" when a
// flush was requested but no clause applies.
func changeSummary(created, modified, deleted int) string {
	var clauses []string
	if created > 0 {
		clauses = append(clauses, fmt.Sprintf("Created %d %s", created, pluralFiles(created)))
	}
	if modified > 0 {
		clauses = append(clauses, fmt.Sprintf("Modified %d %s", modified, pluralFiles(modified)))
	}
	if deleted > 0 {
		clauses = append(clauses, fmt.Sprintf("Deleted %d %s", deleted, pluralFiles(deleted)))
	}
	if len(clauses) == 0 {
		return "Code changes"
	}
	return strings.Join(clauses, ", ")
}

func pluralFiles(n int) string {
	if n == 1 {
		return "file"
	}
	return "files"
}

// toDocument materializes the session into a buildlog document. The
// session itself is not mutated, so this serves both live snapshots
// and the final document returned by Stop.
func (s *session) toDocument(now time.Time, explicit *model.Outcome) *model.Document {
	steps := make([]model.Step, len(s.steps))
	copy(steps, s.steps)

	promptCount := 0
	for _, st := range steps {
		if st.Type == model.StepPrompt {
			promptCount++
		}
	}

	outcome := explicit
	if outcome == nil {
		status := model.StatusAbandoned
		if promptCount > 0 {
			status = model.StatusSuccess
		}
		outcome = &model.Outcome{
			Status:  status,
			Summary: fmt.Sprintf("Recorded %d steps (%d prompts).", len(steps), promptCount),
		}
	}
	// Derived regardless of what the caller supplied.
	outcome.CanReplicate = promptCount > 0
	outcome.FilesCreated = len(s.createdPaths)
	outcome.FilesModified = len(s.modifiedPaths)

	return &model.Document{
		Version: model.SchemaVersion,
		Format:  s.format,
		Metadata: model.Metadata{
			ID:              s.id,
			Title:           s.title,
			Author:          s.author,
			CreatedAt:       s.startedAt,
			DurationSeconds: s.elapsed(now),
			Editor:          s.editor,
			AIProvider:      s.provider,
			AIModel:         s.aiModel,
			StepCount:       len(steps),
			PromptCount:     promptCount,
			Replicable:      promptCount > 0,
		},
		Steps:   steps,
		Outcome: outcome,
	}
}
