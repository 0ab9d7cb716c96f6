package exporter

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/buildlog-ai/buildlog/internal/model"
)

const (
	maxTitleLen    = 60
	minTitleSource = 10
	maxTags        = 10
	maxOutcomeLen  = 200
)

// languageByExt maps file extensions to language tags. Fixed set; paths
// with other extensions contribute no tag.
var languageByExt = map[string]string{
	".go":    "go",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".py":    "python",
	".rs":    "rust",
	".rb":    "ruby",
	".java":  "java",
	".kt":    "kotlin",
	".swift": "swift",
	".c":     "c",
	".cpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".html":  "html",
	".css":   "css",
	".sql":   "sql",
	".sh":    "shell",
	".yml":   "yaml",
	".yaml":  "yaml",
}

// keywordTags is the fixed vocabulary scanned case-insensitively
// across all message text.
var keywordTags = []string{
	"api", "auth", "backend", "cache", "cli", "database", "deploy",
	"docker", "frontend", "migration", "performance", "refactor",
	"testing", "websocket",
}

// Success and failure indicator words for outcome inference.
var (
	successWords = []string{"done", "complete", "finished", "works", "success"}
	failureWords = []string{"error", "failed", "doesn't work", "issue", "problem"}
)

// inferTitle picks the first user message longer than 10 characters,
// preferring its first line, truncated to 60 characters.
func inferTitle(messages []Message) string {
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		text := strings.TrimSpace(m.Content)
		// Runes, not bytes, so multibyte text meets the same bar.
		if utf8.RuneCountInString(text) <= minTitleSource {
			continue
		}
		if line, _, found := strings.Cut(text, "\n"); found {
			text = strings.TrimSpace(line)
		}
		return truncate(text, maxTitleLen)
	}
	return "AI coding session"
}

// inferDescription joins step-kind counts into a sentence.
func inferDescription(steps []model.Step) string {
	var prompts, actions, commands int
	for _, s := range steps {
		switch s.Type {
		case model.StepPrompt:
			prompts++
		case model.StepAction:
			actions++
		case model.StepTerminal:
			commands++
		}
	}

	var parts []string
	if prompts > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", prompts, plural(prompts, "prompt")))
	}
	if actions > 0 {
		parts = append(parts, fmt.Sprintf("%d code %s", actions, plural(actions, "change")))
	}
	if commands > 0 {
		parts = append(parts, fmt.Sprintf("%d terminal %s", commands, plural(commands, "command")))
	}
	if len(parts) == 0 {
		return "Exported coding session."
	}
	return "Session with " + strings.Join(parts, ", ") + "."
}

// inferTags unions language tags (from file extensions) with keyword
// hits across all message text, capped at 10.
func inferTags(messages []Message) []string {
	seen := make(map[string]struct{})
	var tags []string
	add := func(tag string) {
		if len(tags) >= maxTags {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	for _, m := range messages {
		for _, fc := range m.FileChanges {
			if lang, ok := languageByExt[strings.ToLower(filepath.Ext(fc.Path))]; ok {
				add(lang)
			}
		}
	}

	var all strings.Builder
	for _, m := range messages {
		all.WriteString(strings.ToLower(m.Content))
		all.WriteByte(' ')
	}
	text := all.String()
	for _, kw := range keywordTags {
		if strings.Contains(text, kw) {
			add(kw)
		}
	}
	return tags
}

// inferOutcome classifies the last assistant message by its success
// and failure indicator words. An outcome is emitted only when exactly
// one class matches; ambiguous or silent histories get none.
func inferOutcome(messages []Message) *model.Outcome {
	var last string
	for _, m := range messages {
		if m.Role == RoleAssistant {
			last = m.Content
		}
	}
	if last == "" {
		return nil
	}

	text := strings.ToLower(last)
	hasSuccess := containsAny(text, successWords)
	hasFailure := containsAny(text, failureWords)
	if hasSuccess == hasFailure {
		return nil
	}

	status := model.StatusCompleted
	if hasFailure {
		status = model.StatusFailed
	}
	return &model.Outcome{
		Status:  status,
		Summary: truncate(strings.TrimSpace(last), maxOutcomeLen),
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
