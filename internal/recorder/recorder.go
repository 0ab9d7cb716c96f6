// Package recorder owns the live session lifecycle: a small state
// machine (idle/recording/paused) that aggregates host events and
// explicit annotations into an ordered buildlog timeline.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/buildlog-ai/buildlog/internal/model"
	"github.com/buildlog-ai/buildlog/internal/telemetry"
)

// State is the recorder lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
)

// State-violation errors. All of them are recoverable: the session is
// never corrupted, the caller just issued the wrong transition.
var (
	ErrNoSession        = errors.New("recorder: no active session")
	ErrAlreadyRecording = errors.New("recorder: a session is already active, stop it first")
	ErrNotRecording     = errors.New("recorder: not recording")
	ErrNotPaused        = errors.New("recorder: not paused")
)

// StartOptions configures a new recording session.
type StartOptions struct {
	Format     model.Format // defaults to slim
	Author     string
	Editor     string
	AIProvider string
	AIModel    string
}

// Recorder is the live session state machine. All operations are safe
// for concurrent use; the session is only ever touched under mu.
type Recorder struct {
	logger    *slog.Logger
	now       func() time.Time
	listeners *registry

	mu    sync.Mutex
	state State
	sess  *session

	stepsRecorded    metric.Int64Counter
	sessionsRecorded metric.Int64Counter
}

// New creates an idle recorder.
func New(logger *slog.Logger) *Recorder {
	r := &Recorder{
		logger:    logger,
		now:       time.Now,
		state:     StateIdle,
		listeners: newRegistry(logger),
	}

	meter := telemetry.Meter("buildlog/recorder")
	r.stepsRecorded, _ = meter.Int64Counter("buildlog.recorder.steps",
		metric.WithDescription("Total steps appended to live sessions"))
	r.sessionsRecorded, _ = meter.Int64Counter("buildlog.recorder.sessions",
		metric.WithDescription("Total recording sessions started"))

	return r
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Session returns the active session's id and title, if any.
func (r *Recorder) Session() (id uuid.UUID, title string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return uuid.Nil, "", false
	}
	return r.sess.id, r.sess.title, true
}

// StepCount returns the number of steps in the active session (0 when idle).
func (r *Recorder) StepCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return 0
	}
	return len(r.sess.steps)
}

// Subscribe registers a listener for recorder notifications and
// returns its unsubscribe function.
func (r *Recorder) Subscribe(l Listener) func() {
	return r.listeners.subscribe(l)
}

// Start begins a new recording session. Fails when a session is
// already active (recording or paused).
func (r *Recorder) Start(title string, opts StartOptions) (uuid.UUID, error) {
	if title == "" {
		title = "Untitled session"
	}

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return uuid.Nil, ErrAlreadyRecording
	}
	id := uuid.New()
	r.sess = newSession(id, title, r.now(), opts)
	r.state = StateRecording
	r.mu.Unlock()

	r.sessionsRecorded.Add(context.Background(), 1)
	r.logger.Info("recorder: session started", "session_id", id, "title", title)
	r.listeners.emit(Notification{Kind: NotifyStarted, SessionID: id, Title: title})
	return id, nil
}

// Stop finalizes the active session and returns its document. The
// pending file-change buffer is flushed first so tracked changes are
// not dropped. Fails when idle; on failure the session is untouched.
func (r *Recorder) Stop() (*model.Document, error) {
	r.mu.Lock()
	if r.sess == nil {
		r.mu.Unlock()
		return nil, ErrNoSession
	}
	now := r.now()
	flushed, didFlush := r.sess.flushPending(now, "")
	doc := r.sess.toDocument(now, nil)
	id := r.sess.id
	r.sess = nil
	r.state = StateIdle
	r.mu.Unlock()

	if didFlush {
		r.stepsRecorded.Add(context.Background(), 1)
		r.listeners.emit(Notification{Kind: NotifyStepAdded, SessionID: id, Step: &flushed})
	}
	r.logger.Info("recorder: session stopped",
		"session_id", id, "steps", doc.Metadata.StepCount, "duration_s", doc.Metadata.DurationSeconds)
	r.listeners.emit(Notification{Kind: NotifyStopped, SessionID: id})
	return doc, nil
}

// Pause suspends event recording. Only valid while recording.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.state = StatePaused
	id := r.sess.id
	r.mu.Unlock()

	r.logger.Info("recorder: session paused", "session_id", id)
	r.listeners.emit(Notification{Kind: NotifyPaused, SessionID: id})
	return nil
}

// Resume continues a paused session. Only valid while paused.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	if r.state != StatePaused {
		r.mu.Unlock()
		return ErrNotPaused
	}
	r.state = StateRecording
	id := r.sess.id
	r.mu.Unlock()

	r.logger.Info("recorder: session resumed", "session_id", id)
	r.listeners.emit(Notification{Kind: NotifyResumed, SessionID: id})
	return nil
}

// Snapshot materializes the current session into a document without
// stopping it. An explicit outcome overrides the derived one, except
// for its derived fields (CanReplicate, file counts).
func (r *Recorder) Snapshot(explicit *model.Outcome) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil, ErrNoSession
	}
	return r.sess.toDocument(r.now(), explicit), nil
}

// HandleEvent dispatches one host runtime event. While paused, events
// are silently discarded — that is what distinguishes pause from stop.
// With no session at all, delivery is a contract violation.
func (r *Recorder) HandleEvent(ev model.SessionEvent) error {
	r.mu.Lock()
	if r.sess == nil {
		r.mu.Unlock()
		return ErrNoSession
	}
	if r.state == StatePaused {
		r.mu.Unlock()
		return nil
	}

	now := r.now()
	var appended []model.Step
	// A nil payload for the declared type is a malformed event; drop it
	// rather than let a buggy host take down the session.
	switch ev.Type {
	case model.EventUserMessage:
		if ev.UserMessage == nil {
			break
		}
		if flushed, ok := r.sess.flushPending(now, ""); ok {
			appended = append(appended, flushed)
		}
		step := r.sess.appendStep(now, model.Step{
			Type:    model.StepPrompt,
			Text:    ev.UserMessage.Text,
			Context: ev.UserMessage.Attachments,
		})
		appended = append(appended, step)

	case model.EventAssistantMessage:
		if ev.AssistantMessage == nil {
			break
		}
		if flushed, ok := r.sess.flushPending(now, ev.AssistantMessage.Text); ok {
			appended = append(appended, flushed)
		}

	case model.EventFileChange:
		if ev.FileChange == nil {
			break
		}
		r.sess.trackChange(ev.FileChange.Path, ev.FileChange.Kind)

	case model.EventTerminalCommand:
		cmd := ev.TerminalCommand
		if cmd == nil {
			break
		}
		step := r.sess.appendStep(now, model.Step{
			Type:       model.StepTerminal,
			Command:    cmd.Command,
			Cwd:        cmd.Cwd,
			ExitCode:   cmd.ExitCode,
			CmdOutcome: model.DeriveTerminalOutcome(cmd.ExitCode),
			Output:     cmd.Output,
		})
		appended = append(appended, step)
	}
	id := r.sess.id
	r.mu.Unlock()

	r.emitSteps(id, appended)
	return nil
}

// AddPrompt records a user prompt. Pending file changes are flushed
// into an action step first, so the action lands between the prompts
// that bracketed it.
func (r *Recorder) AddPrompt(text string, contextTags []string, intent string) error {
	return r.append(true, model.Step{
		Type:    model.StepPrompt,
		Text:    text,
		Context: contextTags,
		Intent:  intent,
	})
}

// AddAction records an explicit action step. The named paths also feed
// the session's outcome path sets.
func (r *Recorder) AddAction(summary, approach string, created, modified, deleted []string, response, diff string) error {
	r.mu.Lock()
	if r.sess == nil {
		r.mu.Unlock()
		return ErrNoSession
	}
	if r.state == StatePaused {
		r.mu.Unlock()
		return nil
	}
	for _, p := range created {
		r.sess.createdPaths[p] = struct{}{}
		delete(r.sess.modifiedPaths, p)
	}
	for _, p := range modified {
		if _, ok := r.sess.createdPaths[p]; !ok {
			r.sess.modifiedPaths[p] = struct{}{}
		}
	}
	step := r.sess.appendStep(r.now(), model.Step{
		Type:     model.StepAction,
		Summary:  summary,
		Approach: approach,
		Created:  created,
		Modified: modified,
		Deleted:  deleted,
		Response: response,
		Diff:     diff,
	})
	id := r.sess.id
	r.mu.Unlock()

	r.emitSteps(id, []model.Step{step})
	return nil
}

// AddNote records a free-text note.
func (r *Recorder) AddNote(text string, category model.NoteCategory) error {
	return r.append(false, model.Step{Type: model.StepNote, Text: text, Category: category})
}

// AddCheckpoint records a milestone marker.
func (r *Recorder) AddCheckpoint(label, summary string) error {
	return r.append(false, model.Step{Type: model.StepCheckpoint, Label: label, Summary: summary})
}

// AddTerminal records a terminal command. A missing exit code yields a
// partial outcome, same as the event path.
func (r *Recorder) AddTerminal(command, cwd string, exitCode *int, output string) error {
	return r.append(false, model.Step{
		Type:       model.StepTerminal,
		Command:    command,
		Cwd:        cwd,
		ExitCode:   exitCode,
		CmdOutcome: model.DeriveTerminalOutcome(exitCode),
		Output:     output,
	})
}

// AddError records an error observed during the session.
func (r *Recorder) AddError(message, stack, resolution string, resolved bool) error {
	return r.append(false, model.Step{
		Type:       model.StepError,
		Message:    message,
		Stack:      stack,
		Resolution: resolution,
		Resolved:   resolved,
	})
}

// TrackFileChange buffers a raw file-touch notification. No step is
// emitted until the next flush point (prompt or assistant message).
func (r *Recorder) TrackFileChange(path string, kind model.FileChangeKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return ErrNoSession
	}
	if r.state == StatePaused {
		return nil
	}
	r.sess.trackChange(path, kind)
	return nil
}

// append is the shared annotation path: require a session, ignore
// while paused, optionally flush the pending buffer first.
func (r *Recorder) append(flushFirst bool, step model.Step) error {
	r.mu.Lock()
	if r.sess == nil {
		r.mu.Unlock()
		return ErrNoSession
	}
	if r.state == StatePaused {
		r.mu.Unlock()
		return nil
	}
	now := r.now()
	var appended []model.Step
	if flushFirst {
		if flushed, ok := r.sess.flushPending(now, ""); ok {
			appended = append(appended, flushed)
		}
	}
	appended = append(appended, r.sess.appendStep(now, step))
	id := r.sess.id
	r.mu.Unlock()

	r.emitSteps(id, appended)
	return nil
}

func (r *Recorder) emitSteps(sessionID uuid.UUID, steps []model.Step) {
	for i := range steps {
		r.stepsRecorded.Add(context.Background(), 1)
		r.listeners.emit(Notification{Kind: NotifyStepAdded, SessionID: sessionID, Step: &steps[i]})
	}
}
