package recorder

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/buildlog-ai/buildlog/internal/model"
)

// NotificationKind is the type tag of a recorder notification.
type NotificationKind string

const (
	NotifyStarted   NotificationKind = "started"
	NotifyStopped   NotificationKind = "stopped"
	NotifyPaused    NotificationKind = "paused"
	NotifyResumed   NotificationKind = "resumed"
	NotifyStepAdded NotificationKind = "step_added"
)

// Notification is delivered to subscribed listeners on every mutating
// recorder operation. Step is set only for step_added.
type Notification struct {
	Kind      NotificationKind
	SessionID uuid.UUID
	Title     string
	Step      *model.Step
}

// Listener receives recorder notifications. Listeners run on the
// emitting goroutine; a panicking listener is logged and skipped, it
// never interrupts recording or the other listeners.
type Listener func(Notification)

// registry is an explicit handle-based listener table. subscribe
// returns a disposer so listener lifetimes stay auditable.
type registry struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]Listener
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{logger: logger, subs: make(map[int]Listener)}
}

func (g *registry) subscribe(l Listener) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.subs[id] = l
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subs, id)
	}
}

func (g *registry) emit(n Notification) {
	g.mu.Lock()
	snapshot := make([]Listener, 0, len(g.subs))
	for _, l := range g.subs {
		snapshot = append(snapshot, l)
	}
	g.mu.Unlock()

	for _, l := range snapshot {
		g.safeCall(l, n)
	}
}

func (g *registry) safeCall(l Listener, n Notification) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("recorder: listener panicked", "kind", n.Kind, "panic", rec)
		}
	}()
	l(n)
}
