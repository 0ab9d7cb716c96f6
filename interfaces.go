package buildlog

// Notification reports a recorder lifecycle change to host code
// registered via WithListener.
type Notification struct {
	// Kind is one of: started, stopped, paused, resumed, step_added.
	Kind string

	// SessionID identifies the session the notification belongs to.
	SessionID string

	// Title is the session title.
	Title string
}

// ListenerFunc receives recorder notifications. Callbacks run
// synchronously on the recorder's calling goroutine and must not
// block.
type ListenerFunc func(Notification)
