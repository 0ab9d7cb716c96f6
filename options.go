package buildlog

import "log/slog"

// Option customizes App construction. Options override the
// corresponding environment-derived config values.
type Option func(*resolvedOptions)

type resolvedOptions struct {
	logger    *slog.Logger
	version   string
	baseURL   string
	apiKey    string
	storePath string
	watchDir  string
	listeners []ListenerFunc
}

// WithLogger sets the structured logger used by every subsystem.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version reported over MCP and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithBaseURL overrides the buildlog.ai API endpoint.
func WithBaseURL(url string) Option {
	return func(o *resolvedOptions) { o.baseURL = url }
}

// WithAPIKey sets the API key sent as a bearer token on uploads.
func WithAPIKey(key string) Option {
	return func(o *resolvedOptions) { o.apiKey = key }
}

// WithStorePath overrides the SQLite database location. Use
// ":memory:" for an ephemeral store.
func WithStorePath(path string) Option {
	return func(o *resolvedOptions) { o.storePath = path }
}

// WithWatchDir enables the workspace file watcher rooted at dir.
func WithWatchDir(dir string) Option {
	return func(o *resolvedOptions) { o.watchDir = dir }
}

// WithListener registers a callback for recorder lifecycle
// notifications. May be given multiple times.
func WithListener(fn ListenerFunc) Option {
	return func(o *resolvedOptions) { o.listeners = append(o.listeners, fn) }
}
