package edon

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all overrides after applying defaults.
// Unexported, callers use the With* functions.
type resolvedOptions struct {
	port         int
	databasePath string
	sandboxDir   string
	logger       *slog.Logger
	version      string
}

// WithPort overrides the TCP port from config (EDON_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabasePath overrides the embedded store location (EDON_DATABASE_PATH env var).
func WithDatabasePath(path string) Option {
	return func(o *resolvedOptions) { o.databasePath = path }
}

// WithSandboxDir overrides the root directory for sandboxed connectors
// (EDON_SANDBOX_DIR env var).
func WithSandboxDir(dir string) Option {
	return func(o *resolvedOptions) { o.sandboxDir = dir }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported by /version and in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}
