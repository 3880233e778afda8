package log

import "context"

// Fields are structured key/value pairs attached to a log entry.
type Fields map[string]interface{}

// Logger is the logging seam used across the server. Implementations must be
// safe for concurrent use.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Fields)
	Info(ctx context.Context, msg string, fields ...Fields)
	Warn(ctx context.Context, msg string, fields ...Fields)
	Error(ctx context.Context, msg string, err error, fields ...Fields)
	// Fatal logs and exits the process.
	Fatal(ctx context.Context, msg string, err error, fields ...Fields)
	With(fields Fields) Logger
}
