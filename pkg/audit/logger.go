package audit

import "context"

// Logger is the audit sink contract. Implementations must be safe for
// concurrent use.
type Logger interface {
	Log(ctx context.Context, event *Event) error
}

// MultiLogger fans an event out to several sinks. A failing sink does not
// stop the others; the first error is returned.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger writing to all given sinks
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes the event to every sink
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NopLogger discards all events
type NopLogger struct{}

// Log discards the event
func (NopLogger) Log(ctx context.Context, event *Event) error {
	return nil
}
