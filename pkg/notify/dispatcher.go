package notify

import (
	"context"
	"sync"
	"time"

	"github.com/vaultisle/dataroom/pkg/async"
	"github.com/vaultisle/dataroom/pkg/observability"
)

// Dispatcher sends events to a sink without ever blocking or failing the
// caller. Sink errors are counted and logged, never propagated.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewDispatcher creates a dispatcher with a per-event delivery timeout
func NewDispatcher(sink Sink, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		sink:    sink,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Dispatch hands the event to the sink in the background and returns
// immediately
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	if d.metrics != nil {
		d.metrics.NotificationsDispatchedTotal.WithLabelValues(string(event.Kind)).Inc()
	}

	async.SafeGo(ctx, d.timeout, "notification dispatch", func(taskCtx context.Context) error {
		if err := d.sink.Send(taskCtx, event); err != nil {
			if d.metrics != nil {
				d.metrics.NotificationFailuresTotal.Inc()
			}
			d.logger.WithError(err).
				WithField("kind", string(event.Kind)).
				WithField("target_user_id", event.TargetUserID).
				Warn("notification sink failed, event dropped")
		}
		// Swallowed: a notification failure never reaches the caller
		return nil
	})
}

// LogSink writes events to the service log. Used when no real sink is
// configured.
type LogSink struct {
	Logger *observability.Logger
}

// Send logs the event
func (s *LogSink) Send(ctx context.Context, event Event) error {
	s.Logger.WithFields(map[string]interface{}{
		"kind":           string(event.Kind),
		"target_user_id": event.TargetUserID,
		"payload":        event.Payload,
	}).Info("notification")
	return nil
}

// MemorySink collects events for tests
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Send records the event
func (s *MemorySink) Send(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of recorded events
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
