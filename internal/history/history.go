package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType names a state transition of an application, domain or proxy site.
type EventType string

const (
	EventApplicationCreated EventType = "application.created"
	EventApplicationUpdated EventType = "application.updated"
	EventApplicationStarted EventType = "application.started"
	EventApplicationStopped EventType = "application.stopped"
	EventApplicationRemoved EventType = "application.removed"
	EventDomainCreated      EventType = "domain.created"
	EventDomainActivated    EventType = "domain.activated"
	EventDomainDeactivated  EventType = "domain.deactivated"
	EventDomainRemoved      EventType = "domain.removed"
	EventProxyCreated       EventType = "proxy.created"
	EventProxyRemoved       EventType = "proxy.removed"
	EventImportCompleted    EventType = "import.completed"
)

// Event represents a lifecycle event to be exported to external systems.
// Error is set when the transition failed.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Subject    string            `json:"subject"`
	OccurredAt time.Time         `json:"occurred_at"`
	Detail     map[string]string `json:"detail,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// NewEvent stamps a fresh ID and the current time.
func NewEvent(typ EventType, subject string, detail map[string]string, err error) Event {
	e := Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
		Detail:     detail,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder fans an event out to every sink. Delivery is best-effort: sink
// errors are logged and never returned to the caller.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
}

func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, timeout: 5 * time.Second}
}

// Record delivers e. A nil Recorder is a no-op.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		if err := s.Send(sctx, e); err != nil {
			slog.Warn("history sink failed", "type", e.Type, "subject", e.Subject, "error", err)
		}
		cancel()
	}
}

// Close closes every sink that supports it.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	return nil
}
