package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types dispatched by the orchestrator.
const (
	EventSignIn    = "sign_in"
	EventSignOut   = "sign_out"
	EventChallenge = "challenge"
)

// Event is an audit record emitted once per processed lifecycle request,
// successful or rejected.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Subject    string    `json:"subject,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
	Grant      string    `json:"grant,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent stamps an event with an id and timestamp.
func NewEvent(eventType string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
}

// Notifier receives lifecycle events. Publish returns handled=true to stop
// the remaining notifiers from seeing the event.
type Notifier interface {
	Publish(ctx context.Context, event Event) (handled bool, err error)
}

// Dispatcher fans events out to registered notifiers in registration order.
// Event delivery is strictly best-effort: notifier failures are logged and
// swallowed so an audit sink outage can never fail a token request.
type Dispatcher struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewDispatcher wires the event dispatcher.
func NewDispatcher(notifiers []Notifier, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.L()
	}
	return &Dispatcher{notifiers: notifiers, logger: logger}
}

// Dispatch delivers the event to each notifier until one reports it handled.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	for _, notifier := range d.notifiers {
		handled, err := notifier.Publish(ctx, event)
		if err != nil {
			d.logger.Warn("event notifier failed",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type),
				zap.Error(err))
			continue
		}
		if handled {
			return
		}
	}
}
