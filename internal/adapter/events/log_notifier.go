package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/trentmillar/keystone-net/internal/lifecycle"
)

// LogNotifier writes every event to the structured log. It is always
// registered last so it only sees events no other notifier claimed.
type LogNotifier struct {
	logger *zap.Logger
}

var _ lifecycle.Notifier = (*LogNotifier)(nil)

// NewLogNotifier constructs the logging event sink.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.L()
	}
	return &LogNotifier{logger: logger}
}

// Publish logs the event and claims it.
func (n *LogNotifier) Publish(_ context.Context, event lifecycle.Event) (bool, error) {
	n.logger.Info("lifecycle event",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("subject", event.Subject),
		zap.String("client_id", event.ClientID),
		zap.String("grant", event.Grant),
		zap.String("error_code", event.ErrorCode),
		zap.Time("occurred_at", event.OccurredAt))
	return true, nil
}
