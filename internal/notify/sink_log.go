package notify

import (
	"context"
	"log/slog"
)

// LogSink writes notifications to the structured log. Used when no broker is
// configured and as the fallback while the primary sink's circuit is open.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(ctx context.Context, n Notification) error {
	s.logger.InfoContext(ctx, "notification",
		"log_type", "notification",
		"notification_id", n.ID,
		"kind", n.Kind,
		"recipient_type", n.RecipientType,
		"recipient_id", n.RecipientID,
		"title", n.Title,
	)
	return nil
}
