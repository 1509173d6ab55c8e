// Package notify delivers terminal failure events to the notification
// subsystem.
package notify

import (
	"context"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, event models.NotificationEvent) error
}

// Log writes events to the structured log. It is the default when no
// broker is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (n *Log) Notify(ctx context.Context, event models.NotificationEvent) error {
	n.logger.WarnContext(ctx, "publish failure notification",
		"event_id", event.ID,
		"kind", event.Kind,
		"post_id", event.PostID,
		"user_id", event.UserID,
		"platform", event.Platform,
		"error_code", event.Error.ErrorCode,
		"error", event.Error.ErrorMessage,
	)
	return nil
}
