package models

import "time"

type NotificationKind string

const (
	NotificationTargetFailed NotificationKind = "target_failed"
	NotificationPostFailed   NotificationKind = "post_failed"
)

type NotificationEvent struct {
	ID         string           `json:"id"`
	Kind       NotificationKind `json:"kind"`
	PostID     int64            `json:"post_id"`
	UserID     int64            `json:"user_id"`
	Platform   string           `json:"platform,omitempty"`
	AccountID  int64            `json:"account_id,omitempty"`
	Error      AttemptError     `json:"error"`
	OccurredAt time.Time        `json:"occurred_at"`
}
