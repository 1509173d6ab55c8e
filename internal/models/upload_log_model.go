package models

import "time"

type AttemptStatus string

const (
	AttemptStatusPending    AttemptStatus = "pending"
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusSuccess    AttemptStatus = "success"
	AttemptStatusFailed     AttemptStatus = "failed"
	AttemptStatusRetrying   AttemptStatus = "retrying"
)

func (s AttemptStatus) Active() bool {
	return s == AttemptStatusPending || s == AttemptStatusInProgress || s == AttemptStatusRetrying
}

// UploadAttemptLog is the attempt lineage of one (post, platform) pair. It is
// updated in place on every retry until it reaches success or failed.
type UploadAttemptLog struct {
	ID           int64         `db:"id" json:"id"`
	PostID       int64         `db:"post_id" json:"post_id"`
	TargetIndex  int           `db:"target_index" json:"target_index"`
	Platform     string        `db:"platform" json:"platform"`
	AccountID    int64         `db:"account_id" json:"account_id"`
	Status       AttemptStatus `db:"status" json:"status"`
	AttemptCount int           `db:"attempt_count" json:"attempt_count"`
	LastAttempt  time.Time     `db:"last_attempt" json:"last_attempt"`
	Response     string        `db:"response_payload" json:"response,omitempty"`
	IsSimulated  bool          `db:"is_simulated" json:"is_simulated"`
	AttemptError
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type AttemptError struct {
	ErrorMessage string `db:"error_message" json:"error_message,omitempty"`
	ErrorCode    string `db:"error_code" json:"error_code,omitempty"`
	ErrorDetails string `db:"error_details" json:"error_details,omitempty"`
}
