package transfer

import (
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

type TargetRequest struct {
	Platform  string `json:"platform"`
	AccountID int64  `json:"account_id"`
}

type PostCreation struct {
	Title         string
	Body          string
	Hashtags      []string
	ScheduledTime time.Time
	Targets       []TargetRequest
	Simulated     bool
	Captions      []string
}

type PostCreated struct {
	ID            int64     `json:"id"`
	Status        string    `json:"status"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

// TargetStatus is one platform entry of the upload status surface.
type TargetStatus struct {
	Platform    string                   `json:"platform"`
	AccountID   int64                    `json:"account_id"`
	Status      models.TargetStatus      `json:"status"`
	RemoteID    string                   `json:"remote_id,omitempty"`
	RemoteURL   string                   `json:"remote_url,omitempty"`
	PublishedAt *time.Time               `json:"published_at,omitempty"`
	Analytics   models.Analytics         `json:"analytics"`
	LastAttempt *models.UploadAttemptLog `json:"last_attempt,omitempty"`
}

type UploadStatus struct {
	PostID        int64             `json:"post_id"`
	Status        models.PostStatus `json:"status"`
	ScheduledTime time.Time         `json:"scheduled_time"`
	IsSimulated   bool              `json:"is_simulated"`
	Targets       []TargetStatus    `json:"targets"`
}
