package models

import (
	"time"

	"github.com/lib/pq"
)

type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusScheduled PostStatus = "scheduled"
	PostStatusPublished PostStatus = "published"
	PostStatusFailed    PostStatus = "failed"
)

type TargetStatus string

const (
	TargetStatusPending   TargetStatus = "pending"
	TargetStatusPublished TargetStatus = "published"
	TargetStatusFailed    TargetStatus = "failed"
)

func (s TargetStatus) Terminal() bool {
	return s == TargetStatusPublished || s == TargetStatusFailed
}

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
	MediaTypeGIF   MediaType = "gif"
)

func (m MediaType) Valid() bool {
	switch m {
	case MediaTypeImage, MediaTypeVideo, MediaTypeGIF:
		return true
	}
	return false
}

type Post struct {
	ID            int64            `db:"id" json:"id"`
	UserID        int64            `db:"user_id" json:"user_id"`
	Title         string           `db:"title" json:"title"`
	Body          string           `db:"body" json:"body"`
	Hashtags      pq.StringArray   `db:"hashtags" json:"hashtags"`
	ScheduledTime time.Time        `db:"scheduled_time" json:"scheduled_time"`
	Status        PostStatus       `db:"status" json:"status"`
	IsSimulated   bool             `db:"is_simulated" json:"is_simulated"`
	Media         []MediaItem      `db:"-" json:"media"`
	Targets       []PlatformTarget `db:"-" json:"targets"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

type MediaItem struct {
	PostID    int64     `db:"post_id" json:"-"`
	Position  int       `db:"position" json:"position"`
	URL       string    `db:"url" json:"url"`
	MediaType MediaType `db:"media_type" json:"type"`
	Caption   string    `db:"caption" json:"caption,omitempty"`
}

// PlatformTarget is owned by its Post; Position is its index in Post.Targets.
type PlatformTarget struct {
	PostID      int64        `db:"post_id" json:"-"`
	Position    int          `db:"position" json:"position"`
	Platform    string       `db:"platform" json:"platform"`
	AccountID   int64        `db:"account_id" json:"account_id"`
	RemoteID    string       `db:"remote_id" json:"remote_id,omitempty"`
	Status      TargetStatus `db:"status" json:"status"`
	PublishedAt *time.Time   `db:"published_at" json:"published_at,omitempty"`
	RemoteURL   string       `db:"remote_url" json:"remote_url,omitempty"`
	Analytics
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Analytics is filled in later by the analytics collector; every field is optional.
type Analytics struct {
	Likes          *int64   `db:"likes" json:"likes,omitempty"`
	Comments       *int64   `db:"comments" json:"comments,omitempty"`
	Shares         *int64   `db:"shares" json:"shares,omitempty"`
	Reach          *int64   `db:"reach" json:"reach,omitempty"`
	Impressions    *int64   `db:"impressions" json:"impressions,omitempty"`
	EngagementRate *float64 `db:"engagement_rate" json:"engagement_rate,omitempty"`
}

// Target returns the target at index, or nil if out of range.
func (p *Post) Target(index int) *PlatformTarget {
	if index < 0 || index >= len(p.Targets) {
		return nil
	}
	return &p.Targets[index]
}

func (p *Post) TargetIndex(platform string) int {
	for i := range p.Targets {
		if p.Targets[i].Platform == platform {
			return i
		}
	}
	return -1
}

// DeriveStatus computes the overall status from the targets: published once
// every target is published, failed once nothing is pending and at least one
// target failed, scheduled otherwise.
func (p *Post) DeriveStatus() PostStatus {
	if len(p.Targets) == 0 {
		return p.Status
	}

	pending, failed := 0, 0
	for _, t := range p.Targets {
		switch t.Status {
		case TargetStatusPending:
			pending++
		case TargetStatusFailed:
			failed++
		}
	}

	switch {
	case pending == 0 && failed == 0:
		return PostStatusPublished
	case pending == 0:
		return PostStatusFailed
	default:
		return PostStatusScheduled
	}
}
