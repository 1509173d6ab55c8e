// Package publisher holds one adapter per social platform behind a single
// Publish contract, and the registry the orchestrator selects them from.
package publisher

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

const (
	PlatformInstagram = "instagram"
	PlatformTiktok    = "tiktok"
	PlatformYoutube   = "youtube"
	PlatformLinkedin  = "linkedin"
	PlatformTwitter   = "twitter"
	PlatformReddit    = "reddit"
	PlatformMedium    = "medium"
)

// Account is the decrypted credential bundle of a social account.
type Account struct {
	ID          int64
	Platform    string
	RemoteID    string
	Username    string
	AccessToken string
	TokenSecret string
}

type Content struct {
	Title    string
	Body     string
	Hashtags []string
}

type Options struct {
	PostID          int64
	Simulated       bool
	SimulationDelay time.Duration
}

type Result struct {
	RemoteID    string
	URL         string
	PublishedAt time.Time
	// Response is the raw platform payload, kept for the attempt log.
	Response string
}

type Publisher interface {
	Platform() string
	Publish(ctx context.Context, account Account, content Content, media []models.MediaItem, opts Options) (*Result, error)
}

// MediaSource opens stored media for adapters that upload bytes rather
// than pass URLs.
type MediaSource interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

type Registry struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
}

func NewRegistry(publishers ...Publisher) *Registry {
	r := &Registry{publishers: make(map[string]Publisher)}
	for _, p := range publishers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[p.Platform()] = p
}

func (r *Registry) Get(platform string) (Publisher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.publishers[platform]
	return p, ok
}

func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.publishers))
	for platform := range r.publishers {
		out = append(out, platform)
	}
	sort.Strings(out)
	return out
}

// checkAccount fails fast when the credentials belong to another platform.
func checkAccount(platform string, account Account) error {
	if account.Platform != platform {
		return ConfigurationError(platform, "account_platform_mismatch",
			fmt.Sprintf("account %d belongs to %q", account.ID, account.Platform))
	}
	return nil
}

// Simulate stands in for a real publish: it waits for the configured delay
// and returns a deterministic result without touching the network.
func Simulate(ctx context.Context, platform string, opts Options) (*Result, error) {
	if opts.SimulationDelay > 0 {
		timer := time.NewTimer(opts.SimulationDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	id := fmt.Sprintf("sim_%s_%d", platform, opts.PostID)
	return &Result{
		RemoteID:    id,
		URL:         fmt.Sprintf("https://simulated.invalid/%s/%s", platform, id),
		PublishedAt: time.Now().UTC(),
		Response:    `{"simulated":true}`,
	}, nil
}
