package service

import (
	"context"
	"sync"
	"testing"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/lock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/repository/memory"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakePublisher returns the queued errors in order, then succeeds.
type fakePublisher struct {
	platform string

	mu          sync.Mutex
	calls       int
	inflight    int
	maxInflight int
	account     publisher.Account
	errs        []error
	release     chan struct{}
	started     chan struct{}
}

func newFake(platform string, errs ...error) *fakePublisher {
	return &fakePublisher{platform: platform, errs: errs}
}

func (f *fakePublisher) Platform() string { return f.platform }

func (f *fakePublisher) Publish(ctx context.Context, account publisher.Account, content publisher.Content, media []models.MediaItem, opts publisher.Options) (*publisher.Result, error) {
	f.mu.Lock()
	f.calls++
	f.inflight++
	f.maxInflight = max(f.maxInflight, f.inflight)
	f.account = account
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	started, release := f.started, f.release
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &publisher.Result{
		RemoteID: f.platform + "_remote",
		URL:      "https://" + f.platform + ".invalid/p/1",
		Response: `{"ok":true}`,
	}, nil
}

func (f *fakePublisher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingNotifier keeps every event it is given and answers with err.
type recordingNotifier struct {
	mu     sync.Mutex
	events []models.NotificationEvent
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, event models.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Events() []models.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.NotificationEvent(nil), n.events...)
}

type fixture struct {
	store    *memory.Store
	clock    *clock.Fake
	notifier *recordingNotifier
	registry *publisher.Registry
	logs     *UploadLogService
	svc      PublishService
	userID   int64
}

func testConfig() config.Config {
	return config.Config{
		MaxAttempts:     4,
		RetryBaseDelay:  60 * time.Second,
		RetryMaxDelay:   time.Hour,
		DefaultTimeout:  time.Second,
		PublishTimeouts: map[string]time.Duration{},
	}
}

func newFixture(t *testing.T, cfg config.Config, publishers ...publisher.Publisher) *fixture {
	t.Helper()

	f := &fixture{
		store:    memory.New(),
		clock:    clock.NewFake(t0),
		notifier: &recordingNotifier{},
		registry: publisher.NewRegistry(publishers...),
		userID:   7,
	}
	f.logs = NewUploadLogService(f.store, f.clock, cfg.Policy())
	f.svc = NewPublishService(cfg, f.store, f.logs, f.registry, lock.NewLocal(), f.notifier, f.clock)
	return f
}

func (f *fixture) account(platform string) int64 {
	return f.store.AddAccount(&models.SocialAccount{
		UserID:          f.userID,
		Platform:        platform,
		AccountID:       platform + "-remote",
		AccountUsername: "postflow",
		AccessToken:     "token",
	})
}

// duePost stores a scheduled post, due one minute ago, targeting platforms.
func (f *fixture) duePost(t *testing.T, simulated bool, platforms ...string) *models.Post {
	t.Helper()

	post := &models.Post{
		UserID:        f.userID,
		Body:          "launch day",
		Hashtags:      []string{"go"},
		ScheduledTime: f.clock.Now().Add(-time.Minute),
		Status:        models.PostStatusScheduled,
		IsSimulated:   simulated,
	}
	for _, p := range platforms {
		post.Targets = append(post.Targets, models.PlatformTarget{
			Platform:  p,
			AccountID: f.account(p),
			Status:    models.TargetStatusPending,
		})
	}
	_, err := f.store.Posts().Create(context.Background(), post)
	require.NoError(t, err)
	return post
}

func (f *fixture) post(t *testing.T, id int64) *models.Post {
	t.Helper()
	p, err := f.store.Posts().GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (f *fixture) active(t *testing.T, postID int64, platform string) *models.UploadAttemptLog {
	t.Helper()
	l, err := f.store.UploadLogs().GetActive(context.Background(), postID, platform)
	require.NoError(t, err)
	return l
}

func (f *fixture) latest(t *testing.T, postID int64, platform string) *models.UploadAttemptLog {
	t.Helper()
	logs, err := f.store.UploadLogs().ListLatestByPost(context.Background(), postID)
	require.NoError(t, err)
	for _, l := range logs {
		if l.Platform == platform {
			return l
		}
	}
	return nil
}
