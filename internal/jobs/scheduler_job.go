package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/robfig/cron"
)

const dueBatchSize = 500

// TickStats summarizes one scan.
type TickStats struct {
	Due     int
	Retries int
	Errors  int
}

// Scheduler periodically submits due targets and retry candidates. It keeps
// no state besides the time of its last tick; everything durable lives in
// the posts and upload logs.
type Scheduler struct {
	posts      repository.PostRepository
	ps         service.PublishService
	dispatcher queue.Dispatcher
	clock      clock.Clock
	interval   time.Duration
	batchSize  int

	mu       sync.Mutex
	lastTick time.Time
	cron     *cron.Cron
}

func NewScheduler(
	posts repository.PostRepository,
	ps service.PublishService,
	dispatcher queue.Dispatcher,
	clk clock.Clock,
	interval time.Duration) *Scheduler {
	return &Scheduler{
		posts:      posts,
		ps:         ps,
		dispatcher: dispatcher,
		clock:      clk,
		interval:   interval,
		batchSize:  dueBatchSize,
	}
}

// Tick scans once. It returns after every unit has been submitted, not
// after they have run. A unit that cannot be submitted is logged and the
// scan goes on.
func (s *Scheduler) Tick(ctx context.Context) TickStats {
	var stats TickStats
	now := s.clock.Now()

	var cursor repository.DueCursor
	for {
		posts, err := s.posts.ListDue(ctx, now, cursor, s.batchSize)
		if err != nil {
			slog.Error("failed to list due posts", "error", err)
			stats.Errors++
			break
		}
		for _, post := range posts {
			for i, target := range post.Targets {
				if target.Status != models.TargetStatusPending {
					continue
				}
				s.submit(ctx, queue.DispatchPayload{PostID: post.ID, TargetIndex: i, Trigger: service.TriggerScheduled}, &stats.Due, &stats.Errors)
			}
			cursor = cursor.Next(post)
		}
		if len(posts) < s.batchSize || ctx.Err() != nil {
			break
		}
	}

	candidates, err := s.ps.FindRetryCandidates(ctx)
	if err != nil {
		slog.Error("failed to list retry candidates", "error", err)
		stats.Errors++
	}
	for _, log := range candidates {
		s.submit(ctx, queue.DispatchPayload{PostID: log.PostID, TargetIndex: log.TargetIndex, Trigger: service.TriggerRetry}, &stats.Retries, &stats.Errors)
	}

	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	if stats.Due+stats.Retries+stats.Errors > 0 {
		slog.Info("scheduler tick", "due", stats.Due, "retries", stats.Retries, "errors", stats.Errors)
	}
	return stats
}

func (s *Scheduler) submit(ctx context.Context, payload queue.DispatchPayload, submitted, failed *int) {
	if err := s.dispatcher.Submit(ctx, payload); err != nil {
		slog.Error("failed to submit dispatch",
			"post_id", payload.PostID,
			"target_index", payload.TargetIndex,
			"trigger", payload.Trigger,
			"error", err,
		)
		*failed++
		return
	}
	*submitted++
}

func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// Start runs Tick every interval until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if err := c.AddFunc("@every "+s.interval.String(), func() { s.Tick(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c

	slog.Info("scheduler started", "interval", s.interval)
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
	slog.Info("scheduler stopped")
}
