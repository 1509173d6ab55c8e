package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/lock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/notify"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Trigger says why a dispatch was submitted.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerRetry     Trigger = "retry"
	TriggerManual    Trigger = "manual"
)

type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomePublished Outcome = "published"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFailed    Outcome = "failed"
)

type PublishService interface {
	// Dispatch drives one (post, platform) pair through a single attempt.
	// Publish failures are recorded, not returned; only structural errors
	// such as a missing post or account come back.
	Dispatch(ctx context.Context, postID int64, targetIndex int, trigger Trigger) (Outcome, error)
	// RetryAttempt re-dispatches a retrying lineage immediately, ignoring
	// its backoff.
	RetryAttempt(ctx context.Context, logID int64) (Outcome, error)
	FindRetryCandidates(ctx context.Context) ([]*models.UploadAttemptLog, error)
}

type publishService struct {
	cfg      config.Config
	store    repository.Store
	logs     *UploadLogService
	registry *publisher.Registry
	locker   lock.Locker
	notifier notify.Notifier
	clock    clock.Clock
}

func NewPublishService(
	cfg config.Config,
	store repository.Store,
	logs *UploadLogService,
	registry *publisher.Registry,
	locker lock.Locker,
	notifier notify.Notifier,
	clk clock.Clock) PublishService {
	return &publishService{
		cfg:      cfg,
		store:    store,
		logs:     logs,
		registry: registry,
		locker:   locker,
		notifier: notifier,
		clock:    clk,
	}
}

func (s *publishService) Dispatch(ctx context.Context, postID int64, targetIndex int, trigger Trigger) (Outcome, error) {
	post, err := s.store.Posts().GetByID(ctx, postID)
	if err != nil {
		return "", fmt.Errorf("failed to load post %d: %w", postID, err)
	}
	if post == nil {
		return OutcomeSkipped, fmt.Errorf("%w: %d", ErrPostNotFound, postID)
	}
	target := post.Target(targetIndex)
	if target == nil {
		return OutcomeSkipped, fmt.Errorf("%w: post %d index %d", ErrTargetNotFound, postID, targetIndex)
	}
	platform := target.Platform

	key := lock.PairKey(postID, platform)
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to lock %s: %w", key, err)
	}
	defer unlock()

	// Everything read before the lock may be stale.
	post, err = s.store.Posts().GetByID(ctx, postID)
	if err != nil {
		return "", fmt.Errorf("failed to load post %d: %w", postID, err)
	}
	if post == nil {
		return OutcomeSkipped, fmt.Errorf("%w: %d", ErrPostNotFound, postID)
	}

	active, err := s.store.UploadLogs().GetActive(ctx, postID, platform)
	if err != nil {
		return "", fmt.Errorf("failed to load active attempt: %w", err)
	}

	target = post.Target(targetIndex)
	if reason := s.skipReason(post, target, platform, active, trigger); reason != "" {
		slog.Debug("dispatch skipped", "post_id", postID, "platform", platform, "trigger", trigger, "reason", reason)
		return OutcomeSkipped, nil
	}

	account, err := s.store.SocialAccounts().GetByID(ctx, target.AccountID)
	if err != nil {
		return "", fmt.Errorf("failed to load social account %d: %w", target.AccountID, err)
	}
	if account == nil {
		return "", fmt.Errorf("%w: %d", ErrAccountNotFound, target.AccountID)
	}

	adapter, known := s.registry.Get(platform)

	attempt, err := s.logs.RecordAttemptStart(ctx, postID, targetIndex, platform, account.ID, post.IsSimulated)
	if err != nil {
		return "", err
	}

	var result *publisher.Result
	var pubErr error
	if !known {
		pubErr = publisher.ConfigurationError(platform, "unknown_platform", fmt.Sprintf("no publisher registered for %q", platform))
	} else if creds, err := s.credentials(account); err != nil {
		pubErr = err
	} else {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout(platform))
		result, pubErr = adapter.Publish(pctx, creds, content(post), post.Media, publisher.Options{
			PostID:          post.ID,
			Simulated:       post.IsSimulated,
			SimulationDelay: s.cfg.SimulationDelay,
		})
		cancel()
	}

	slog.Info("publish attempt finished",
		"post_id", postID,
		"platform", platform,
		"attempt", attempt.AttemptCount,
		"trigger", trigger,
		"simulated", post.IsSimulated,
		"error", pubErr,
	)

	return s.commit(ctx, postID, targetIndex, attempt.ID, result, pubErr)
}

func (s *publishService) skipReason(post *models.Post, target *models.PlatformTarget, platform string, active *models.UploadAttemptLog, trigger Trigger) string {
	if target == nil || target.Platform != platform {
		return "target removed"
	}
	if target.Status != models.TargetStatusPending {
		return "target already " + string(target.Status)
	}

	switch trigger {
	case TriggerScheduled:
		if post.Status != models.PostStatusScheduled || post.ScheduledTime.After(s.clock.Now()) {
			return "post not due"
		}
		if active != nil && active.Status == models.AttemptStatusRetrying {
			return "retry pending"
		}
	case TriggerRetry:
		if active == nil || !s.logs.Policy().Due(active, s.clock.Now()) {
			return "retry not due"
		}
	case TriggerManual:
		if active == nil || active.Status != models.AttemptStatusRetrying {
			return "no retrying attempt"
		}
	}
	return ""
}

// commit records the outcome and the target and post status in one
// transaction, then raises a notification for terminal failures.
func (s *publishService) commit(ctx context.Context, postID int64, targetIndex int, logID int64, result *publisher.Result, pubErr error) (Outcome, error) {
	var outcome Outcome
	var event *models.NotificationEvent

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		post, err := tx.Posts().GetForUpdate(ctx, postID)
		if err != nil {
			return fmt.Errorf("failed to lock post %d: %w", postID, err)
		}
		if post == nil {
			return fmt.Errorf("%w: %d", ErrPostNotFound, postID)
		}
		target := post.Target(targetIndex)
		if target == nil {
			return fmt.Errorf("%w: post %d index %d", ErrTargetNotFound, postID, targetIndex)
		}

		attempt, err := s.logs.WithStore(tx).RecordAttemptResult(ctx, logID, result, pubErr)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		switch attempt.Status {
		case models.AttemptStatusSuccess:
			outcome = OutcomePublished
			target.Status = models.TargetStatusPublished
			publishedAt := now
			if result != nil {
				target.RemoteID = result.RemoteID
				target.RemoteURL = result.URL
				if !result.PublishedAt.IsZero() {
					publishedAt = result.PublishedAt
				}
			}
			target.PublishedAt = &publishedAt
		case models.AttemptStatusFailed:
			outcome = OutcomeFailed
			target.Status = models.TargetStatusFailed
		default:
			outcome = OutcomeRetrying
		}

		if outcome != OutcomeRetrying {
			target.UpdatedAt = now
			if err := tx.Posts().UpdateTarget(ctx, target); err != nil {
				return fmt.Errorf("failed to update target: %w", err)
			}
		}

		previous := post.Status
		next := post.DeriveStatus()
		if next != previous {
			if err := tx.Posts().UpdatePostStatus(ctx, next, post.ID); err != nil {
				return fmt.Errorf("failed to update post status: %w", err)
			}
		}

		event = failureEvent(post, target, attempt, previous, next, now)
		return nil
	})
	if err != nil {
		return "", err
	}

	if event != nil {
		if event.ID, err = gonanoid.New(); err != nil {
			slog.Error("failed to create notification id", "error", err)
		}
		if err := s.notifier.Notify(ctx, *event); err != nil {
			// the transition is committed; the event is not redelivered
			slog.Error("failed to send notification", "event_id", event.ID, "post_id", postID, "kind", event.Kind, "error", err)
		}
	}
	return outcome, nil
}

// failureEvent returns at most one event per transition. A target failure
// that also fails the post is reported as post_failed only.
func failureEvent(post *models.Post, target *models.PlatformTarget, attempt *models.UploadAttemptLog, previous, next models.PostStatus, now time.Time) *models.NotificationEvent {
	targetFailed := attempt.Status == models.AttemptStatusFailed

	var kind models.NotificationKind
	switch {
	case next == models.PostStatusFailed && previous != models.PostStatusFailed:
		kind = models.NotificationPostFailed
	case targetFailed:
		kind = models.NotificationTargetFailed
	default:
		return nil
	}

	event := &models.NotificationEvent{
		Kind:       kind,
		PostID:     post.ID,
		UserID:     post.UserID,
		OccurredAt: now,
	}
	if targetFailed {
		event.Platform = target.Platform
		event.AccountID = target.AccountID
		event.Error = attempt.AttemptError
	}
	return event
}

func (s *publishService) RetryAttempt(ctx context.Context, logID int64) (Outcome, error) {
	attempt, err := s.store.UploadLogs().GetByID(ctx, logID)
	if err != nil {
		return "", fmt.Errorf("failed to load attempt %d: %w", logID, err)
	}
	if attempt == nil {
		return "", fmt.Errorf("%w: %d", ErrAttemptNotFound, logID)
	}
	if !attempt.Status.Active() {
		return "", fmt.Errorf("%w: attempt %d is %s", ErrAttemptNotRetryable, logID, attempt.Status)
	}
	return s.Dispatch(ctx, attempt.PostID, attempt.TargetIndex, TriggerManual)
}

func (s *publishService) FindRetryCandidates(ctx context.Context) ([]*models.UploadAttemptLog, error) {
	return s.logs.FindRetryCandidates(ctx, s.clock.Now())
}

// credentials decrypts the account tokens. Without a secret key tokens are
// taken as stored, which is how development databases are seeded.
func (s *publishService) credentials(account *models.SocialAccount) (publisher.Account, error) {
	creds := publisher.Account{
		ID:          account.ID,
		Platform:    account.Platform,
		RemoteID:    account.AccountID,
		Username:    account.AccountUsername,
		AccessToken: account.AccessToken,
		TokenSecret: account.TokenSecret,
	}
	if s.cfg.SecretKey == "" {
		return creds, nil
	}

	var err error
	key := []byte(s.cfg.SecretKey)
	if creds.AccessToken, err = decryptOptional(account.AccessToken, key); err != nil {
		return creds, publisher.ConfigurationError(account.Platform, "credentials", "failed to decrypt access token")
	}
	if creds.TokenSecret, err = decryptOptional(account.TokenSecret, key); err != nil {
		return creds, publisher.ConfigurationError(account.Platform, "credentials", "failed to decrypt token secret")
	}
	return creds, nil
}

func decryptOptional(value string, key []byte) (string, error) {
	if value == "" {
		return "", nil
	}
	return utils.Decrypt(value, key)
}

func content(post *models.Post) publisher.Content {
	return publisher.Content{
		Title:    post.Title,
		Body:     post.Body,
		Hashtags: []string(post.Hashtags),
	}
}

// IsSkippable reports errors after which the unit of work is simply dropped.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrPostNotFound) || errors.Is(err, ErrTargetNotFound)
}
