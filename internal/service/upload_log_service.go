package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/repository"
)

// UploadLogService owns the attempt lineage of every (post, platform) pair.
// Callers hold the pair lock while recording.
type UploadLogService struct {
	store  repository.Store
	clock  clock.Clock
	policy models.RetryPolicy
}

func NewUploadLogService(store repository.Store, clk clock.Clock, policy models.RetryPolicy) *UploadLogService {
	return &UploadLogService{store: store, clock: clk, policy: policy}
}

// WithStore returns a copy bound to store, typically a transaction.
func (s *UploadLogService) WithStore(store repository.Store) *UploadLogService {
	c := *s
	c.store = store
	return &c
}

func (s *UploadLogService) Policy() models.RetryPolicy { return s.policy }

// RecordAttemptStart marks the pair in progress. An active lineage is reused
// and its attempt count incremented; otherwise a new lineage starts at 1.
func (s *UploadLogService) RecordAttemptStart(ctx context.Context, postID int64, targetIndex int, platform string, accountID int64, simulated bool) (*models.UploadAttemptLog, error) {
	now := s.clock.Now()
	logs := s.store.UploadLogs()

	log, err := logs.GetActive(ctx, postID, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to load active attempt: %w", err)
	}

	if log != nil {
		log.AttemptCount++
		log.Status = models.AttemptStatusInProgress
		log.LastAttempt = now
		log.AccountID = accountID
		log.IsSimulated = simulated
		log.UpdatedAt = now
		if err := logs.Update(ctx, log); err != nil {
			return nil, fmt.Errorf("failed to update attempt %d: %w", log.ID, err)
		}
		return log, nil
	}

	log = &models.UploadAttemptLog{
		PostID:       postID,
		TargetIndex:  targetIndex,
		Platform:     platform,
		AccountID:    accountID,
		Status:       models.AttemptStatusInProgress,
		AttemptCount: 1,
		LastAttempt:  now,
		IsSimulated:  simulated,
	}
	if _, err := logs.Create(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}
	return log, nil
}

// RecordAttemptResult stores the outcome of the attempt. A failure leaves the
// lineage retrying while it is retryable and under the attempt budget, and
// failed otherwise.
func (s *UploadLogService) RecordAttemptResult(ctx context.Context, logID int64, result *publisher.Result, pubErr error) (*models.UploadAttemptLog, error) {
	logs := s.store.UploadLogs()

	log, err := logs.GetByID(ctx, logID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt %d: %w", logID, err)
	}
	if log == nil {
		return nil, fmt.Errorf("%w: %d", ErrAttemptNotFound, logID)
	}

	now := s.clock.Now()
	log.LastAttempt = now
	log.UpdatedAt = now

	if pubErr == nil {
		log.Status = models.AttemptStatusSuccess
		log.AttemptError = models.AttemptError{}
		if result != nil {
			log.Response = result.Response
		}
	} else {
		e := publisher.Classify(pubErr)
		if e.Retryable() && log.AttemptCount < s.policy.MaxAttempts {
			log.Status = models.AttemptStatusRetrying
		} else {
			log.Status = models.AttemptStatusFailed
		}
		log.AttemptError = attemptError(e)
	}

	if err := logs.Update(ctx, log); err != nil {
		return nil, fmt.Errorf("failed to update attempt %d: %w", log.ID, err)
	}
	return log, nil
}

func (s *UploadLogService) FindRetryCandidates(ctx context.Context, now time.Time) ([]*models.UploadAttemptLog, error) {
	return s.store.UploadLogs().ListRetryCandidates(ctx, now, s.policy)
}

type errorDetails struct {
	Kind       publisher.Kind `json:"kind"`
	Platform   string         `json:"platform,omitempty"`
	RetryAfter string         `json:"retry_after,omitempty"`
	Details    string         `json:"details,omitempty"`
}

func attemptError(e *publisher.Error) models.AttemptError {
	d := errorDetails{Kind: e.Kind, Platform: e.Platform, Details: e.Details}
	if e.RetryAfter > 0 {
		d.RetryAfter = e.RetryAfter.String()
	}
	details, _ := json.Marshal(d)

	code := e.Code
	if code == "" {
		code = string(e.Kind)
	}
	return models.AttemptError{
		ErrorMessage: e.Message,
		ErrorCode:    code,
		ErrorDetails: string(details),
	}
}
