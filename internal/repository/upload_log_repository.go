package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/maheshrc27/postflow/internal/models"
)

type UploadLogRepository interface {
	Create(ctx context.Context, log *models.UploadAttemptLog) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.UploadAttemptLog, error)
	// GetActive returns the non-terminal lineage of a (post, platform) pair.
	GetActive(ctx context.Context, postID int64, platform string) (*models.UploadAttemptLog, error)
	Update(ctx context.Context, log *models.UploadAttemptLog) error
	ListRetryCandidates(ctx context.Context, now time.Time, policy models.RetryPolicy) ([]*models.UploadAttemptLog, error)
	// ListLatestByPost returns the most recent lineage per platform.
	ListLatestByPost(ctx context.Context, postID int64) ([]*models.UploadAttemptLog, error)
}

type uploadLogRepository struct {
	db sqlx.ExtContext
}

func NewUploadLogRepository(db sqlx.ExtContext) UploadLogRepository {
	return &uploadLogRepository{db: db}
}

const uploadLogColumns = `id, post_id, target_index, platform, account_id, status, attempt_count, last_attempt,
	response_payload, is_simulated, error_message, error_code, error_details, created_at, updated_at`

func (r *uploadLogRepository) Create(ctx context.Context, log *models.UploadAttemptLog) (int64, error) {
	query := `
		INSERT INTO upload_attempt_logs (
			post_id, target_index, platform, account_id, status, attempt_count,
			last_attempt, response_payload, is_simulated, error_message, error_code, error_details
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		log.PostID,
		log.TargetIndex,
		log.Platform,
		log.AccountID,
		log.Status,
		log.AttemptCount,
		log.LastAttempt,
		log.Response,
		log.IsSimulated,
		log.ErrorMessage,
		log.ErrorCode,
		log.ErrorDetails,
	).Scan(&log.ID, &log.CreatedAt, &log.UpdatedAt)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return log.ID, nil
}

func (r *uploadLogRepository) GetByID(ctx context.Context, id int64) (*models.UploadAttemptLog, error) {
	return r.getOne(ctx, `SELECT `+uploadLogColumns+` FROM upload_attempt_logs WHERE id = $1`, id)
}

func (r *uploadLogRepository) GetActive(ctx context.Context, postID int64, platform string) (*models.UploadAttemptLog, error) {
	query := `
		SELECT ` + uploadLogColumns + ` FROM upload_attempt_logs
		WHERE post_id = $1 AND platform = $2 AND status IN ($3, $4, $5)
	`
	return r.getOne(ctx, query, postID, platform,
		models.AttemptStatusPending, models.AttemptStatusInProgress, models.AttemptStatusRetrying)
}

func (r *uploadLogRepository) getOne(ctx context.Context, query string, args ...any) (*models.UploadAttemptLog, error) {
	var log models.UploadAttemptLog
	if err := sqlx.GetContext(ctx, r.db, &log, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return &log, nil
}

func (r *uploadLogRepository) Update(ctx context.Context, log *models.UploadAttemptLog) error {
	query := `
		UPDATE upload_attempt_logs
		SET status = :status,
			account_id = :account_id,
			attempt_count = :attempt_count,
			last_attempt = :last_attempt,
			response_payload = :response_payload,
			is_simulated = :is_simulated,
			error_message = :error_message,
			error_code = :error_code,
			error_details = :error_details,
			updated_at = :updated_at
		WHERE id = :id
	`
	_, err := sqlx.NamedExecContext(ctx, r.db, query, log)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *uploadLogRepository) ListRetryCandidates(ctx context.Context, now time.Time, policy models.RetryPolicy) ([]*models.UploadAttemptLog, error) {
	// backoff(n) = base * 2^(n-1), capped
	query := `
		SELECT ` + uploadLogColumns + ` FROM upload_attempt_logs
		WHERE status = $1
		  AND attempt_count < $2
		  AND last_attempt + LEAST($3 * POWER(2, attempt_count - 1), $4) * INTERVAL '1 second' <= $5
		ORDER BY last_attempt
	`

	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = policy.Backoff(policy.MaxAttempts)
	}

	var logs []*models.UploadAttemptLog
	err := sqlx.SelectContext(ctx, r.db, &logs, query,
		models.AttemptStatusRetrying,
		policy.MaxAttempts,
		policy.BaseDelay.Seconds(),
		maxDelay.Seconds(),
		now,
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return logs, nil
}

func (r *uploadLogRepository) ListLatestByPost(ctx context.Context, postID int64) ([]*models.UploadAttemptLog, error) {
	query := `
		SELECT DISTINCT ON (platform) ` + uploadLogColumns + ` FROM upload_attempt_logs
		WHERE post_id = $1
		ORDER BY platform, id DESC
	`
	var logs []*models.UploadAttemptLog
	if err := sqlx.SelectContext(ctx, r.db, &logs, query, postID); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return logs, nil
}
