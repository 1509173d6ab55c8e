package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, post *models.Post) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	// GetForUpdate loads the post and locks its row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*models.Post, error)
	ListDue(ctx context.Context, now time.Time, after DueCursor, limit int) ([]*models.Post, error)
	UpdateTarget(ctx context.Context, target *models.PlatformTarget) error
	UpdatePostStatus(ctx context.Context, status models.PostStatus, postID int64) error
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
}

// DueCursor is the keyset position of the last post of a ListDue page. The
// zero value starts at the beginning.
type DueCursor struct {
	ScheduledTime time.Time
	ID            int64
}

// Next returns the cursor positioned after post.
func (c DueCursor) Next(post *models.Post) DueCursor {
	return DueCursor{ScheduledTime: post.ScheduledTime, ID: post.ID}
}

// After reports whether post sorts after the cursor.
func (c DueCursor) After(post *models.Post) bool {
	if post.ScheduledTime.Equal(c.ScheduledTime) {
		return post.ID > c.ID
	}
	return post.ScheduledTime.After(c.ScheduledTime)
}

type postRepository struct {
	db sqlx.ExtContext
}

func NewPostRepository(db sqlx.ExtContext) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, user_id, title, body, hashtags, scheduled_time, status, is_simulated, created_at, updated_at`

const targetColumns = `post_id, position, platform, account_id, remote_id, status, published_at, remote_url,
	likes, comments, shares, reach, impressions, engagement_rate, updated_at`

func (r *postRepository) Create(ctx context.Context, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, title, body, hashtags, scheduled_time, status, is_simulated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	hashtags := post.Hashtags
	if hashtags == nil {
		hashtags = pq.StringArray{}
	}

	err := r.db.QueryRowxContext(ctx, query,
		post.UserID,
		post.Title,
		post.Body,
		hashtags,
		post.ScheduledTime,
		post.Status,
		post.IsSimulated,
	).Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	for i := range post.Media {
		m := &post.Media[i]
		m.PostID = post.ID
		m.Position = i
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO post_media (post_id, position, url, media_type, caption) VALUES ($1, $2, $3, $4, $5)`,
			m.PostID, m.Position, m.URL, m.MediaType, m.Caption)
		if err != nil {
			slog.Info(err.Error())
			return 0, err
		}
	}

	for i := range post.Targets {
		t := &post.Targets[i]
		t.PostID = post.ID
		t.Position = i
		t.UpdatedAt = post.UpdatedAt
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO post_targets (post_id, position, platform, account_id, status) VALUES ($1, $2, $3, $4, $5)`,
			t.PostID, t.Position, t.Platform, t.AccountID, t.Status)
		if err != nil {
			slog.Info(err.Error())
			return 0, err
		}
	}

	return post.ID, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	return r.get(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
}

func (r *postRepository) GetForUpdate(ctx context.Context, id int64) (*models.Post, error) {
	return r.get(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1 FOR UPDATE`, id)
}

func (r *postRepository) get(ctx context.Context, query string, id int64) (*models.Post, error) {
	var post models.Post
	if err := sqlx.GetContext(ctx, r.db, &post, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	if err := sqlx.SelectContext(ctx, r.db, &post.Media,
		`SELECT post_id, position, url, media_type, caption FROM post_media WHERE post_id = $1 ORDER BY position`, id); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	if err := sqlx.SelectContext(ctx, r.db, &post.Targets,
		`SELECT `+targetColumns+` FROM post_targets WHERE post_id = $1 ORDER BY position`, id); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &post, nil
}

// ListDue returns one page of scheduled posts whose time has come and that
// still have a pending target not waiting out a retry backoff. Pages are
// ordered by (scheduled_time, id) and start after the cursor. Only targets
// are attached; media is loaded at dispatch.
func (r *postRepository) ListDue(ctx context.Context, now time.Time, after DueCursor, limit int) ([]*models.Post, error) {
	query := `
		SELECT ` + postColumns + ` FROM posts p
		WHERE p.status = $1
		  AND p.scheduled_time <= $2
		  AND (p.scheduled_time, p.id) > ($3, $4)
		  AND EXISTS (
			SELECT 1 FROM post_targets t
			WHERE t.post_id = p.id AND t.status = $5
			  AND NOT EXISTS (
				SELECT 1 FROM upload_attempt_logs l
				WHERE l.post_id = t.post_id AND l.platform = t.platform AND l.status = $6
			  )
		  )
		ORDER BY p.scheduled_time, p.id
		LIMIT $7
	`

	var posts []*models.Post
	err := sqlx.SelectContext(ctx, r.db, &posts, query,
		models.PostStatusScheduled, now, after.ScheduledTime, after.ID,
		models.TargetStatusPending, models.AttemptStatusRetrying, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	if len(posts) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(posts))
	byID := make(map[int64]*models.Post, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	var targets []models.PlatformTarget
	err = sqlx.SelectContext(ctx, r.db, &targets,
		`SELECT `+targetColumns+` FROM post_targets WHERE post_id = ANY($1) ORDER BY post_id, position`,
		pq.Array(ids))
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	for _, t := range targets {
		p := byID[t.PostID]
		p.Targets = append(p.Targets, t)
	}

	return posts, nil
}

func (r *postRepository) UpdateTarget(ctx context.Context, target *models.PlatformTarget) error {
	query := `
		UPDATE post_targets
		SET remote_id = :remote_id,
			status = :status,
			published_at = :published_at,
			remote_url = :remote_url,
			updated_at = :updated_at
		WHERE post_id = :post_id AND position = :position
	`
	_, err := sqlx.NamedExecContext(ctx, r.db, query, target)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) UpdatePostStatus(ctx context.Context, status models.PostStatus, postID int64) error {
	query := `
		UPDATE posts
		SET status = $1,
			updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	var result int
	err := r.db.QueryRowxContext(ctx, "SELECT 1 FROM posts WHERE id = $1 AND user_id = $2", postID, userID).Scan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}
	return result == 1, nil
}
