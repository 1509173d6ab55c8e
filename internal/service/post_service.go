package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/storage"
	"github.com/maheshrc27/postflow/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type PostService interface {
	// Schedule stores a new post with every target pending. It is the only
	// way new work reaches the scheduler.
	Schedule(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*models.Post, error)
	UploadStatus(ctx context.Context, postID, userID int64) (*transfer.UploadStatus, error)
}

type postService struct {
	store    repository.Store
	uploader storage.Uploader
	registry *publisher.Registry
	clock    clock.Clock
}

func NewPostService(
	store repository.Store,
	uploader storage.Uploader,
	registry *publisher.Registry,
	clk clock.Clock) PostService {
	return &postService{
		store:    store,
		uploader: uploader,
		registry: registry,
		clock:    clk,
	}
}

func (s *postService) Schedule(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*models.Post, error) {
	if pc == nil {
		return nil, fmt.Errorf("%w: post creation data is nil", ErrInvalidPost)
	}
	if strings.TrimSpace(pc.Body) == "" && strings.TrimSpace(pc.Title) == "" && len(files) == 0 {
		return nil, fmt.Errorf("%w: post has no content", ErrInvalidPost)
	}
	if pc.ScheduledTime.IsZero() {
		return nil, fmt.Errorf("%w: scheduled time is required", ErrInvalidPost)
	}

	targets, err := s.targets(ctx, userID, pc.Targets)
	if err != nil {
		return nil, err
	}

	media, err := s.processFiles(ctx, userID, files, pc.Captions)
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		UserID:        userID,
		Title:         pc.Title,
		Body:          pc.Body,
		Hashtags:      publisher.Tags(pc.Hashtags),
		ScheduledTime: pc.ScheduledTime.UTC(),
		Status:        models.PostStatusScheduled,
		IsSimulated:   pc.Simulated,
		Media:         media,
		Targets:       targets,
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Store) error {
		_, err := tx.Posts().Create(ctx, post)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error creating post: %w", err)
	}

	slog.Info("post scheduled", "post_id", post.ID, "targets", len(post.Targets), "scheduled_time", post.ScheduledTime, "simulated", post.IsSimulated)
	return post, nil
}

func (s *postService) targets(ctx context.Context, userID int64, requested []transfer.TargetRequest) ([]models.PlatformTarget, error) {
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: no platforms selected", ErrInvalidPost)
	}

	seen := make(map[string]bool, len(requested))
	targets := make([]models.PlatformTarget, 0, len(requested))
	for _, t := range requested {
		platform := strings.ToLower(strings.TrimSpace(t.Platform))
		if _, ok := s.registry.Get(platform); !ok {
			return nil, fmt.Errorf("%w: unsupported platform %q", ErrInvalidPost, t.Platform)
		}
		if seen[platform] {
			return nil, fmt.Errorf("%w: platform %s selected twice", ErrInvalidPost, platform)
		}
		seen[platform] = true

		account, err := s.store.SocialAccounts().GetByID(ctx, t.AccountID)
		if err != nil {
			return nil, fmt.Errorf("error checking social account %d: %w", t.AccountID, err)
		}
		if account == nil || account.UserID != userID {
			return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, t.AccountID)
		}
		if account.Platform != platform {
			return nil, fmt.Errorf("%w: account %d belongs to %s, not %s", ErrInvalidPost, account.ID, account.Platform, platform)
		}

		targets = append(targets, models.PlatformTarget{
			Platform:  platform,
			AccountID: account.ID,
			Status:    models.TargetStatusPending,
		})
	}
	return targets, nil
}

func (s *postService) processFiles(ctx context.Context, userID int64, files []*multipart.FileHeader, captions []string) ([]models.MediaItem, error) {
	media := make([]models.MediaItem, 0, len(files))
	for i, file := range files {
		data, err := readFile(file)
		if err != nil {
			return nil, err
		}

		kind, err := filetype.Match(data)
		if err != nil || kind == types.Unknown {
			return nil, fmt.Errorf("%w: unsupported file type for %s", ErrInvalidPost, file.Filename)
		}
		mediaType, ok := mediaTypeOf(kind)
		if !ok {
			return nil, fmt.Errorf("%w: file type %s is not allowed", ErrInvalidPost, kind.Extension)
		}

		id, err := gonanoid.New()
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		key := fmt.Sprintf("%d/%s.%s", userID, id, kind.Extension)

		url, err := s.uploader.Upload(ctx, key, data, kind.MIME.Value)
		if err != nil {
			return nil, fmt.Errorf("error uploading file: %w", err)
		}

		item := models.MediaItem{URL: url, MediaType: mediaType}
		if i < len(captions) {
			item.Caption = captions[i]
		}
		media = append(media, item)
	}
	return media, nil
}

func readFile(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("error reading file content: %w", err)
	}
	return data, nil
}

func mediaTypeOf(kind types.Type) (models.MediaType, bool) {
	switch {
	case kind == matchers.TypeGif:
		return models.MediaTypeGIF, true
	case kind.MIME.Type == "image":
		return models.MediaTypeImage, true
	case kind.MIME.Type == "video":
		return models.MediaTypeVideo, true
	}
	return "", false
}

func (s *postService) UploadStatus(ctx context.Context, postID, userID int64) (*transfer.UploadStatus, error) {
	owned, err := s.store.Posts().CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, fmt.Errorf("%w: %d", ErrPostNotFound, postID)
	}

	post, err := s.store.Posts().GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting post: %w", err)
	}
	if post == nil {
		return nil, fmt.Errorf("%w: %d", ErrPostNotFound, postID)
	}

	logs, err := s.store.UploadLogs().ListLatestByPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting upload attempts: %w", err)
	}
	latest := make(map[string]*models.UploadAttemptLog, len(logs))
	for _, l := range logs {
		latest[l.Platform] = l
	}

	status := &transfer.UploadStatus{
		PostID:        post.ID,
		Status:        post.Status,
		ScheduledTime: post.ScheduledTime,
		IsSimulated:   post.IsSimulated,
		Targets:       make([]transfer.TargetStatus, 0, len(post.Targets)),
	}
	for _, t := range post.Targets {
		status.Targets = append(status.Targets, transfer.TargetStatus{
			Platform:    t.Platform,
			AccountID:   t.AccountID,
			Status:      t.Status,
			RemoteID:    t.RemoteID,
			RemoteURL:   t.RemoteURL,
			PublishedAt: t.PublishedAt,
			Analytics:   t.Analytics,
			LastAttempt: latest[t.Platform],
		})
	}
	return status, nil
}

// IsValidation reports errors caused by the request rather than the system.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidPost) || errors.Is(err, ErrAccountNotFound)
}
