// Package memory is an in-process repository.Store used by tests and by the
// server when no database is configured.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

var ErrActiveLogExists = errors.New("an active upload log already exists for this post and platform")

type Store struct {
	// txMu serializes transactions; mu guards the maps.
	txMu sync.Mutex
	mu   sync.RWMutex

	posts    map[int64]*models.Post
	logs     map[int64]*models.UploadAttemptLog
	accounts map[int64]*models.SocialAccount

	nextPostID    int64
	nextLogID     int64
	nextAccountID int64
}

func New() *Store {
	return &Store{
		posts:    make(map[int64]*models.Post),
		logs:     make(map[int64]*models.UploadAttemptLog),
		accounts: make(map[int64]*models.SocialAccount),
	}
}

func (s *Store) Posts() repository.PostRepository                   { return postRepo{s} }
func (s *Store) UploadLogs() repository.UploadLogRepository         { return logRepo{s} }
func (s *Store) SocialAccounts() repository.SocialAccountRepository { return accountRepo{s} }

// InTx runs fn with every other transaction excluded. Writes made by fn are
// discarded if it returns an error.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	posts, logs := s.snapshot()
	nextPost, nextLog := s.nextPostID, s.nextLogID
	s.mu.RUnlock()

	if err := fn(ctx, txStore{s}); err != nil {
		s.mu.Lock()
		s.posts, s.logs = posts, logs
		s.nextPostID, s.nextLogID = nextPost, nextLog
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) snapshot() (map[int64]*models.Post, map[int64]*models.UploadAttemptLog) {
	posts := make(map[int64]*models.Post, len(s.posts))
	for id, p := range s.posts {
		posts[id] = clonePost(p)
	}
	logs := make(map[int64]*models.UploadAttemptLog, len(s.logs))
	for id, l := range s.logs {
		c := *l
		logs[id] = &c
	}
	return posts, logs
}

// AddAccount seeds a social account, the way the accounts subsystem would.
func (s *Store) AddAccount(sa *models.SocialAccount) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAccountID++
	c := *sa
	c.ID = s.nextAccountID
	s.accounts[c.ID] = &c
	sa.ID = c.ID
	return c.ID
}

// DeletePost removes a post and its lineages, the way an external editor would.
func (s *Store) DeletePost(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.posts, id)
	for lid, l := range s.logs {
		if l.PostID == id {
			delete(s.logs, lid)
		}
	}
}

// LogCount returns how many lineages exist for a post.
func (s *Store) LogCount(postID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, l := range s.logs {
		if l.PostID == postID {
			n++
		}
	}
	return n
}

// txStore is handed to InTx callbacks; nested transactions join the outer one.
type txStore struct{ *Store }

func (t txStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	return fn(ctx, t)
}

func clonePost(p *models.Post) *models.Post {
	c := *p
	c.Hashtags = append([]string(nil), p.Hashtags...)
	c.Media = append([]models.MediaItem(nil), p.Media...)
	c.Targets = make([]models.PlatformTarget, len(p.Targets))
	for i, t := range p.Targets {
		if t.PublishedAt != nil {
			at := *t.PublishedAt
			t.PublishedAt = &at
		}
		c.Targets[i] = t
	}
	return &c
}

type postRepo struct{ s *Store }

func (r postRepo) Create(ctx context.Context, post *models.Post) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextPostID++
	now := time.Now().UTC()
	post.ID = r.s.nextPostID
	post.CreatedAt, post.UpdatedAt = now, now
	for i := range post.Media {
		post.Media[i].PostID = post.ID
		post.Media[i].Position = i
	}
	for i := range post.Targets {
		post.Targets[i].PostID = post.ID
		post.Targets[i].Position = i
		post.Targets[i].UpdatedAt = now
	}
	r.s.posts[post.ID] = clonePost(post)
	return post.ID, nil
}

func (r postRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.posts[id]
	if !ok {
		return nil, nil
	}
	return clonePost(p), nil
}

func (r postRepo) GetForUpdate(ctx context.Context, id int64) (*models.Post, error) {
	return r.GetByID(ctx, id)
}

func (r postRepo) ListDue(ctx context.Context, now time.Time, after repository.DueCursor, limit int) ([]*models.Post, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var due []*models.Post
	for _, p := range r.s.posts {
		if p.Status != models.PostStatusScheduled || p.ScheduledTime.After(now) || !after.After(p) {
			continue
		}
		if r.s.hasDispatchableTarget(p) {
			due = append(due, clonePost(p))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledTime.Equal(due[j].ScheduledTime) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledTime.Before(due[j].ScheduledTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// hasDispatchableTarget reports a pending target whose lineage is not
// retrying. Callers hold mu.
func (s *Store) hasDispatchableTarget(p *models.Post) bool {
	for _, t := range p.Targets {
		if t.Status != models.TargetStatusPending {
			continue
		}
		retrying := false
		for _, l := range s.logs {
			if l.PostID == p.ID && l.Platform == t.Platform && l.Status == models.AttemptStatusRetrying {
				retrying = true
				break
			}
		}
		if !retrying {
			return true
		}
	}
	return false
}

func (r postRepo) UpdateTarget(ctx context.Context, target *models.PlatformTarget) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.posts[target.PostID]
	if !ok || target.Position < 0 || target.Position >= len(p.Targets) {
		return nil
	}
	t := p.Targets[target.Position]
	t.RemoteID = target.RemoteID
	t.Status = target.Status
	t.RemoteURL = target.RemoteURL
	t.UpdatedAt = target.UpdatedAt
	t.PublishedAt = nil
	if target.PublishedAt != nil {
		at := *target.PublishedAt
		t.PublishedAt = &at
	}
	p.Targets[target.Position] = t
	return nil
}

func (r postRepo) UpdatePostStatus(ctx context.Context, status models.PostStatus, postID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if p, ok := r.s.posts[postID]; ok {
		p.Status = status
		p.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r postRepo) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.posts[postID]
	return ok && p.UserID == userID, nil
}

type logRepo struct{ s *Store }

func (r logRepo) Create(ctx context.Context, log *models.UploadAttemptLog) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, l := range r.s.logs {
		if l.PostID == log.PostID && l.Platform == log.Platform && l.Status.Active() {
			return 0, ErrActiveLogExists
		}
	}

	r.s.nextLogID++
	now := time.Now().UTC()
	log.ID = r.s.nextLogID
	log.CreatedAt, log.UpdatedAt = now, now
	c := *log
	r.s.logs[c.ID] = &c
	return c.ID, nil
}

func (r logRepo) GetByID(ctx context.Context, id int64) (*models.UploadAttemptLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	l, ok := r.s.logs[id]
	if !ok {
		return nil, nil
	}
	c := *l
	return &c, nil
}

func (r logRepo) GetActive(ctx context.Context, postID int64, platform string) (*models.UploadAttemptLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, l := range r.s.logs {
		if l.PostID == postID && l.Platform == platform && l.Status.Active() {
			c := *l
			return &c, nil
		}
	}
	return nil, nil
}

func (r logRepo) Update(ctx context.Context, log *models.UploadAttemptLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.logs[log.ID]; !ok {
		return nil
	}
	c := *log
	r.s.logs[c.ID] = &c
	return nil
}

func (r logRepo) ListRetryCandidates(ctx context.Context, now time.Time, policy models.RetryPolicy) ([]*models.UploadAttemptLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.UploadAttemptLog
	for _, l := range r.s.logs {
		if policy.Due(l, now) {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAttempt.Before(out[j].LastAttempt) })
	return out, nil
}

func (r logRepo) ListLatestByPost(ctx context.Context, postID int64) ([]*models.UploadAttemptLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	latest := make(map[string]*models.UploadAttemptLog)
	for _, l := range r.s.logs {
		if l.PostID != postID {
			continue
		}
		if cur, ok := latest[l.Platform]; !ok || l.ID > cur.ID {
			latest[l.Platform] = l
		}
	}

	out := make([]*models.UploadAttemptLog, 0, len(latest))
	for _, l := range latest {
		c := *l
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

type accountRepo struct{ s *Store }

func (r accountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sa, ok := r.s.accounts[id]
	if !ok {
		return nil, nil
	}
	c := *sa
	return &c, nil
}

func (r accountRepo) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sa, ok := r.s.accounts[accountID]
	return ok && sa.UserID == userID, nil
}
