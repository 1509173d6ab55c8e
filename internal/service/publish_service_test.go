package service

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transient() error {
	return publisher.TransientError(publisher.PlatformLinkedin, "502", "upstream unavailable")
}

func TestDispatchPartialFailureKeepsPostScheduled(t *testing.T) {
	ig := newFake(publisher.PlatformInstagram)
	li := newFake(publisher.PlatformLinkedin, transient())
	f := newFixture(t, testConfig(), ig, li)
	post := f.duePost(t, false, publisher.PlatformInstagram, publisher.PlatformLinkedin)
	ctx := context.Background()

	outcome, err := f.svc.Dispatch(ctx, post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomePublished, outcome)

	outcome, err = f.svc.Dispatch(ctx, post.ID, 1, TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetrying, outcome)

	got := f.post(t, post.ID)
	assert.Equal(t, models.TargetStatusPublished, got.Targets[0].Status)
	assert.Equal(t, "instagram_remote", got.Targets[0].RemoteID)
	assert.Equal(t, "https://instagram.invalid/p/1", got.Targets[0].RemoteURL)
	require.NotNil(t, got.Targets[0].PublishedAt)
	assert.Equal(t, t0, *got.Targets[0].PublishedAt)

	assert.Equal(t, models.TargetStatusPending, got.Targets[1].Status)
	assert.Equal(t, models.PostStatusScheduled, got.Status)

	log := f.active(t, post.ID, publisher.PlatformLinkedin)
	require.NotNil(t, log)
	assert.Equal(t, models.AttemptStatusRetrying, log.Status)
	assert.Equal(t, 1, log.AttemptCount)
	assert.Equal(t, "502", log.ErrorCode)
	assert.Contains(t, log.ErrorDetails, `"kind":"transient"`)

	assert.Empty(t, f.notifier.Events())
}

func TestDispatchExhaustedRetriesFailPostOnce(t *testing.T) {
	ig := newFake(publisher.PlatformInstagram)
	li := newFake(publisher.PlatformLinkedin, transient(), transient(), transient(), transient())
	f := newFixture(t, testConfig(), ig, li)
	post := f.duePost(t, false, publisher.PlatformInstagram, publisher.PlatformLinkedin)
	ctx := context.Background()

	_, err := f.svc.Dispatch(ctx, post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, post.ID, 1, TriggerScheduled)
	require.NoError(t, err)

	// Backoff after attempts 1, 2 and 3 is 60s, 120s and 240s.
	for _, wait := range []time.Duration{61 * time.Second, 121 * time.Second, 241 * time.Second} {
		f.clock.Advance(wait)
		candidates, err := f.svc.FindRetryCandidates(ctx)
		require.NoError(t, err)
		require.Len(t, candidates, 1)

		_, err = f.svc.Dispatch(ctx, candidates[0].PostID, candidates[0].TargetIndex, TriggerRetry)
		require.NoError(t, err)
	}

	assert.Equal(t, 4, li.Calls())

	got := f.post(t, post.ID)
	assert.Equal(t, models.TargetStatusFailed, got.Targets[1].Status)
	assert.Equal(t, models.PostStatusFailed, got.Status)

	log := f.latest(t, post.ID, publisher.PlatformLinkedin)
	require.NotNil(t, log)
	assert.Equal(t, models.AttemptStatusFailed, log.Status)
	assert.Equal(t, 4, log.AttemptCount)
	assert.Nil(t, f.active(t, post.ID, publisher.PlatformLinkedin))

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationPostFailed, events[0].Kind)
	assert.Equal(t, post.ID, events[0].PostID)
	assert.Equal(t, f.userID, events[0].UserID)
	assert.Equal(t, publisher.PlatformLinkedin, events[0].Platform)
	assert.Equal(t, "502", events[0].Error.ErrorCode)
	assert.NotEmpty(t, events[0].ID)

	candidates, err := f.svc.FindRetryCandidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestRetryCandidatesRespectBackoff(t *testing.T) {
	li := newFake(publisher.PlatformLinkedin, transient())
	f := newFixture(t, testConfig(), li)
	post := f.duePost(t, false, publisher.PlatformLinkedin)
	ctx := context.Background()

	_, err := f.svc.Dispatch(ctx, post.ID, 0, TriggerScheduled)
	require.NoError(t, err)

	f.clock.Set(t0.Add(30 * time.Second))
	candidates, err := f.svc.FindRetryCandidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	outcome, err := f.svc.Dispatch(ctx, post.ID, 0, TriggerRetry)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome, "retry before backoff elapses is a no-op")

	f.clock.Set(t0.Add(61 * time.Second))
	candidates, err = f.svc.FindRetryCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, post.ID, candidates[0].PostID)
	assert.Equal(t, 1, li.Calls())
}

func TestScheduledTriggerLeavesRetryingLineageAlone(t *testing.T) {
	li := newFake(publisher.PlatformLinkedin, transient())
	f := newFixture(t, testConfig(), li)
	post := f.duePost(t, false, publisher.PlatformLinkedin)
	ctx := context.Background()

	_, err := f.svc.Dispatch(ctx, post.ID, 0, TriggerScheduled)
	require.NoError(t, err)

	outcome, err := f.svc.Dispatch(ctx, post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, 1, li.Calls())
}

func TestConcurrentDispatchPublishesOnce(t *testing.T) {
	ig := newFake(publisher.PlatformInstagram)
	ig.started = make(chan struct{}, 2)
	ig.release = make(chan struct{})
	f := newFixture(t, testConfig(), ig)
	post := f.duePost(t, false, publisher.PlatformInstagram)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := f.svc.Dispatch(context.Background(), post.ID, 0, TriggerScheduled)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}

	<-ig.started
	close(ig.release)
	wg.Wait()

	assert.Equal(t, 1, ig.Calls())
	assert.ElementsMatch(t, []Outcome{OutcomePublished, OutcomeSkipped}, outcomes)
	assert.Equal(t, 1, f.store.LogCount(post.ID))
}

func TestConcurrentManualRetriesAreSerialized(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 100
	errs := make([]error, 20)
	for i := range errs {
		errs[i] = transient()
	}
	li := newFake(publisher.PlatformLinkedin, errs...)
	f := newFixture(t, cfg, li)
	post := f.duePost(t, false, publisher.PlatformLinkedin)
	ctx := context.Background()

	_, err := f.svc.Dispatch(ctx, post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	logID := f.active(t, post.ID, publisher.PlatformLinkedin).ID

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.svc.RetryAttempt(ctx, logID)
			assert.NoError(t, err)
			assert.Equal(t, OutcomeRetrying, outcome)
		}()
	}
	wg.Wait()

	log := f.active(t, post.ID, publisher.PlatformLinkedin)
	require.NotNil(t, log)
	assert.Equal(t, logID, log.ID)
	assert.Equal(t, 11, log.AttemptCount)
	assert.Equal(t, 11, li.Calls())
	assert.Equal(t, 1, li.maxInflight)
}

func TestDispatchIsIdempotentOnTerminalTargets(t *testing.T) {
	ig := newFake(publisher.PlatformInstagram)
	li := newFake(publisher.PlatformLinkedin, publisher.PermanentError(publisher.PlatformLinkedin, "400", "rejected"))
	f := newFixture(t, testConfig(), ig, li)
	post := f.duePost(t, false, publisher.PlatformInstagram, publisher.PlatformLinkedin)
	ctx := context.Background()

	_, err := f.svc.Dispatch(ctx, post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	outcome, err := f.svc.Dispatch(ctx, post.ID, 1, TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	before := f.post(t, post.ID)
	logs := f.store.LogCount(post.ID)

	for _, trigger := range []Trigger{TriggerScheduled, TriggerRetry, TriggerManual} {
		for index := range 2 {
			outcome, err := f.svc.Dispatch(ctx, post.ID, index, trigger)
			require.NoError(t, err)
			assert.Equal(t, OutcomeSkipped, outcome)
		}
	}

	assert.Equal(t, before, f.post(t, post.ID))
	assert.Equal(t, logs, f.store.LogCount(post.ID))
	assert.Equal(t, 1, ig.Calls())
	assert.Equal(t, 1, li.Calls())
	assert.Len(t, f.notifier.Events(), 1)
}

func TestTargetFailureNotifiesWhileOthersPending(t *testing.T) {
	ig := newFake(publisher.PlatformInstagram, publisher.AuthError(publisher.PlatformInstagram, "190", "token expired"))
	li := newFake(publisher.PlatformLinkedin)
	f := newFixture(t, testConfig(), ig, li)
	post := f.duePost(t, false, publisher.PlatformInstagram, publisher.PlatformLinkedin)
	ctx := context.Background()

	outcome, err := f.svc.Dispatch(ctx, post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome, "auth errors are not retried")

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationTargetFailed, events[0].Kind)
	assert.Equal(t, publisher.PlatformInstagram, events[0].Platform)
	assert.Equal(t, "190", events[0].Error.ErrorCode)
	assert.Equal(t, models.PostStatusScheduled, f.post(t, post.ID).Status)

	// The post fails once the last pending target settles, even on success.
	_, err = f.svc.Dispatch(ctx, post.ID, 1, TriggerScheduled)
	require.NoError(t, err)

	events = f.notifier.Events()
	require.Len(t, events, 2)
	assert.Equal(t, models.NotificationPostFailed, events[1].Kind)
	assert.Empty(t, events[1].Platform)
	assert.Equal(t, models.PostStatusFailed, f.post(t, post.ID).Status)
}

func TestNotifyFailureKeepsCommittedOutcome(t *testing.T) {
	ig := newFake(publisher.PlatformInstagram, publisher.AuthError(publisher.PlatformInstagram, "190", "token expired"))
	f := newFixture(t, testConfig(), ig)
	f.notifier.err = errors.New("broker unavailable")
	post := f.duePost(t, false, publisher.PlatformInstagram)
	ctx := context.Background()

	outcome, err := f.svc.Dispatch(ctx, post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, models.PostStatusFailed, f.post(t, post.ID).Status)
	require.Len(t, f.notifier.Events(), 1)
	assert.NotEmpty(t, f.notifier.Events()[0].ID)

	// Nothing is resent: the settled target is a no-op on the next dispatch.
	_, err = f.svc.Dispatch(ctx, post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	assert.Len(t, f.notifier.Events(), 1)
	assert.Equal(t, 1, f.store.LogCount(post.ID))
}

func TestDispatchTimeoutIsRetried(t *testing.T) {
	cfg := testConfig()
	cfg.PublishTimeouts[publisher.PlatformLinkedin] = 20 * time.Millisecond
	li := newFake(publisher.PlatformLinkedin)
	li.release = make(chan struct{})
	f := newFixture(t, cfg, li)
	post := f.duePost(t, false, publisher.PlatformLinkedin)

	outcome, err := f.svc.Dispatch(context.Background(), post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetrying, outcome)

	log := f.active(t, post.ID, publisher.PlatformLinkedin)
	require.NotNil(t, log)
	assert.Equal(t, models.AttemptStatusRetrying, log.Status)
	assert.Equal(t, "timeout", log.ErrorCode)
}

func TestDispatchMissingAccountPropagates(t *testing.T) {
	li := newFake(publisher.PlatformLinkedin)
	f := newFixture(t, testConfig(), li)
	post := &models.Post{
		UserID:        f.userID,
		ScheduledTime: t0.Add(-time.Minute),
		Status:        models.PostStatusScheduled,
		Targets:       []models.PlatformTarget{{Platform: publisher.PlatformLinkedin, AccountID: 999, Status: models.TargetStatusPending}},
	}
	_, err := f.store.Posts().Create(context.Background(), post)
	require.NoError(t, err)

	_, err = f.svc.Dispatch(context.Background(), post.ID, 0, TriggerScheduled)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.False(t, IsSkippable(err))
	assert.Zero(t, f.store.LogCount(post.ID))
	assert.Zero(t, li.Calls())
}

func TestDispatchDeletedPostIsSkippable(t *testing.T) {
	f := newFixture(t, testConfig(), newFake(publisher.PlatformLinkedin))
	post := f.duePost(t, false, publisher.PlatformLinkedin)
	f.store.DeletePost(post.ID)

	outcome, err := f.svc.Dispatch(context.Background(), post.ID, 0, TriggerScheduled)
	assert.ErrorIs(t, err, ErrPostNotFound)
	assert.True(t, IsSkippable(err))
	assert.Equal(t, OutcomeSkipped, outcome)

	_, err = f.svc.Dispatch(context.Background(), f.duePost(t, false, publisher.PlatformLinkedin).ID, 5, TriggerScheduled)
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestDispatchRescheduledPostIsSkipped(t *testing.T) {
	li := newFake(publisher.PlatformLinkedin)
	f := newFixture(t, testConfig(), li)
	post := f.duePost(t, false, publisher.PlatformLinkedin)

	f.clock.Set(t0.Add(-time.Hour))
	outcome, err := f.svc.Dispatch(context.Background(), post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, li.Calls())
}

func TestDispatchUnknownPlatformFailsTarget(t *testing.T) {
	f := newFixture(t, testConfig())
	post := f.duePost(t, false, "myspace")

	outcome, err := f.svc.Dispatch(context.Background(), post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	log := f.latest(t, post.ID, "myspace")
	require.NotNil(t, log)
	assert.Equal(t, "unknown_platform", log.ErrorCode)
	assert.Contains(t, log.ErrorDetails, `"kind":"configuration"`)
	assert.Equal(t, models.PostStatusFailed, f.post(t, post.ID).Status)
}

type noNetwork struct{ t *testing.T }

func (n noNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.t.Errorf("unexpected request to %s", req.URL)
	return nil, errors.New("network disabled")
}

func TestSimulatedPostNeverTouchesNetwork(t *testing.T) {
	client := &http.Client{Transport: noNetwork{t}}
	f := newFixture(t, testConfig(),
		publisher.NewLinkedin(client, "http://linkedin.invalid"),
		publisher.NewInstagram(client, "http://instagram.invalid"),
	)
	post := f.duePost(t, true, publisher.PlatformInstagram, publisher.PlatformLinkedin)

	for i := range post.Targets {
		outcome, err := f.svc.Dispatch(context.Background(), post.ID, i, TriggerScheduled)
		require.NoError(t, err)
		assert.Equal(t, OutcomePublished, outcome)
	}

	got := f.post(t, post.ID)
	assert.Equal(t, models.PostStatusPublished, got.Status)
	assert.Equal(t, "sim_linkedin_"+strconv.FormatInt(post.ID, 10), got.Targets[1].RemoteID)
	assert.True(t, f.latest(t, post.ID, publisher.PlatformLinkedin).IsSimulated)
}

func TestDispatchDecryptsCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.SecretKey = "0123456789abcdef0123456789abcdef"
	li := newFake(publisher.PlatformLinkedin)
	f := newFixture(t, cfg, li)

	token, err := utils.Encrypt([]byte("real-token"), []byte(cfg.SecretKey))
	require.NoError(t, err)
	accountID := f.store.AddAccount(&models.SocialAccount{UserID: f.userID, Platform: publisher.PlatformLinkedin, AccessToken: token})
	bad := f.store.AddAccount(&models.SocialAccount{UserID: f.userID, Platform: publisher.PlatformLinkedin, AccessToken: "not-encrypted"})

	post := &models.Post{
		UserID:        f.userID,
		ScheduledTime: t0,
		Status:        models.PostStatusScheduled,
		Targets:       []models.PlatformTarget{{Platform: publisher.PlatformLinkedin, AccountID: accountID, Status: models.TargetStatusPending}},
	}
	_, err = f.store.Posts().Create(context.Background(), post)
	require.NoError(t, err)

	outcome, err := f.svc.Dispatch(context.Background(), post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomePublished, outcome)
	assert.Equal(t, "real-token", li.account.AccessToken)

	post.ID = 0
	post.Targets[0].AccountID = bad
	post.Targets[0].Status = models.TargetStatusPending
	_, err = f.store.Posts().Create(context.Background(), post)
	require.NoError(t, err)

	outcome, err = f.svc.Dispatch(context.Background(), post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, "credentials", f.latest(t, post.ID, publisher.PlatformLinkedin).ErrorCode)
	assert.Equal(t, 1, li.Calls())
}

func TestRetryAttemptGuards(t *testing.T) {
	li := newFake(publisher.PlatformLinkedin, transient())
	f := newFixture(t, testConfig(), li)
	post := f.duePost(t, false, publisher.PlatformLinkedin)
	ctx := context.Background()

	_, err := f.svc.RetryAttempt(ctx, 42)
	assert.ErrorIs(t, err, ErrAttemptNotFound)

	_, err = f.svc.Dispatch(ctx, post.ID, 0, TriggerScheduled)
	require.NoError(t, err)
	logID := f.active(t, post.ID, publisher.PlatformLinkedin).ID

	// Manual retries ignore the backoff window.
	outcome, err := f.svc.RetryAttempt(ctx, logID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePublished, outcome)
	assert.Equal(t, 2, f.latest(t, post.ID, publisher.PlatformLinkedin).AttemptCount)

	_, err = f.svc.RetryAttempt(ctx, logID)
	assert.ErrorIs(t, err, ErrAttemptNotRetryable)
	assert.Equal(t, 2, li.Calls())
}
