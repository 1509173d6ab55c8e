package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPublish struct {
	mu          sync.Mutex
	calls       []DispatchPayload
	inflight    int
	maxInflight int
	err         error
	release     chan struct{}
}

func (s *stubPublish) Dispatch(ctx context.Context, postID int64, targetIndex int, trigger service.Trigger) (service.Outcome, error) {
	s.mu.Lock()
	s.calls = append(s.calls, DispatchPayload{PostID: postID, TargetIndex: targetIndex, Trigger: trigger})
	s.inflight++
	s.maxInflight = max(s.maxInflight, s.inflight)
	release := s.release
	s.mu.Unlock()

	if release != nil {
		<-release
	}

	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
	return service.OutcomePublished, s.err
}

func (s *stubPublish) RetryAttempt(ctx context.Context, logID int64) (service.Outcome, error) {
	return "", errors.New("not used")
}

func (s *stubPublish) FindRetryCandidates(ctx context.Context) ([]*models.UploadAttemptLog, error) {
	return nil, nil
}

func (s *stubPublish) Calls() []DispatchPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DispatchPayload(nil), s.calls...)
}

func TestLocalBoundsConcurrency(t *testing.T) {
	stub := &stubPublish{release: make(chan struct{})}
	local := NewLocal(context.Background(), NewQueue(stub), 2)

	for i := range 5 {
		require.NoError(t, local.Submit(context.Background(), DispatchPayload{PostID: int64(i + 1), Trigger: service.TriggerScheduled}))
	}

	assert.Eventually(t, func() bool { return len(stub.Calls()) == 2 }, time.Second, 5*time.Millisecond)
	close(stub.release)
	local.Wait()

	assert.Len(t, stub.Calls(), 5)
	assert.Equal(t, 2, stub.maxInflight)
}

func TestLocalDropsDuplicateWhilePending(t *testing.T) {
	stub := &stubPublish{release: make(chan struct{})}
	local := NewLocal(context.Background(), NewQueue(stub), 4)
	ctx := context.Background()

	require.NoError(t, local.Submit(ctx, DispatchPayload{PostID: 1, TargetIndex: 0, Trigger: service.TriggerScheduled}))
	require.NoError(t, local.Submit(ctx, DispatchPayload{PostID: 1, TargetIndex: 0, Trigger: service.TriggerScheduled}))
	require.NoError(t, local.Submit(ctx, DispatchPayload{PostID: 1, TargetIndex: 0, Trigger: service.TriggerRetry}))
	require.NoError(t, local.Submit(ctx, DispatchPayload{PostID: 1, TargetIndex: 1, Trigger: service.TriggerScheduled}))

	close(stub.release)
	local.Wait()
	assert.Len(t, stub.Calls(), 3)

	// Once finished the same target can be submitted again.
	require.NoError(t, local.Submit(ctx, DispatchPayload{PostID: 1, TargetIndex: 0, Trigger: service.TriggerRetry}))
	local.Wait()
	assert.Len(t, stub.Calls(), 4)
}

func TestRunDropsMissingPosts(t *testing.T) {
	q := NewQueue(&stubPublish{err: fmt.Errorf("%w: 9", service.ErrPostNotFound)})
	assert.NoError(t, q.Run(context.Background(), DispatchPayload{PostID: 9}))

	q = NewQueue(&stubPublish{err: fmt.Errorf("%w: 3", service.ErrAccountNotFound)})
	err := q.Run(context.Background(), DispatchPayload{PostID: 9})
	assert.ErrorIs(t, err, service.ErrAccountNotFound)
}

func TestHandleDispatchTask(t *testing.T) {
	stub := &stubPublish{}
	q := NewQueue(stub)

	task, err := newDispatchTask(DispatchPayload{PostID: 4, TargetIndex: 2, Trigger: service.TriggerRetry})
	require.NoError(t, err)
	require.NoError(t, q.HandleDispatchTask(context.Background(), task))

	require.Len(t, stub.Calls(), 1)
	assert.Equal(t, DispatchPayload{PostID: 4, TargetIndex: 2, Trigger: service.TriggerRetry}, stub.Calls()[0])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, "retry", decoded["trigger"])

	// A bad payload completes the task so its id is not left archived.
	require.NoError(t, q.HandleDispatchTask(context.Background(), asynq.NewTask(TaskTypeDispatch, []byte("{"))))
	assert.Len(t, stub.Calls(), 1)
}

type fakeEnqueuer struct {
	err   error
	tasks []*asynq.Task
	opts  [][]asynq.Option
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "x"}, nil
}

func TestAsynqSubmit(t *testing.T) {
	payload := DispatchPayload{PostID: 7, TargetIndex: 1, Trigger: service.TriggerScheduled}

	fake := &fakeEnqueuer{}
	a := &Asynq{client: fake, queue: "publish"}
	require.NoError(t, a.Submit(context.Background(), payload))
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, TaskTypeDispatch, fake.tasks[0].Type())
	assert.Contains(t, fake.opts[0], asynq.TaskID(payload.key()))
	assert.Contains(t, fake.opts[0], asynq.Queue("publish"))
	assert.Contains(t, fake.opts[0], asynq.MaxRetry(0))

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "task id conflict", err: asynq.ErrTaskIDConflict},
		{name: "duplicate task", err: asynq.ErrDuplicateTask},
		{name: "redis down", err: errors.New("dial tcp: connection refused"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Asynq{client: &fakeEnqueuer{err: tt.err}, queue: "publish"}
			err := a.Submit(context.Background(), payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
