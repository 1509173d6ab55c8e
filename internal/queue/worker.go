package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// enqueuer is the part of *asynq.Client the dispatcher uses.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Asynq submits units to Redis. The task id is derived from the target, so
// a unit that is still queued or running is not enqueued twice. Finished
// tasks keep no retention, which frees the id for the next submit.
type Asynq struct {
	client enqueuer
	queue  string
}

func NewAsynq(client *asynq.Client, queue string) *Asynq {
	if queue == "" {
		queue = "default"
	}
	return &Asynq{client: client, queue: queue}
}

func (a *Asynq) Submit(ctx context.Context, payload DispatchPayload) error {
	task, err := newDispatchTask(payload)
	if err != nil {
		return err
	}

	_, err = a.client.EnqueueContext(ctx, task, asynq.TaskID(payload.key()), asynq.Queue(a.queue), asynq.MaxRetry(0))
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		slog.Debug("dispatch already queued", "post_id", payload.PostID, "target_index", payload.TargetIndex)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue dispatch: %w", err)
	}
	return nil
}

func newDispatchTask(payload DispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDispatch, data), nil
}

// HandleDispatchTask is the asynq handler for TaskTypeDispatch. Retries are
// driven by the upload log, never by asynq, so every task completes: a failed
// task would be archived and its id would block later submits.
func (q *Queue) HandleDispatchTask(ctx context.Context, task *asynq.Task) error {
	var payload DispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("dropping invalid dispatch payload", "type", task.Type(), "error", err)
		return nil
	}

	if err := q.Run(ctx, payload); err != nil {
		slog.Error(err.Error())
	}
	return nil
}

// NewServeMux routes dispatch tasks to q.
func NewServeMux(q *Queue) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeDispatch, q.HandleDispatchTask)
	return mux
}
