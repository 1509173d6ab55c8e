// Package queue carries dispatch units from the scheduler to the publish
// orchestrator, either through Redis with asynq or in process.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/service"
)

const TaskTypeDispatch = "publish:dispatch"

// DispatchPayload identifies one (post, platform) unit of work.
type DispatchPayload struct {
	PostID      int64           `json:"post_id"`
	TargetIndex int             `json:"target_index"`
	Trigger     service.Trigger `json:"trigger"`
}

func (p DispatchPayload) key() string {
	return fmt.Sprintf("dispatch:%d:%d:%s", p.PostID, p.TargetIndex, p.Trigger)
}

// Dispatcher accepts units without waiting for them to run. A unit already
// waiting or running for the same target and trigger is dropped.
type Dispatcher interface {
	Submit(ctx context.Context, payload DispatchPayload) error
}

type Queue struct {
	ps service.PublishService
}

func NewQueue(ps service.PublishService) *Queue {
	return &Queue{ps: ps}
}

// Run executes one unit. Units whose post or target disappeared are dropped
// without an error.
func (q *Queue) Run(ctx context.Context, payload DispatchPayload) error {
	outcome, err := q.ps.Dispatch(ctx, payload.PostID, payload.TargetIndex, payload.Trigger)
	if service.IsSkippable(err) {
		slog.Info("dispatch dropped", "post_id", payload.PostID, "target_index", payload.TargetIndex, "reason", err.Error())
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatch post %d target %d: %w", payload.PostID, payload.TargetIndex, err)
	}

	slog.Debug("dispatch finished", "post_id", payload.PostID, "target_index", payload.TargetIndex, "trigger", payload.Trigger, "outcome", outcome)
	return nil
}
