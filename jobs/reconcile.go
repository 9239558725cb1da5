package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskTypeWorkflowReconcile sweeps open orders and indents, re-deriving
// master statuses and closing indents whose terminal conditions were missed
// by a failed post-commit cascade.
const TaskTypeWorkflowReconcile = "workflow:reconcile"

// Reconciler re-derives workflow state from the ground truth in storage.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// NewReconcileTask constructs the periodic reconcile task.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskTypeWorkflowReconcile, nil, asynq.Queue(QueueDefault))
}

// NewReconcileHandler wraps the workflow sweep for Asynq.
func NewReconcileHandler(reconciler Reconciler, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		if err := reconciler.Reconcile(ctx); err != nil {
			logger.ErrorContext(ctx, "workflow reconcile", slog.Any("error", err))
			return err
		}
		logger.InfoContext(ctx, "workflow reconcile done", slog.Duration("took", time.Since(start)))
		return nil
	}
}
