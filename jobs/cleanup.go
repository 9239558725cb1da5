package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskTypeIdempotencyCleanup prunes processed idempotency keys past their
// retention window.
const TaskTypeIdempotencyCleanup = "idempotency:cleanup"

type idempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// KeyPruner removes idempotency keys older than the retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupTask constructs the periodic cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) *asynq.Task {
	data, _ := json.Marshal(idempotencyCleanupPayload{Retention: retention})
	return asynq.NewTask(TaskTypeIdempotencyCleanup, data, asynq.Queue(QueueDefault))
}

// NewIdempotencyCleanupHandler wraps the store cleanup for Asynq.
func NewIdempotencyCleanupHandler(pruner KeyPruner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload idempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Retention <= 0 {
			payload.Retention = 7 * 24 * time.Hour
		}
		if err := pruner.Cleanup(ctx, payload.Retention); err != nil {
			logger.ErrorContext(ctx, "idempotency cleanup", slog.Any("error", err))
			return err
		}
		return nil
	}
}
