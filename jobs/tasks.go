package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeNotifyEvent is the task type for workflow notifications.
	TaskTypeNotifyEvent = "notify:event"
)

// NotifyEventPayload carries a workflow transition to the notification
// worker. Summary is already rendered for the recipient.
type NotifyEventPayload struct {
	EventID  string    `json:"event_id"`
	Kind     string    `json:"kind"`
	IndentID int64     `json:"indent_id,omitempty"`
	OrderID  int64     `json:"order_id,omitempty"`
	VendorID int64     `json:"vendor_id,omitempty"`
	Summary  string    `json:"summary"`
	At       time.Time `json:"at"`
}

// NewNotifyEventTask constructs an Asynq task. The event ID doubles as the
// task ID so re-emitted events collapse into one delivery.
func NewNotifyEventTask(payload NotifyEventPayload) (*asynq.Task, []asynq.Option, error) {
	if payload.EventID == "" {
		payload.EventID = uuid.NewString()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.TaskID(payload.EventID)}
	return asynq.NewTask(TaskTypeNotifyEvent, data), opts, nil
}

// NewNotifyEventHandler processes TaskTypeNotifyEvent tasks. Delivery is a
// structured log line; a mail or webhook channel slots in behind the same
// handler.
func NewNotifyEventHandler(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload NotifyEventPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.InfoContext(ctx, "notify event",
			slog.String("kind", payload.Kind),
			slog.String("event_id", payload.EventID),
			slog.Int64("indent_id", payload.IndentID),
			slog.Int64("vendor_id", payload.VendorID),
			slog.String("summary", payload.Summary),
		)
		return nil
	}
}
