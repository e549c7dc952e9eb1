package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTransferSync mirrors a validated transfer on the shop.
	TaskTransferSync = "transfer:sync"
	// TaskIdempotencyCleanup purges expired idempotency rows.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// TransferSyncPayload identifies the transfer to synchronize. Force re-runs a
// synchronization that already completed.
type TransferSyncPayload struct {
	TransferID string `json:"transfer_id"`
	Force      bool   `json:"force,omitempty"`
}

// NewTransferSyncTask constructs a transfer:sync task. Unforced tasks carry a
// task id so concurrent dispatches of one transfer collapse into one task.
func NewTransferSyncTask(transferID string, force bool) (*asynq.Task, error) {
	if transferID == "" {
		return nil, errors.New("jobs: transfer id required")
	}
	body, err := json.Marshal(TransferSyncPayload{TransferID: transferID, Force: force})
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(5), asynq.Timeout(5 * time.Minute)}
	if !force {
		opts = append(opts, asynq.TaskID(TaskTransferSync+":"+transferID))
	}
	return asynq.NewTask(TaskTransferSync, body, opts...), nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an idempotency:cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	if hours <= 0 {
		hours = 24 * 7
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
