package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stocksync/internal/jobs"
	"github.com/odyssey-erp/stocksync/internal/shared"
	"github.com/odyssey-erp/stocksync/internal/transfer"
)

// TransferRunner runs one shop synchronization.
type TransferRunner interface {
	Run(ctx context.Context, id string, force bool) (transfer.RunResult, error)
}

// TransferSyncJob handles transfer:sync tasks.
type TransferSyncJob struct {
	Runner  TransferRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewTransferSyncJob initialises the transfer sync handler.
func NewTransferSyncJob(runner TransferRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *TransferSyncJob {
	return &TransferSyncJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle runs the synchronization. Saga failures are already in the transfer
// log and are not retried; only a transfer that could not be loaded is.
func (j *TransferSyncJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Runner == nil {
		return errors.New("transfer sync: handler not configured")
	}
	var payload TransferSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.TransferID == "" {
		return fmt.Errorf("transfer sync: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskTransferSync)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("transfer_id", payload.TransferID), slog.Bool("force", payload.Force))
	result, err := j.Runner.Run(ctx, payload.TransferID, payload.Force)
	if err != nil {
		logger.Error("transfer sync", slog.Any("error", err))
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	logger.Info("transfer sync finished", slog.String("path", result.Path), slog.String("reason", result.Reason))
	return nil
}

func (j *TransferSyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
