package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// InlineDispatcher runs the synchronization in a goroutine detached from the
// request. Panics are recovered and written to the transfer log.
type InlineDispatcher struct {
	runner  *Runner
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewInlineDispatcher constructs InlineDispatcher. Each run is bounded by timeout.
func NewInlineDispatcher(runner *Runner, timeout time.Duration, logger *slog.Logger) *InlineDispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineDispatcher{runner: runner, timeout: timeout, logger: logger}
}

// Dispatch starts the synchronization and returns immediately.
func (d *InlineDispatcher) Dispatch(ctx context.Context, transferID string) error {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error("shop sync panic",
					slog.String("transfer_id", transferID),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())))
				d.runner.journal.write(runCtx, LogEntry{
					TransferID: transferID,
					Event:      EventSyncFailed,
					Level:      LevelError,
					Message:    fmt.Sprintf("shop sync panic: %v", rec),
					Payload:    map[string]any{"source": SourceAsync},
				})
			}
		}()
		result, err := d.runner.Run(runCtx, transferID, false)
		if err != nil {
			d.logger.Error("shop sync", slog.String("transfer_id", transferID), slog.Any("error", err))
			return
		}
		d.logger.Info("shop sync finished",
			slog.String("transfer_id", transferID),
			slog.String("path", result.Path),
			slog.String("reason", result.Reason))
	}()
	return nil
}

// Wait blocks until every dispatched run has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
