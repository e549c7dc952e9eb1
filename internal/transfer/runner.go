package transfer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/stocksync/internal/catalog"
	"github.com/odyssey-erp/stocksync/internal/shop"
)

// Sync paths.
const (
	PathTransfer   = "transfer"
	PathAdjustment = "adjustment"
	PathSkipped    = "skipped"
)

// RunResult reports one asynchronous synchronization.
type RunResult struct {
	Path   string             `json:"path"`
	Reason string             `json:"reason,omitempty"`
	Sync   *shop.SyncResult   `json:"sync,omitempty"`
	Adjust *shop.AdjustResult `json:"adjust,omitempty"`
}

// RunnerDeps groups the collaborators of Runner.
type RunnerDeps struct {
	Locations LocationSource
	Syncer    TransferSyncer
	Items     ItemResolver
	Adjuster  StockAdjuster
	Observer  Observer
}

// Runner mirrors a validated transfer on the platform, through the five-step
// transfer protocol or, for the special-case destination, a one-sided
// decrement at the origin.
type Runner struct {
	store     Store
	locations LocationSource
	syncer    TransferSyncer
	items     ItemResolver
	adjuster  StockAdjuster
	observer  Observer
	routing   Routing
	journal   journal
	logger    *slog.Logger
}

// NewRunner constructs Runner.
func NewRunner(store Store, deps RunnerDeps, routing Routing, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:     store,
		locations: deps.Locations,
		syncer:    deps.Syncer,
		items:     deps.Items,
		adjuster:  deps.Adjuster,
		observer:  deps.Observer,
		routing:   routing,
		journal:   journal{store: store, logger: logger},
		logger:    logger,
	}
}

// Run synchronizes transfer id. Synchronization failures are written to the
// transfer log, not returned; the error reports only that the transfer could
// not be loaded. Without force, a transfer whose sync already completed is
// skipped.
func (r *Runner) Run(ctx context.Context, id string, force bool) (RunResult, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return RunResult{}, fmt.Errorf("load transfer %s: %w", id, err)
	}
	if t.Status != StatusValidated {
		return r.skip(ctx, t.ID, "transfer is "+string(t.Status)), nil
	}
	if !force {
		done, err := r.store.HasEvent(ctx, t.ID, EventSyncCompleted)
		if err != nil {
			return RunResult{}, fmt.Errorf("load transfer log %s: %w", id, err)
		}
		if done {
			return RunResult{Path: PathSkipped, Reason: "already synchronized"}, nil
		}
	}
	origin, err := r.locations.Location(ctx, t.OriginCode)
	if err != nil {
		return r.fail(ctx, t.ID, "", fmt.Errorf("origin %s: %w", t.OriginCode, err)), nil
	}
	if r.routing.IsPlanta(t.DestinationCode) {
		return r.adjust(ctx, t, origin), nil
	}
	dest, err := r.locations.Location(ctx, t.DestinationCode)
	if err != nil {
		return r.fail(ctx, t.ID, "", fmt.Errorf("destination %s: %w", t.DestinationCode, err)), nil
	}
	return r.transfer(ctx, t, origin, dest), nil
}

func (r *Runner) transfer(ctx context.Context, t Transfer, origin, dest catalog.Location) RunResult {
	if origin.ShopLocationGID == "" || dest.ShopLocationGID == "" {
		return r.skip(ctx, t.ID, "origin or destination has no shop location")
	}
	hooks := shop.Hooks{
		Record: func(ctx context.Context, outcome shop.StepOutcome) {
			r.observeStep(outcome.Step, outcome.OK)
			level := LevelInfo
			msg := "step " + outcome.Step + " ok"
			if !outcome.OK {
				level = LevelWarn
				if outcome.Fatal {
					level = LevelError
				}
				msg = "step " + outcome.Step + " failed: " + outcome.Error
			}
			r.journal.write(ctx, LogEntry{
				TransferID: t.ID,
				Event:      EventSyncStep,
				Level:      level,
				Step:       outcome.Step,
				Message:    msg,
				Payload: map[string]any{
					"source":          SourceAsync,
					"idempotency_key": outcome.IdempotencyKey,
					"fatal":           outcome.Fatal,
					"error":           outcome.Error,
					"detail":          outcome.Detail,
				},
			})
		},
		OnCreated: func(ctx context.Context, gid string) {
			if gid == t.ShopTransferGID {
				return
			}
			if err := r.store.SetShopTransferGID(ctx, t.ID, gid); err != nil {
				r.logger.Error("store shop transfer reference",
					slog.String("transfer_id", t.ID),
					slog.String("gid", gid),
					slog.Any("error", err))
			}
		},
	}
	result := r.syncer.Sync(ctx, shop.TransferInput{
		TransferID:             t.ID,
		OriginLocationGID:      origin.ShopLocationGID,
		DestinationLocationGID: dest.ShopLocationGID,
		Lines:                  t.Quantities(),
		Note:                   t.Note,
	}, hooks)

	payload := map[string]any{
		"source":       SourceAsync,
		"path":         PathTransfer,
		"status":       string(result.Status),
		"synced":       result.Synced,
		"skipped":      result.Skipped,
		"transfer_gid": result.TransferGID,
	}
	switch result.Status {
	case shop.SyncReceived:
		r.journal.write(ctx, LogEntry{TransferID: t.ID, Event: EventSyncCompleted, Message: "shop transfer received", Payload: payload})
	case shop.SyncNothingToSync:
		r.journal.write(ctx, LogEntry{TransferID: t.ID, Event: EventSyncCompleted, Level: LevelWarn, Message: "no sku exists on the shop", Payload: payload})
	default:
		r.journal.write(ctx, LogEntry{TransferID: t.ID, Event: EventSyncFailed, Level: LevelError, Message: "shop transfer left " + string(result.Status), Payload: payload})
	}
	return RunResult{Path: PathTransfer, Sync: &result}
}

func (r *Runner) adjust(ctx context.Context, t Transfer, origin catalog.Location) RunResult {
	if origin.ShopLocationGID == "" {
		return r.skip(ctx, t.ID, "origin has no shop location")
	}
	quantities := t.Quantities()
	skus := catalog.SortedSKUs(quantities)
	items, err := r.items.ResolveInventoryItems(ctx, skus)
	if err != nil {
		return r.fail(ctx, t.ID, shop.StepResolve, err)
	}
	deltas := make(map[string]int, len(items))
	var skipped []string
	for _, sku := range skus {
		item, ok := items[sku]
		if !ok {
			skipped = append(skipped, sku)
			continue
		}
		deltas[item] += quantities[sku]
	}
	if len(deltas) == 0 {
		r.journal.write(ctx, LogEntry{
			TransferID: t.ID,
			Event:      EventSyncCompleted,
			Level:      LevelWarn,
			Step:       shop.StepAdjust,
			Message:    "no sku exists on the shop",
			Payload:    map[string]any{"source": SourceAsync, "path": PathAdjustment, "skipped": skipped},
		})
		return RunResult{Path: PathAdjustment, Reason: "nothing to adjust"}
	}

	res, err := r.adjuster.Adjust(ctx, shop.AdjustInput{
		Key:         t.ID,
		LocationGID: origin.ShopLocationGID,
		Deltas:      deltas,
		Negate:      true,
		Reason:      "movement_created",
		Reference:   "stocksync://transfers/" + t.ID,
	})
	r.observeStep(shop.StepAdjust, err == nil)
	if err != nil {
		r.journal.write(ctx, LogEntry{
			TransferID: t.ID,
			Event:      EventSyncFailed,
			Level:      LevelError,
			Step:       shop.StepAdjust,
			Message:    "adjustment failed: " + err.Error(),
			Payload: map[string]any{
				"source":          SourceAsync,
				"path":            PathAdjustment,
				"idempotency_key": res.IdempotencyKey,
				"stale_baseline":  shop.IsStaleBaseline(err),
			},
		})
		return RunResult{Path: PathAdjustment, Adjust: &res, Reason: err.Error()}
	}
	r.journal.write(ctx, LogEntry{
		TransferID: t.ID,
		Event:      EventSyncCompleted,
		Step:       shop.StepAdjust,
		Message:    "origin stock decremented",
		Payload: map[string]any{
			"source":          SourceAsync,
			"path":            PathAdjustment,
			"group_gid":       res.GroupGID,
			"idempotency_key": res.IdempotencyKey,
			"changes":         res.Changes,
			"skipped":         skipped,
		},
	})
	return RunResult{Path: PathAdjustment, Adjust: &res}
}

func (r *Runner) skip(ctx context.Context, id, reason string) RunResult {
	r.journal.write(ctx, LogEntry{
		TransferID: id,
		Event:      EventSyncFailed,
		Level:      LevelWarn,
		Message:    "shop sync skipped: " + reason,
		Payload:    map[string]any{"source": SourceAsync},
	})
	return RunResult{Path: PathSkipped, Reason: reason}
}

func (r *Runner) fail(ctx context.Context, id, step string, err error) RunResult {
	if step != "" {
		r.observeStep(step, false)
	}
	r.journal.write(ctx, LogEntry{
		TransferID: id,
		Event:      EventSyncFailed,
		Level:      LevelError,
		Step:       step,
		Message:    "shop sync failed: " + err.Error(),
		Payload:    map[string]any{"source": SourceAsync},
	})
	return RunResult{Path: PathSkipped, Reason: err.Error()}
}

func (r *Runner) observeStep(step string, ok bool) {
	if r.observer != nil {
		r.observer.ObserveSagaStep(step, ok)
	}
}
