package transfer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/stocksync/internal/catalog"
	"github.com/odyssey-erp/stocksync/internal/erp"
	"github.com/odyssey-erp/stocksync/internal/shop"
)

// Store abstracts transfer persistence.
type Store interface {
	Create(ctx context.Context, t Transfer) (Transfer, error)
	Get(ctx context.Context, id string) (Transfer, error)
	GetByToken(ctx context.Context, token string) (Transfer, error)
	GetByShopTransferGID(ctx context.Context, gid string) (Transfer, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, int, error)
	ReplaceLines(ctx context.Context, id string, lines []Line) error
	Transition(ctx context.Context, id string, to Status, ref *ERPReference) (Transfer, error)
	SetShopTransferGID(ctx context.Context, id, gid string) error
	AppendLog(ctx context.Context, entry LogEntry) error
	Logs(ctx context.Context, id string) ([]LogEntry, error)
	HasEvent(ctx context.Context, id, event string) (bool, error)
}

// LocationSource looks up active locations by code.
type LocationSource interface {
	Location(ctx context.Context, code string) (catalog.Location, error)
}

// CodeResolver expands scanned codes into SKU lines.
type CodeResolver interface {
	Resolve(ctx context.Context, scans []catalog.ScanInput) ([]catalog.ResolvedLine, error)
}

// StockChecker reports SKUs whose requested quantity exceeds free stock.
type StockChecker interface {
	Check(ctx context.Context, locationCode string, erpLocationID int64, requested map[string]int) ([]erp.Shortage, error)
}

// MovementCommitter records a movement in the ERP.
type MovementCommitter interface {
	Commit(ctx context.Context, req erp.MoveRequest) (erp.MoveResult, error)
}

// Dispatcher starts the shop synchronization of a validated transfer without
// waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, transferID string) error
}

// TransferSyncer mirrors a movement as a platform transfer.
type TransferSyncer interface {
	Sync(ctx context.Context, in shop.TransferInput, hooks shop.Hooks) shop.SyncResult
}

// ItemResolver maps SKUs to platform inventory items.
type ItemResolver interface {
	ResolveInventoryItems(ctx context.Context, skus []string) (map[string]string, error)
}

// StockAdjuster applies one-sided platform quantity changes.
type StockAdjuster interface {
	Adjust(ctx context.Context, in shop.AdjustInput) (shop.AdjustResult, error)
}

// PlatformTransfers reads authoritative platform transfer state.
type PlatformTransfers interface {
	GetTransfer(ctx context.Context, gid string) (shop.Transfer, error)
}

// Observer receives saga metrics. A nil Observer is ignored.
type Observer interface {
	ObserveSagaStep(step string, ok bool)
	ObserveReconcile(status string)
}

// Routing holds the special-case destination policy.
type Routing struct {
	// PlantaLocationCode names the destination whose storefront stock is owned
	// by another system.
	PlantaLocationCode string
	// PlantaTransitLocationID is the ERP location used as destination instead.
	PlantaTransitLocationID int64
}

// IsPlanta reports whether destination takes the one-sided adjustment path.
func (r Routing) IsPlanta(destination string) bool {
	return r.PlantaLocationCode != "" && strings.EqualFold(strings.TrimSpace(destination), r.PlantaLocationCode)
}

// journal writes transfer log entries and mirrors them to slog. Failing to
// append is logged and never returned.
type journal struct {
	store  Store
	logger *slog.Logger
}

func (j journal) write(ctx context.Context, entry LogEntry) {
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	attrs := []any{
		slog.String("transfer_id", entry.TransferID),
		slog.String("event", entry.Event),
	}
	if entry.Step != "" {
		attrs = append(attrs, slog.String("step", entry.Step))
	}
	switch entry.Level {
	case LevelError:
		j.logger.Error(entry.Message, attrs...)
	case LevelWarn:
		j.logger.Warn(entry.Message, attrs...)
	default:
		j.logger.Info(entry.Message, attrs...)
	}
	if err := j.store.AppendLog(ctx, entry); err != nil {
		j.logger.Error("append transfer log", append(attrs, slog.Any("error", err))...)
	}
}
