package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocksync/internal/shop"
)

func TestRunTransferPath(t *testing.T) {
	f := newFixture(t)
	f.seed("t-1", StatusValidated, "STORE", 4)
	f.syncer.result = shop.SyncResult{Synced: 1, TransferGID: "gid://shopify/InventoryTransfer/900", Status: shop.SyncReceived}

	result, err := f.runner.Run(context.Background(), "t-1", false)
	require.NoError(t, err)
	require.Equal(t, PathTransfer, result.Path)
	require.Equal(t, shop.SyncReceived, result.Sync.Status)

	require.Len(t, f.syncer.inputs, 1)
	in := f.syncer.inputs[0]
	require.Equal(t, "t-1", in.TransferID)
	require.Equal(t, whShopGID, in.OriginLocationGID)
	require.Equal(t, storeShopGID, in.DestinationLocationGID)
	require.Equal(t, map[string]int{"SKU-A": 4}, in.Lines)

	stored, err := f.store.Get(context.Background(), "t-1")
	require.NoError(t, err)
	require.Equal(t, "gid://shopify/InventoryTransfer/900", stored.ShopTransferGID)

	step, ok := f.store.lastEvent("t-1", EventSyncStep)
	require.True(t, ok)
	require.Equal(t, shop.StepCreate, step.Step)
	require.Equal(t, shop.IdempotencyKey("t-1", shop.StepCreate), step.Payload["idempotency_key"])
	require.Equal(t, []string{shop.StepCreate + ":true"}, f.observer.steps)
	_, ok = f.store.lastEvent("t-1", EventSyncCompleted)
	require.True(t, ok)
}

func TestRunSkipsCompletedUnlessForced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed("t-1", StatusValidated, "STORE", 1)
	f.syncer.result = shop.SyncResult{Synced: 1, TransferGID: "gid://shopify/InventoryTransfer/900", Status: shop.SyncReceived}

	_, err := f.runner.Run(ctx, "t-1", false)
	require.NoError(t, err)
	again, err := f.runner.Run(ctx, "t-1", false)
	require.NoError(t, err)
	require.Equal(t, PathSkipped, again.Path)
	require.Equal(t, 1, f.syncer.calls())

	forced, err := f.runner.Run(ctx, "t-1", true)
	require.NoError(t, err)
	require.Equal(t, PathTransfer, forced.Path)
	require.Equal(t, 2, f.syncer.calls())
}

func TestRunFailureIsLoggedNotReturned(t *testing.T) {
	f := newFixture(t)
	f.seed("t-1", StatusValidated, "STORE", 1)
	f.syncer.result = shop.SyncResult{Status: shop.SyncFailed}

	result, err := f.runner.Run(context.Background(), "t-1", false)
	require.NoError(t, err)
	require.Equal(t, shop.SyncFailed, result.Sync.Status)
	entry, ok := f.store.lastEvent("t-1", EventSyncFailed)
	require.True(t, ok)
	require.Equal(t, LevelError, entry.Level)
	require.Equal(t, SourceAsync, entry.Payload["source"])
	done, err := f.store.HasEvent(context.Background(), "t-1", EventSyncCompleted)
	require.NoError(t, err)
	require.False(t, done)
}

func TestRunPlantaDecrementsOrigin(t *testing.T) {
	f := newFixture(t)
	f.seed("t-1", StatusValidated, "PLANTA", 6)

	result, err := f.runner.Run(context.Background(), "t-1", false)
	require.NoError(t, err)
	require.Equal(t, PathAdjustment, result.Path)
	require.Zero(t, f.syncer.calls())

	require.Len(t, f.adjuster.inputs, 1)
	in := f.adjuster.inputs[0]
	require.True(t, in.Negate)
	require.Equal(t, whShopGID, in.LocationGID)
	require.Equal(t, "t-1", in.Key)
	require.Equal(t, "movement_created", in.Reason)
	require.Equal(t, map[string]int{"gid://shopify/InventoryItem/11": 6}, in.Deltas)
	require.Equal(t, -6, result.Adjust.Changes[0].Delta)
	require.Equal(t, []string{shop.StepAdjust + ":true"}, f.observer.steps)
}

func TestRunPlantaAdjustFailure(t *testing.T) {
	f := newFixture(t)
	f.seed("t-1", StatusValidated, "PLANTA", 6)
	f.adjuster.err = errERPDown

	result, err := f.runner.Run(context.Background(), "t-1", false)
	require.NoError(t, err)
	require.Equal(t, PathAdjustment, result.Path)
	require.Contains(t, result.Reason, "erp unreachable")
	entry, ok := f.store.lastEvent("t-1", EventSyncFailed)
	require.True(t, ok)
	require.Equal(t, shop.StepAdjust, entry.Step)
	require.Equal(t, []string{shop.StepAdjust + ":false"}, f.observer.steps)
}

func TestRunSkipsUnvalidated(t *testing.T) {
	f := newFixture(t)
	f.seed("t-1", StatusPending, "STORE", 1)

	result, err := f.runner.Run(context.Background(), "t-1", false)
	require.NoError(t, err)
	require.Equal(t, PathSkipped, result.Path)
	require.Zero(t, f.syncer.calls())

	_, err = f.runner.Run(context.Background(), "missing", false)
	require.ErrorIs(t, err, ErrTransferNotFound)
}
