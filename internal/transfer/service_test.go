package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocksync/internal/catalog"
	"github.com/odyssey-erp/stocksync/internal/erp"
	"github.com/odyssey-erp/stocksync/internal/shared"
)

func commitInput(token string) CommitInput {
	return CommitInput{
		Token:       token,
		Origin:      "WH",
		Destination: "STORE",
		Lines:       []catalog.ScanInput{{Code: "SKU-A", Qty: 3}, {Code: "BOX-A", Qty: 1}, {Code: "SKU-B", Qty: 2}},
		Actor:       "op-7",
	}
}

func TestCommitValidatesAndDispatches(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Commit(context.Background(), commitInput("tok-1"))
	require.NoError(t, err)
	require.False(t, result.Replayed)
	require.Equal(t, StockCheckPassed, result.StockCheck)
	require.Equal(t, StatusValidated, result.Transfer.Status)
	require.Equal(t, "op-7", result.Transfer.Owner)
	require.True(t, result.Transfer.HasERPMovement())

	calls := f.committer.calls()
	require.Len(t, calls, 1)
	require.Equal(t, map[string]int{"SKU-A": 15, "SKU-B": 2}, calls[0].Lines)
	require.Equal(t, int64(10), calls[0].OriginID)
	require.Equal(t, int64(20), calls[0].DestinationID)
	require.Equal(t, result.Transfer.ID, calls[0].Reference)
	require.Equal(t, []string{result.Transfer.ID}, f.dispatcher.dispatched())
	require.Equal(t, []string{EventCreated, EventStockCheck, EventERPCommit, EventValidated, EventDispatched}, f.store.events(result.Transfer.ID))
}

func TestCommitReplaysToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Commit(ctx, commitInput("tok-1"))
	require.NoError(t, err)
	second, err := f.svc.Commit(ctx, commitInput("tok-1"))
	require.NoError(t, err)

	require.True(t, second.Replayed)
	require.Equal(t, first.Transfer.ID, second.Transfer.ID)
	require.Equal(t, StatusValidated, second.Transfer.Status)
	require.Len(t, f.committer.calls(), 1)
	require.Equal(t, 1, f.store.count())
	require.Len(t, f.dispatcher.dispatched(), 1)
}

func TestCommitInsufficientStockListsEveryShortage(t *testing.T) {
	f := newFixture(t)
	f.stock.shortages = []erp.Shortage{
		{Code: "SKU-A", Requested: 15, Available: 4},
		{Code: "SKU-B", Requested: 2, Available: 0},
	}

	_, err := f.svc.Commit(context.Background(), commitInput("tok-1"))
	require.ErrorIs(t, err, ErrInsufficientStock)
	var shortage *InsufficientStockError
	require.True(t, errors.As(err, &shortage))
	require.Len(t, shortage.Shortages, 2)
	require.Contains(t, err.Error(), "SKU-B (requested 2, available 0)")

	require.Empty(t, f.committer.calls())
	require.Zero(t, f.store.count())
	require.Empty(t, f.dispatcher.dispatched())
}

func TestCommitStockCheckUnavailable(t *testing.T) {
	t.Run("fail open", func(t *testing.T) {
		f := newFixture(t)
		f.stock.err = errERPDown

		result, err := f.svc.Commit(context.Background(), commitInput("tok-1"))
		require.NoError(t, err)
		require.Equal(t, StockCheckSkipped, result.StockCheck)
		entry, ok := f.store.lastEvent(result.Transfer.ID, EventStockCheck)
		require.True(t, ok)
		require.Equal(t, LevelWarn, entry.Level)
		require.Equal(t, StockCheckSkipped, entry.Payload["stock_check"])
	})

	t.Run("fail closed", func(t *testing.T) {
		f := newFixture(t, func(cfg *ServiceConfig) { cfg.StockCheckFailOpen = false })
		f.stock.err = errERPDown

		_, err := f.svc.Commit(context.Background(), commitInput("tok-1"))
		require.ErrorIs(t, err, errERPDown)
		require.Empty(t, f.committer.calls())
		require.Zero(t, f.store.count())
	})

	t.Run("validation errors never fail open", func(t *testing.T) {
		f := newFixture(t)
		f.stock.err = shared.ErrValidation

		_, err := f.svc.Commit(context.Background(), commitInput("tok-1"))
		require.ErrorIs(t, err, shared.ErrValidation)
		require.Empty(t, f.committer.calls())
	})
}

func TestCommitResumesAfterERPFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.committer.err = errERPDown

	_, err := f.svc.Commit(ctx, commitInput("tok-1"))
	require.ErrorIs(t, err, errERPDown)
	pending, err := f.store.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, pending.Status)
	require.Empty(t, f.dispatcher.dispatched())

	f.committer.err = nil
	result, err := f.svc.Commit(ctx, commitInput("tok-1"))
	require.NoError(t, err)
	require.True(t, result.Replayed)
	require.Equal(t, pending.ID, result.Transfer.ID)
	require.Equal(t, StatusValidated, result.Transfer.Status)
	require.Equal(t, []string{pending.ID}, f.dispatcher.dispatched())
	require.Equal(t, 1, f.store.count())
}

func TestCommitPlantaUsesTransitLocation(t *testing.T) {
	f := newFixture(t)
	in := commitInput("")
	in.Destination = "PLANTA"

	result, err := f.svc.Commit(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "PLANTA", result.Transfer.DestinationCode)
	calls := f.committer.calls()
	require.Len(t, calls, 1)
	require.Equal(t, int64(plantaTransitID), calls[0].DestinationID)
	require.Equal(t, "PLANTA", calls[0].DestinationCode)
}

func TestCommitRejectsLocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := commitInput("")
	in.Destination = "WH"
	_, err := f.svc.Commit(ctx, in)
	require.ErrorIs(t, err, ErrSameLocation)

	in = commitInput("")
	in.Origin = "DOCK"
	_, err = f.svc.Commit(ctx, in)
	require.ErrorIs(t, err, ErrLocationNotAllowed)

	in = commitInput("")
	in.Destination = "NOWHERE"
	_, err = f.svc.Commit(ctx, in)
	require.ErrorIs(t, err, catalog.ErrLocationNotFound)

	in = commitInput("")
	in.Lines = nil
	_, err = f.svc.Commit(ctx, in)
	require.ErrorIs(t, err, catalog.ErrNoLines)

	require.Zero(t, f.stock.calls)
	require.Empty(t, f.committer.calls())
}

// racingStore validates the transfer through another path right before the
// service's own transition.
type racingStore struct {
	*memStore
	once bool
}

func (r *racingStore) Transition(ctx context.Context, id string, to Status, ref *ERPReference) (Transfer, error) {
	if to == StatusValidated && !r.once {
		r.once = true
		if _, err := r.memStore.Transition(ctx, id, StatusValidated, &ERPReference{PickingID: 7, PickingName: "WH/INT/00007", State: erp.StateDone}); err != nil {
			return Transfer{}, err
		}
	}
	return r.memStore.Transition(ctx, id, to, ref)
}

func TestCommitLosingTheRaceDoesNotDispatch(t *testing.T) {
	f := newFixture(t)
	store := &racingStore{memStore: f.store}
	svc := NewService(store, Dependencies{
		Locations:  f.svc.locations,
		Resolver:   f.svc.resolver,
		Stock:      f.stock,
		Committer:  f.committer,
		Dispatcher: f.dispatcher,
	}, f.svc.cfg, testLogger())

	result, err := svc.Commit(context.Background(), commitInput("tok-1"))
	require.NoError(t, err)
	require.True(t, result.Replayed)
	require.Equal(t, StatusValidated, result.Transfer.Status)
	require.Equal(t, int64(7), result.Transfer.ERPPickingID)
	require.Empty(t, f.dispatcher.dispatched())
}

func TestDraftLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.svc.CreateDraft(ctx, DraftInput{Origin: "WH", Destination: "STORE", Actor: "op-1"})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, draft.Status)
	require.Empty(t, draft.Lines)

	_, err = f.svc.CommitDraft(ctx, draft.ID, "op-1")
	require.ErrorIs(t, err, catalog.ErrNoLines)

	updated, err := f.svc.UpdateDraftLines(ctx, draft.ID, []catalog.ScanInput{{Code: "BOX-A", Qty: 2}}, "op-1")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"SKU-A": 24}, updated.Quantities())
	require.Empty(t, f.committer.calls())

	result, err := f.svc.CommitDraft(ctx, draft.ID, "op-1")
	require.NoError(t, err)
	require.Equal(t, StatusValidated, result.Transfer.Status)
	require.Len(t, f.committer.calls(), 1)

	_, err = f.svc.UpdateDraftLines(ctx, draft.ID, []catalog.ScanInput{{Code: "SKU-B", Qty: 1}}, "op-1")
	require.ErrorIs(t, err, ErrLinesLocked)
	_, err = f.svc.CommitDraft(ctx, draft.ID, "op-1")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Len(t, f.committer.calls(), 1)
}

func TestDraftsDisabled(t *testing.T) {
	f := newFixture(t, func(cfg *ServiceConfig) { cfg.DraftsEnabled = false })

	_, err := f.svc.CreateDraft(context.Background(), DraftInput{Origin: "WH", Destination: "STORE"})
	require.ErrorIs(t, err, ErrDraftsDisabled)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPendingThenReceive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreatePending(ctx, commitInput("tok-p"))
	require.NoError(t, err)
	require.Equal(t, StatusPending, created.Transfer.Status)
	require.Empty(t, f.committer.calls())

	again, err := f.svc.CreatePending(ctx, commitInput("tok-p"))
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, 1, f.store.count())

	received, err := f.svc.Receive(ctx, created.Transfer.ID, "op-2")
	require.NoError(t, err)
	require.Equal(t, StatusValidated, received.Transfer.Status)
	require.Len(t, f.committer.calls(), 1)
	require.Equal(t, []string{created.Transfer.ID}, f.dispatcher.dispatched())

	_, err = f.svc.Receive(ctx, created.Transfer.ID, "op-2")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed("pending", StatusPending, "STORE", 1)
	f.seed("validated", StatusValidated, "STORE", 1)
	linked := f.seed("linked", StatusPending, "STORE", 1)
	linked.ERPPickingID, linked.ERPPickingName = 55, "WH/INT/00055"
	f.store.put(linked)

	cancelled, err := f.svc.Cancel(ctx, "pending", "op-1", "wrong box")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	entry, ok := f.store.lastEvent("pending", EventCancelled)
	require.True(t, ok)
	require.Equal(t, "wrong box", entry.Payload["reason"])

	_, err = f.svc.Cancel(ctx, "pending", "op-1", "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.Cancel(ctx, "validated", "op-1", "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.Cancel(ctx, "linked", "op-1", "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.Cancel(ctx, "missing", "op-1", "")
	require.ErrorIs(t, err, ErrTransferNotFound)
}

func TestReceiveReusesLinkedPicking(t *testing.T) {
	f := newFixture(t)
	linked := f.seed("linked", StatusPending, "STORE", 2)
	linked.ERPPickingID, linked.ERPPickingName, linked.ERPState = 55, "WH/INT/00055", erp.StateDone
	f.store.put(linked)

	result, err := f.svc.Receive(context.Background(), "linked", "op-1")
	require.NoError(t, err)
	require.Equal(t, StatusValidated, result.Transfer.Status)
	require.Equal(t, int64(55), result.Transfer.ERPPickingID)
	require.Empty(t, f.committer.calls())
}

func TestListValidatesStatus(t *testing.T) {
	f := newFixture(t)
	f.seed("a", StatusPending, "STORE", 1)
	f.seed("b", StatusValidated, "STORE", 1)

	transfers, page, err := f.svc.List(context.Background(), ListFilter{Status: StatusValidated})
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, "b", transfers[0].ID)
	require.Equal(t, 1, page.Total)

	_, _, err = f.svc.List(context.Background(), ListFilter{Status: "shipped"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestResyncRequiresValidated(t *testing.T) {
	f := newFixture(t)
	f.seed("pending", StatusPending, "STORE", 1)
	f.seed("validated", StatusValidated, "STORE", 1)

	require.ErrorIs(t, f.svc.Resync(context.Background(), "pending", "op"), ErrInvalidTransition)
	require.NoError(t, f.svc.Resync(context.Background(), "validated", "op"))
	require.Equal(t, []string{"validated"}, f.dispatcher.dispatched())
}

func TestAdjustResolvesSKUs(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Adjust(context.Background(), AdjustInput{
		Key:      "adj-1",
		Location: "WH",
		Deltas:   map[string]int{"SKU-A": 2, "SKU-X": 1},
		Reason:   "correction",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"SKU-X"}, result.Skipped)
	require.Len(t, f.adjuster.inputs, 1)
	in := f.adjuster.inputs[0]
	require.Equal(t, whShopGID, in.LocationGID)
	require.Equal(t, map[string]int{"gid://shopify/InventoryItem/11": 2}, in.Deltas)
	require.Equal(t, "adj-1", in.Key)
	require.False(t, in.Negate)
}
