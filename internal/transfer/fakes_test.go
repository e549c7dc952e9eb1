package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/odyssey-erp/stocksync/internal/catalog"
	"github.com/odyssey-erp/stocksync/internal/erp"
	"github.com/odyssey-erp/stocksync/internal/shop"
)

// memStore is an in-memory Store with the same conditional transition
// semantics as the Postgres repository.
type memStore struct {
	mu        sync.Mutex
	transfers map[string]Transfer
	order     []string
	logs      []LogEntry
	getErr    error
}

func newMemStore() *memStore {
	return &memStore{transfers: map[string]Transfer{}}
}

func cloneTransfer(t Transfer) Transfer {
	t.Lines = append([]Line(nil), t.Lines...)
	return t
}

func (m *memStore) Create(_ context.Context, t Transfer) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Token != "" {
		for _, existing := range m.transfers {
			if existing.Token == t.Token {
				return Transfer{}, ErrDuplicateToken
			}
		}
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	m.transfers[t.ID] = cloneTransfer(t)
	m.order = append(m.order, t.ID)
	return cloneTransfer(t), nil
}

func (m *memStore) Get(_ context.Context, id string) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return Transfer{}, m.getErr
	}
	t, ok := m.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return cloneTransfer(t), nil
}

func (m *memStore) find(match func(Transfer) bool) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if t := m.transfers[id]; match(t) {
			return cloneTransfer(t), nil
		}
	}
	return Transfer{}, ErrTransferNotFound
}

func (m *memStore) GetByToken(_ context.Context, token string) (Transfer, error) {
	return m.find(func(t Transfer) bool { return t.Token == token })
}

func (m *memStore) GetByShopTransferGID(_ context.Context, gid string) (Transfer, error) {
	return m.find(func(t Transfer) bool { return gid != "" && t.ShopTransferGID == gid })
}

func (m *memStore) List(_ context.Context, filter ListFilter) ([]Transfer, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Transfer
	for _, id := range m.order {
		t := m.transfers[id]
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Origin != "" && t.OriginCode != filter.Origin {
			continue
		}
		if filter.Destination != "" && t.DestinationCode != filter.Destination {
			continue
		}
		matched = append(matched, cloneTransfer(t))
	}
	total := len(matched)
	start := (filter.Page - 1) * filter.PerPage
	if start > total {
		start = total
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *memStore) ReplaceLines(_ context.Context, id string, lines []Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return ErrTransferNotFound
	}
	if t.Status != StatusDraft {
		return ErrLinesLocked
	}
	t.Lines = append([]Line(nil), lines...)
	t.UpdatedAt = time.Now().UTC()
	m.transfers[id] = t
	return nil
}

func (m *memStore) Transition(_ context.Context, id string, to Status, ref *ERPReference) (Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	if !CanTransition(t.Status, to) {
		return Transfer{}, ErrInvalidTransition
	}
	t.Status = to
	if ref != nil {
		t.ERPPickingID, t.ERPPickingName, t.ERPState = ref.PickingID, ref.PickingName, ref.State
	}
	t.UpdatedAt = time.Now().UTC()
	m.transfers[id] = t
	return cloneTransfer(t), nil
}

func (m *memStore) SetShopTransferGID(_ context.Context, id, gid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return ErrTransferNotFound
	}
	t.ShopTransferGID = gid
	m.transfers[id] = t
	return nil
}

func (m *memStore) AppendLog(_ context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.logs) + 1)
	entry.CreatedAt = time.Now().UTC()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *memStore) Logs(_ context.Context, id string) ([]LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LogEntry
	for _, entry := range m.logs {
		if entry.TransferID == id {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memStore) HasEvent(_ context.Context, id, event string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.logs {
		if entry.TransferID == id && entry.Event == event {
			return true, nil
		}
	}
	return false, nil
}

// put stores t as is, bypassing every guard.
func (m *memStore) put(t Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transfers[t.ID]; !ok {
		m.order = append(m.order, t.ID)
	}
	m.transfers[t.ID] = cloneTransfer(t)
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfers)
}

func (m *memStore) events(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, entry := range m.logs {
		if entry.TransferID == id {
			out = append(out, entry.Event)
		}
	}
	return out
}

func (m *memStore) lastEvent(id, event string) (LogEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].TransferID == id && m.logs[i].Event == event {
			return m.logs[i], true
		}
	}
	return LogEntry{}, false
}

type fakeLocations map[string]catalog.Location

func (f fakeLocations) Location(_ context.Context, code string) (catalog.Location, error) {
	loc, ok := f[code]
	if !ok {
		return catalog.Location{}, catalog.ErrLocationNotFound
	}
	return loc, nil
}

type fakeBoxes map[string]catalog.Box

func (f fakeBoxes) ActiveBoxesByCodes(_ context.Context, codes []string) (map[string]catalog.Box, error) {
	out := map[string]catalog.Box{}
	for _, code := range codes {
		if box, ok := f[code]; ok {
			out[code] = box
		}
	}
	return out, nil
}

type fakeStock struct {
	mu        sync.Mutex
	shortages []erp.Shortage
	err       error
	calls     int
}

func (f *fakeStock) Check(_ context.Context, _ string, _ int64, _ map[string]int) ([]erp.Shortage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.shortages, f.err
}

// fakeCommitter de-duplicates by correlation id like the real committer.
type fakeCommitter struct {
	mu       sync.Mutex
	requests []erp.MoveRequest
	byKey    map[string]erp.MoveResult
	state    string
	err      error
}

func newFakeCommitter() *fakeCommitter {
	return &fakeCommitter{byKey: map[string]erp.MoveResult{}, state: erp.StateDone}
}

func (f *fakeCommitter) Commit(_ context.Context, req erp.MoveRequest) (erp.MoveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return erp.MoveResult{}, f.err
	}
	if existing, ok := f.byKey[req.CorrelationID]; ok {
		existing.Reused = true
		return existing, nil
	}
	id := int64(100 + len(f.byKey))
	result := erp.MoveResult{ID: id, Name: fmt.Sprintf("WH/INT/%05d", id), State: f.state}
	f.byKey[req.CorrelationID] = result
	return result, nil
}

func (f *fakeCommitter) calls() []erp.MoveRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]erp.MoveRequest(nil), f.requests...)
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
	return d.err
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

type fakeItems map[string]string

func (f fakeItems) ResolveInventoryItems(_ context.Context, skus []string) (map[string]string, error) {
	out := map[string]string{}
	for _, sku := range skus {
		if gid, ok := f[sku]; ok {
			out[sku] = gid
		}
	}
	return out, nil
}

type fakeAdjuster struct {
	mu     sync.Mutex
	inputs []shop.AdjustInput
	err    error
}

func (f *fakeAdjuster) Adjust(_ context.Context, in shop.AdjustInput) (shop.AdjustResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return shop.AdjustResult{IdempotencyKey: in.Key}, f.err
	}
	items := make([]string, 0, len(in.Deltas))
	for item := range in.Deltas {
		items = append(items, item)
	}
	sort.Strings(items)
	res := shop.AdjustResult{GroupGID: "gid://shopify/InventoryAdjustmentGroup/1", IdempotencyKey: in.Key}
	for _, item := range items {
		delta := in.Deltas[item]
		if in.Negate {
			delta = -delta
		}
		res.Changes = append(res.Changes, shop.AdjustChange{InventoryItemGID: item, Delta: delta, Baseline: 50})
	}
	return res, nil
}

type fakeSyncer struct {
	mu     sync.Mutex
	inputs []shop.TransferInput
	result shop.SyncResult
	panics bool
}

func (f *fakeSyncer) Sync(ctx context.Context, in shop.TransferInput, hooks shop.Hooks) shop.SyncResult {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	result := f.result
	panics := f.panics
	f.mu.Unlock()
	if panics {
		panic("platform exploded")
	}
	if result.TransferGID != "" && hooks.OnCreated != nil {
		hooks.OnCreated(ctx, result.TransferGID)
	}
	if hooks.Record != nil {
		hooks.Record(ctx, shop.StepOutcome{Step: shop.StepCreate, OK: result.TransferGID != "", IdempotencyKey: shop.IdempotencyKey(in.TransferID, shop.StepCreate)})
	}
	return result
}

func (f *fakeSyncer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type fakePlatform struct {
	transfers map[string]shop.Transfer
	err       error
}

func (f *fakePlatform) GetTransfer(_ context.Context, gid string) (shop.Transfer, error) {
	if f.err != nil {
		return shop.Transfer{}, f.err
	}
	t, ok := f.transfers[gid]
	if !ok {
		return shop.Transfer{}, shop.ErrTransferNotFound
	}
	return t, nil
}

type fakeObserver struct {
	mu         sync.Mutex
	steps      []string
	reconciles []string
}

func (f *fakeObserver) ObserveSagaStep(step string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, fmt.Sprintf("%s:%t", step, ok))
}

func (f *fakeObserver) ObserveReconcile(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciles = append(f.reconciles, status)
}

const (
	plantaTransitID = 99
	storeShopGID    = "gid://shopify/Location/2"
	whShopGID       = "gid://shopify/Location/1"
)

var errERPDown = errors.New("erp unreachable")

type fixture struct {
	store      *memStore
	stock      *fakeStock
	committer  *fakeCommitter
	dispatcher *recordingDispatcher
	adjuster   *fakeAdjuster
	syncer     *fakeSyncer
	platform   *fakePlatform
	observer   *fakeObserver
	routing    Routing
	svc        *Service
	runner     *Runner
	reconciler *Reconciler
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, mutate ...func(*ServiceConfig)) *fixture {
	t.Helper()
	f := &fixture{
		store:      newMemStore(),
		stock:      &fakeStock{},
		committer:  newFakeCommitter(),
		dispatcher: &recordingDispatcher{},
		adjuster:   &fakeAdjuster{},
		syncer:     &fakeSyncer{},
		platform:   &fakePlatform{transfers: map[string]shop.Transfer{}},
		observer:   &fakeObserver{},
		routing:    Routing{PlantaLocationCode: "PLANTA", PlantaTransitLocationID: plantaTransitID},
	}
	locations := fakeLocations{
		"WH":     {Code: "WH", CanBeOrigin: true, CanBeDestination: true, ERPLocationID: 10, ShopLocationGID: whShopGID, Active: true},
		"STORE":  {Code: "STORE", CanBeOrigin: true, CanBeDestination: true, ERPLocationID: 20, ShopLocationGID: storeShopGID, Active: true},
		"PLANTA": {Code: "PLANTA", CanBeDestination: true, ERPLocationID: 30, ShopLocationGID: "gid://shopify/Location/3", Active: true},
		"DOCK":   {Code: "DOCK", ERPLocationID: 40, Active: true},
	}
	items := fakeItems{"SKU-A": "gid://shopify/InventoryItem/11", "SKU-B": "gid://shopify/InventoryItem/12"}
	cfg := ServiceConfig{DraftsEnabled: true, StockCheckFailOpen: true, Routing: f.routing}
	for _, m := range mutate {
		m(&cfg)
	}
	logger := testLogger()
	f.svc = NewService(f.store, Dependencies{
		Locations:  locations,
		Resolver:   catalog.NewResolver(fakeBoxes{"BOX-A": {Code: "BOX-A", SKU: "SKU-A", QtyPerBox: 12, Active: true}}),
		Stock:      f.stock,
		Committer:  f.committer,
		Dispatcher: f.dispatcher,
		Items:      items,
		Adjuster:   f.adjuster,
	}, cfg, logger)
	f.runner = NewRunner(f.store, RunnerDeps{
		Locations: locations,
		Syncer:    f.syncer,
		Items:     items,
		Adjuster:  f.adjuster,
		Observer:  f.observer,
	}, f.routing, logger)
	f.reconciler = NewReconciler(f.svc, f.platform, f.observer, logger)
	return f
}

// seed stores a transfer in status with one SKU-A line of qty.
func (f *fixture) seed(id string, status Status, dest string, qty int) Transfer {
	t := Transfer{
		ID:              id,
		OriginCode:      "WH",
		DestinationCode: dest,
		Status:          status,
		Owner:           "tester",
		Lines:           []Line{{SKU: "SKU-A", ScannedCode: "SKU-A", Qty: qty}},
	}
	f.store.put(t)
	return t
}
