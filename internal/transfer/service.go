package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stocksync/internal/catalog"
	"github.com/odyssey-erp/stocksync/internal/erp"
	"github.com/odyssey-erp/stocksync/internal/shared"
	"github.com/odyssey-erp/stocksync/internal/shop"
)

// ServiceConfig groups lifecycle settings.
type ServiceConfig struct {
	DraftsEnabled      bool
	StockCheckFailOpen bool
	Routing            Routing
}

// Dependencies groups the collaborators of Service.
type Dependencies struct {
	Locations  LocationSource
	Resolver   CodeResolver
	Stock      StockChecker
	Committer  MovementCommitter
	Locker     shared.Locker
	Dispatcher Dispatcher
	Items      ItemResolver
	Adjuster   StockAdjuster
}

// Service coordinates the transfer lifecycle and the synchronous saga path.
type Service struct {
	store      Store
	locations  LocationSource
	resolver   CodeResolver
	stock      StockChecker
	committer  MovementCommitter
	locker     shared.Locker
	dispatcher Dispatcher
	items      ItemResolver
	adjuster   StockAdjuster
	cfg        ServiceConfig
	journal    journal
	logger     *slog.Logger
	newID      func() string
}

// NewService builds Service. A nil Locker falls back to a process-local one.
func NewService(store Store, deps Dependencies, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	locker := deps.Locker
	if locker == nil {
		locker = shared.NewLocalLocker()
	}
	return &Service{
		store:      store,
		locations:  deps.Locations,
		resolver:   deps.Resolver,
		stock:      deps.Stock,
		committer:  deps.Committer,
		locker:     locker,
		dispatcher: deps.Dispatcher,
		items:      deps.Items,
		adjuster:   deps.Adjuster,
		cfg:        cfg,
		journal:    journal{store: store, logger: logger},
		logger:     logger,
		newID:      func() string { return uuid.NewString() },
	}
}

// CommitInput is a request to move scanned lines between two locations.
type CommitInput struct {
	Token       string
	Origin      string
	Destination string
	Lines       []catalog.ScanInput
	Note        string
	Actor       string
}

// DraftInput opens a draft transfer.
type DraftInput struct {
	Origin      string
	Destination string
	Lines       []catalog.ScanInput
	Note        string
	Actor       string
}

// Stock check outcomes.
const (
	StockCheckPassed  = "passed"
	StockCheckSkipped = "skipped"
)

// CommitResult is the outcome of a synchronous commit.
type CommitResult struct {
	Transfer   Transfer `json:"transfer"`
	Replayed   bool     `json:"replayed"`
	StockCheck string   `json:"stock_check,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Commit validates stock, records the movement in the ERP and starts the shop
// synchronization. A repeated token returns the stored transfer.
func (s *Service) Commit(ctx context.Context, in CommitInput) (CommitResult, error) {
	if in.Token != "" {
		existing, err := s.store.GetByToken(ctx, in.Token)
		if err == nil {
			return s.replay(ctx, existing)
		}
		if !errors.Is(err, ErrTransferNotFound) {
			return CommitResult{}, err
		}
	}
	origin, dest, err := s.route(ctx, in.Origin, in.Destination)
	if err != nil {
		return CommitResult{}, err
	}
	lines, totals, err := s.resolveLines(ctx, in.Lines)
	if err != nil {
		return CommitResult{}, err
	}
	check, err := s.checkStock(ctx, origin, totals)
	if err != nil {
		return CommitResult{}, err
	}

	created, err := s.store.Create(ctx, Transfer{
		ID:              s.newID(),
		Token:           in.Token,
		OriginCode:      origin.Code,
		DestinationCode: dest.Code,
		Status:          StatusPending,
		Owner:           actorOr(in.Actor),
		Note:            in.Note,
		Lines:           lines,
	})
	if errors.Is(err, ErrDuplicateToken) {
		existing, getErr := s.store.GetByToken(ctx, in.Token)
		if getErr != nil {
			return CommitResult{}, getErr
		}
		return s.replay(ctx, existing)
	}
	if err != nil {
		return CommitResult{}, err
	}
	s.logCreated(ctx, created)
	s.logStockCheck(ctx, created.ID, check)

	result, err := s.complete(ctx, created.ID, origin, dest, SourceAPI)
	result.StockCheck = check.outcome()
	return result, err
}

// replay returns a token's transfer. A pending one left behind by a failed ERP
// commit is completed.
func (s *Service) replay(ctx context.Context, t Transfer) (CommitResult, error) {
	if t.Status != StatusPending {
		return CommitResult{Transfer: t, Replayed: true}, nil
	}
	origin, dest, err := s.route(ctx, t.OriginCode, t.DestinationCode)
	if err != nil {
		return CommitResult{}, err
	}
	result, err := s.complete(ctx, t.ID, origin, dest, SourceAPI)
	result.Replayed = true
	return result, err
}

// CreateDraft opens an editable draft.
func (s *Service) CreateDraft(ctx context.Context, in DraftInput) (Transfer, error) {
	if !s.cfg.DraftsEnabled {
		return Transfer{}, ErrDraftsDisabled
	}
	origin, dest, err := s.route(ctx, in.Origin, in.Destination)
	if err != nil {
		return Transfer{}, err
	}
	var lines []Line
	if len(in.Lines) > 0 {
		if lines, _, err = s.resolveLines(ctx, in.Lines); err != nil {
			return Transfer{}, err
		}
	}
	created, err := s.store.Create(ctx, Transfer{
		ID:              s.newID(),
		OriginCode:      origin.Code,
		DestinationCode: dest.Code,
		Status:          StatusDraft,
		Owner:           actorOr(in.Actor),
		Note:            in.Note,
		Lines:           lines,
	})
	if err != nil {
		return Transfer{}, err
	}
	s.logCreated(ctx, created)
	return created, nil
}

// UpdateDraftLines replaces every line of a draft.
func (s *Service) UpdateDraftLines(ctx context.Context, id string, scans []catalog.ScanInput, actor string) (Transfer, error) {
	var lines []Line
	if len(scans) > 0 {
		var err error
		if lines, _, err = s.resolveLines(ctx, scans); err != nil {
			return Transfer{}, err
		}
	}
	if err := s.store.ReplaceLines(ctx, id, lines); err != nil {
		return Transfer{}, err
	}
	s.journal.write(ctx, LogEntry{
		TransferID: id,
		Event:      EventLinesReplaced,
		Message:    "draft lines replaced",
		Payload:    map[string]any{"lines": len(lines), "actor": actorOr(actor)},
	})
	return s.store.Get(ctx, id)
}

// CommitDraft validates a draft through the same path as Commit.
func (s *Service) CommitDraft(ctx context.Context, id, actor string) (CommitResult, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return CommitResult{}, err
	}
	if t.Status != StatusDraft {
		return CommitResult{}, fmt.Errorf("commit draft in status %s: %w", t.Status, ErrInvalidTransition)
	}
	totals := t.Quantities()
	if len(totals) == 0 {
		return CommitResult{}, catalog.ErrNoLines
	}
	origin, dest, err := s.route(ctx, t.OriginCode, t.DestinationCode)
	if err != nil {
		return CommitResult{}, err
	}
	check, err := s.checkStock(ctx, origin, totals)
	if err != nil {
		return CommitResult{}, err
	}
	s.logStockCheck(ctx, t.ID, check)
	result, err := s.complete(ctx, t.ID, origin, dest, SourceAPI)
	result.StockCheck = check.outcome()
	return result, err
}

// CreatePending records an order created at origin and awaiting receipt. No
// ERP movement is made until Receive.
func (s *Service) CreatePending(ctx context.Context, in CommitInput) (CommitResult, error) {
	if in.Token != "" {
		existing, err := s.store.GetByToken(ctx, in.Token)
		if err == nil {
			return CommitResult{Transfer: existing, Replayed: true}, nil
		}
		if !errors.Is(err, ErrTransferNotFound) {
			return CommitResult{}, err
		}
	}
	origin, dest, err := s.route(ctx, in.Origin, in.Destination)
	if err != nil {
		return CommitResult{}, err
	}
	lines, totals, err := s.resolveLines(ctx, in.Lines)
	if err != nil {
		return CommitResult{}, err
	}
	check, err := s.checkStock(ctx, origin, totals)
	if err != nil {
		return CommitResult{}, err
	}
	created, err := s.store.Create(ctx, Transfer{
		ID:              s.newID(),
		Token:           in.Token,
		OriginCode:      origin.Code,
		DestinationCode: dest.Code,
		Status:          StatusPending,
		Owner:           actorOr(in.Actor),
		Note:            in.Note,
		Lines:           lines,
	})
	if errors.Is(err, ErrDuplicateToken) {
		existing, getErr := s.store.GetByToken(ctx, in.Token)
		if getErr != nil {
			return CommitResult{}, getErr
		}
		return CommitResult{Transfer: existing, Replayed: true}, nil
	}
	if err != nil {
		return CommitResult{}, err
	}
	s.logCreated(ctx, created)
	s.logStockCheck(ctx, created.ID, check)
	return CommitResult{Transfer: created, StockCheck: check.outcome()}, nil
}

// Receive validates a pending transfer, committing the ERP movement if it does
// not exist yet.
func (s *Service) Receive(ctx context.Context, id, actor string) (CommitResult, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return CommitResult{}, err
	}
	if t.Status != StatusPending {
		return CommitResult{}, fmt.Errorf("receive transfer in status %s: %w", t.Status, ErrInvalidTransition)
	}
	origin, dest, err := s.route(ctx, t.OriginCode, t.DestinationCode)
	if err != nil {
		return CommitResult{}, err
	}
	s.logger.Info("receiving transfer", slog.String("transfer_id", id), slog.String("actor", actorOr(actor)))
	return s.complete(ctx, id, origin, dest, SourceAPI)
}

// Cancel moves a draft or pending transfer to cancelled.
func (s *Service) Cancel(ctx context.Context, id, actor, reason string) (Transfer, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	if !CanTransition(t.Status, StatusCancelled) {
		return Transfer{}, fmt.Errorf("cancel transfer in status %s: %w", t.Status, ErrInvalidTransition)
	}
	if t.HasERPMovement() {
		return Transfer{}, fmt.Errorf("cancel transfer with erp picking %s: %w", t.ERPPickingName, ErrInvalidTransition)
	}
	cancelled, err := s.store.Transition(ctx, id, StatusCancelled, nil)
	if err != nil {
		return Transfer{}, err
	}
	s.journal.write(ctx, LogEntry{
		TransferID: id,
		Event:      EventCancelled,
		Message:    "transfer cancelled",
		Payload:    map[string]any{"actor": actorOr(actor), "reason": reason, "from": string(t.Status)},
	})
	return cancelled, nil
}

// Get returns one transfer with its lines.
func (s *Service) Get(ctx context.Context, id string) (Transfer, error) {
	return s.store.Get(ctx, id)
}

// List returns a page of transfers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, shared.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, fmt.Errorf("unknown status %q: %w", filter.Status, shared.ErrValidation)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	filter.Page, filter.PerPage = page.Page, page.PerPage
	transfers, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return transfers, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Logs returns the log of a transfer.
func (s *Service) Logs(ctx context.Context, id string) ([]LogEntry, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Logs(ctx, id)
}

// Resync dispatches the shop synchronization of a validated transfer again.
func (s *Service) Resync(ctx context.Context, id, actor string) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != StatusValidated {
		return fmt.Errorf("resync transfer in status %s: %w", t.Status, ErrInvalidTransition)
	}
	return s.dispatch(ctx, id, map[string]any{"actor": actorOr(actor), "resync": true})
}

// AdjustInput is a manual one-sided stock correction on the platform.
type AdjustInput struct {
	Key      string
	Location string
	// Deltas maps SKU to quantity change.
	Deltas map[string]int
	Negate bool
	Reason string
	Actor  string
}

// AdjustResult reports a manual adjustment.
type AdjustResult struct {
	shop.AdjustResult
	Skipped []string `json:"skipped,omitempty"`
}

// Adjust applies a manual adjustment at a location's platform counterpart.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (AdjustResult, error) {
	if s.items == nil || s.adjuster == nil {
		return AdjustResult{}, fmt.Errorf("adjustments not configured: %w", shared.ErrValidation)
	}
	loc, err := s.locations.Location(ctx, in.Location)
	if err != nil {
		return AdjustResult{}, err
	}
	if loc.ShopLocationGID == "" {
		return AdjustResult{}, fmt.Errorf("%s: %w", loc.Code, ErrNoShopLocation)
	}
	skus := make([]string, 0, len(in.Deltas))
	for sku, delta := range in.Deltas {
		sku = catalog.Normalize(sku)
		if sku != "" && delta != 0 {
			skus = append(skus, sku)
		}
	}
	if len(skus) == 0 {
		return AdjustResult{}, shop.ErrNothingToAdjust
	}
	sort.Strings(skus)
	items, err := s.items.ResolveInventoryItems(ctx, skus)
	if err != nil {
		return AdjustResult{}, err
	}
	var out AdjustResult
	deltas := make(map[string]int, len(items))
	for sku, delta := range in.Deltas {
		item, ok := items[catalog.Normalize(sku)]
		if !ok {
			continue
		}
		deltas[item] += delta
	}
	for _, sku := range skus {
		if _, ok := items[sku]; !ok {
			out.Skipped = append(out.Skipped, sku)
		}
	}
	key := in.Key
	if key == "" {
		key = s.newID()
	}
	res, err := s.adjuster.Adjust(ctx, shop.AdjustInput{
		Key:         key,
		LocationGID: loc.ShopLocationGID,
		Deltas:      deltas,
		Negate:      in.Negate,
		Reason:      in.Reason,
		Reference:   "stocksync://adjustments/" + key,
	})
	out.AdjustResult = res
	if err != nil {
		s.logger.Warn("manual adjustment failed",
			slog.String("location", loc.Code),
			slog.String("actor", actorOr(in.Actor)),
			slog.Bool("stale_baseline", shop.IsStaleBaseline(err)),
			slog.Any("error", err))
		return out, err
	}
	s.logger.Info("manual adjustment applied",
		slog.String("location", loc.Code),
		slog.String("actor", actorOr(in.Actor)),
		slog.Int("changes", len(res.Changes)))
	return out, nil
}

// complete commits the ERP movement of a draft or pending transfer under the
// transfer lock, marks it validated and dispatches the shop synchronization.
func (s *Service) complete(ctx context.Context, id string, origin, dest catalog.Location, source string) (CommitResult, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return CommitResult{}, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return CommitResult{}, err
	}
	if t.Status == StatusValidated {
		return CommitResult{Transfer: t, Replayed: true}, nil
	}
	if !CanTransition(t.Status, StatusValidated) {
		return CommitResult{}, fmt.Errorf("validate transfer in status %s: %w", t.Status, ErrInvalidTransition)
	}
	validated, move, won, err := s.commitMovement(ctx, t, origin, dest, t.Quantities(), source)
	if err != nil {
		return CommitResult{}, err
	}
	if won {
		_ = s.dispatch(ctx, validated.ID, map[string]any{"source": source})
	}
	return CommitResult{Transfer: validated, Warnings: move.Warnings, Replayed: !won}, nil
}

// commitMovement records lines in the ERP (reusing a linked picking) and marks
// t validated. won is false when another path validated t first. Callers hold
// the transfer lock.
func (s *Service) commitMovement(ctx context.Context, t Transfer, origin, dest catalog.Location, lines map[string]int, source string) (Transfer, erp.MoveResult, bool, error) {
	var move erp.MoveResult
	if t.HasERPMovement() {
		move = erp.MoveResult{ID: t.ERPPickingID, Name: t.ERPPickingName, State: t.ERPState, Reused: true}
	} else {
		req := erp.MoveRequest{
			OriginCode:      origin.Code,
			DestinationCode: dest.Code,
			OriginID:        origin.ERPLocationID,
			DestinationID:   dest.ERPLocationID,
			Lines:           lines,
			Reference:       t.ID,
			CorrelationID:   t.ID,
		}
		if s.cfg.Routing.IsPlanta(dest.Code) {
			req.DestinationID = s.cfg.Routing.PlantaTransitLocationID
		}
		if source == SourceWebhook {
			req.Reference = t.ID + " (webhook)"
		}
		var err error
		move, err = s.committer.Commit(ctx, req)
		if err != nil {
			s.journal.write(ctx, LogEntry{
				TransferID: t.ID,
				Event:      EventERPCommit,
				Level:      LevelError,
				Message:    "erp commit failed: " + err.Error(),
				Payload:    map[string]any{"source": source, "reference": req.Reference},
			})
			return Transfer{}, erp.MoveResult{}, false, fmt.Errorf("commit erp movement: %w", err)
		}
		level := LevelInfo
		if !move.Done() {
			level = LevelWarn
		}
		s.journal.write(ctx, LogEntry{
			TransferID: t.ID,
			Event:      EventERPCommit,
			Level:      level,
			Message:    fmt.Sprintf("erp picking %s is %s", move.Name, move.State),
			Payload: map[string]any{
				"source":     source,
				"reference":  req.Reference,
				"picking_id": move.ID,
				"state":      move.State,
				"reused":     move.Reused,
				"warnings":   move.Warnings,
			},
		})
	}

	validated, err := s.store.Transition(ctx, t.ID, StatusValidated, &ERPReference{PickingID: move.ID, PickingName: move.Name, State: move.State})
	if errors.Is(err, ErrInvalidTransition) {
		current, getErr := s.store.Get(ctx, t.ID)
		if getErr != nil {
			return Transfer{}, move, false, getErr
		}
		s.journal.write(ctx, LogEntry{
			TransferID: t.ID,
			Event:      EventValidated,
			Level:      LevelWarn,
			Message:    "transfer already left " + string(t.Status),
			Payload:    map[string]any{"source": source, "status": string(current.Status)},
		})
		if current.Status != StatusValidated {
			return Transfer{}, move, false, fmt.Errorf("validate transfer in status %s: %w", current.Status, ErrInvalidTransition)
		}
		return current, move, false, nil
	}
	if err != nil {
		return Transfer{}, move, false, err
	}
	s.journal.write(ctx, LogEntry{
		TransferID: t.ID,
		Event:      EventValidated,
		Message:    "transfer validated",
		Payload:    map[string]any{"source": source, "erp_state": move.State, "picking_id": move.ID},
	})
	return validated, move, true, nil
}

func (s *Service) dispatch(ctx context.Context, id string, payload map[string]any) error {
	if s.dispatcher == nil {
		return nil
	}
	if err := s.dispatcher.Dispatch(ctx, id); err != nil {
		s.journal.write(ctx, LogEntry{
			TransferID: id,
			Event:      EventDispatched,
			Level:      LevelError,
			Message:    "dispatch failed: " + err.Error(),
			Payload:    payload,
		})
		return err
	}
	s.journal.write(ctx, LogEntry{TransferID: id, Event: EventDispatched, Message: "shop sync dispatched", Payload: payload})
	return nil
}

func (s *Service) lock(ctx context.Context, id string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, shared.TransferLockKey(id))
	if err != nil {
		if errors.Is(err, shared.ErrLockNotObtained) {
			return nil, fmt.Errorf("transfer %s is busy: %w: %w", id, shared.ErrConflict, err)
		}
		return nil, err
	}
	return unlock, nil
}

// route loads and checks the origin and destination locations.
func (s *Service) route(ctx context.Context, originCode, destCode string) (catalog.Location, catalog.Location, error) {
	originCode, destCode = catalog.Normalize(originCode), catalog.Normalize(destCode)
	if originCode == "" || destCode == "" {
		return catalog.Location{}, catalog.Location{}, fmt.Errorf("origin and destination are required: %w", shared.ErrValidation)
	}
	if strings.EqualFold(originCode, destCode) {
		return catalog.Location{}, catalog.Location{}, ErrSameLocation
	}
	origin, err := s.locations.Location(ctx, originCode)
	if err != nil {
		return catalog.Location{}, catalog.Location{}, fmt.Errorf("origin %s: %w", originCode, err)
	}
	dest, err := s.locations.Location(ctx, destCode)
	if err != nil {
		return catalog.Location{}, catalog.Location{}, fmt.Errorf("destination %s: %w", destCode, err)
	}
	if !origin.CanBeOrigin {
		return catalog.Location{}, catalog.Location{}, fmt.Errorf("%s as origin: %w", origin.Code, ErrLocationNotAllowed)
	}
	if !dest.CanBeDestination {
		return catalog.Location{}, catalog.Location{}, fmt.Errorf("%s as destination: %w", dest.Code, ErrLocationNotAllowed)
	}
	return origin, dest, nil
}

func (s *Service) resolveLines(ctx context.Context, scans []catalog.ScanInput) ([]Line, map[string]int, error) {
	resolved, err := s.resolver.Resolve(ctx, scans)
	if err != nil {
		return nil, nil, err
	}
	lines := make([]Line, 0, len(resolved))
	for _, r := range resolved {
		lines = append(lines, Line{SKU: r.SKU, ScannedCode: r.ScannedCode, Qty: r.Qty, BoxCode: r.BoxCode})
	}
	return lines, catalog.Aggregate(resolved), nil
}

type stockCheck struct {
	skipped bool
	err     error
}

func (c stockCheck) outcome() string {
	if c.skipped {
		return StockCheckSkipped
	}
	return StockCheckPassed
}

// checkStock blocks on insufficient stock. When the ERP cannot answer, the
// configured policy either proceeds (fail open) or rejects the request.
func (s *Service) checkStock(ctx context.Context, origin catalog.Location, totals map[string]int) (stockCheck, error) {
	shortages, err := s.stock.Check(ctx, origin.Code, origin.ERPLocationID, totals)
	if err != nil {
		if s.cfg.StockCheckFailOpen && !errors.Is(err, shared.ErrValidation) {
			s.logger.Warn("stock check unavailable, proceeding",
				slog.String("origin", origin.Code),
				slog.Any("error", err))
			return stockCheck{skipped: true, err: err}, nil
		}
		return stockCheck{}, fmt.Errorf("stock check: %w", err)
	}
	if len(shortages) > 0 {
		return stockCheck{}, &InsufficientStockError{Shortages: shortages}
	}
	return stockCheck{}, nil
}

func (s *Service) logCreated(ctx context.Context, t Transfer) {
	s.journal.write(ctx, LogEntry{
		TransferID: t.ID,
		Event:      EventCreated,
		Message:    "transfer created as " + string(t.Status),
		Payload: map[string]any{
			"origin":      t.OriginCode,
			"destination": t.DestinationCode,
			"owner":       t.Owner,
			"lines":       len(t.Lines),
			"token":       t.Token,
		},
	})
}

func (s *Service) logStockCheck(ctx context.Context, id string, check stockCheck) {
	if !check.skipped {
		s.journal.write(ctx, LogEntry{TransferID: id, Event: EventStockCheck, Message: "stock check passed", Payload: map[string]any{"stock_check": StockCheckPassed}})
		return
	}
	s.journal.write(ctx, LogEntry{
		TransferID: id,
		Event:      EventStockCheck,
		Level:      LevelWarn,
		Message:    "stock check skipped: " + check.err.Error(),
		Payload:    map[string]any{"stock_check": StockCheckSkipped},
	})
}

func actorOr(actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return "system"
}
