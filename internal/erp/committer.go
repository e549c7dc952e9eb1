package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// MoveRequest describes an internal movement to record in the ERP.
type MoveRequest struct {
	OriginCode      string
	DestinationCode string
	// Optional ERP location ids; zero means resolve by code.
	OriginID      int64
	DestinationID int64
	Lines         map[string]int
	// Reference is stored as the picking origin. It must start with
	// CorrelationID so retries can find the picking again.
	Reference     string
	CorrelationID string
}

// MoveResult is the picking that now represents the movement.
type MoveResult struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	State    string   `json:"state"`
	Warnings []string `json:"warnings,omitempty"`
	Reused   bool     `json:"reused,omitempty"`
}

// Done reports whether the picking reached its final state.
func (r MoveResult) Done() bool { return r.State == StateDone }

// Committer creates, confirms and force-completes internal pickings.
type Committer struct {
	client *Client
	logger *slog.Logger
}

// NewCommitter constructs Committer.
func NewCommitter(client *Client, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{client: client, logger: logger}
}

// Commit records req as a done picking. A picking already carrying the
// correlation id is reused: if an earlier attempt stopped before completion it
// is confirmed and validated again. A state other than done is reported in the
// result and is not an error.
func (c *Committer) Commit(ctx context.Context, req MoveRequest) (MoveResult, error) {
	if len(req.Lines) == 0 {
		return MoveResult{}, fmt.Errorf("commit movement: %w", ErrNoProductsResolved)
	}
	if req.CorrelationID != "" {
		existing, ok, err := c.findExisting(ctx, req.CorrelationID)
		if err != nil {
			return MoveResult{}, err
		}
		if ok {
			c.logger.Info("erp picking reused",
				slog.String("correlation_id", req.CorrelationID),
				slog.Int64("picking_id", existing.ID),
				slog.String("state", existing.State))
			if existing.Done() {
				return existing, nil
			}
			return c.resume(ctx, existing, req)
		}
	}

	skus, products, warnings, err := c.resolveLines(ctx, req.Lines)
	if err != nil {
		return MoveResult{}, err
	}

	pickingType, err := c.client.InternalPickingType(ctx)
	if err != nil {
		return MoveResult{}, err
	}
	originID, err := c.client.ResolveLocation(ctx, req.OriginCode, req.OriginID)
	if err != nil {
		return MoveResult{}, err
	}
	destID, err := c.client.ResolveLocation(ctx, req.DestinationCode, req.DestinationID)
	if err != nil {
		return MoveResult{}, err
	}

	lines := groupByProduct(skus, req.Lines, products)
	moves := make([]any, 0, len(lines))
	for _, line := range lines {
		moves = append(moves, []any{0, 0, map[string]any{
			"name":             strings.Join(line.codes, ", "),
			"product_id":       line.productID,
			"product_uom_qty":  line.qty,
			"location_id":      originID,
			"location_dest_id": destID,
		}})
	}
	pickingID, err := c.client.Create(ctx, ModelPicking, map[string]any{
		"picking_type_id":  pickingType,
		"location_id":      originID,
		"location_dest_id": destID,
		"origin":           req.Reference,
		"move_ids":         moves,
	}, nil)
	if err != nil {
		return MoveResult{}, fmt.Errorf("create picking: %w", err)
	}
	logger := c.logger.With(slog.Int64("picking_id", pickingID), slog.String("correlation_id", req.CorrelationID))

	if _, err := c.client.Call(ctx, ModelPicking, "action_confirm", []int64{pickingID}, nil); err != nil {
		return MoveResult{}, fmt.Errorf("confirm picking %d: %w", pickingID, err)
	}
	if err := c.validate(ctx, pickingID, req.Lines, products); err != nil {
		// The picking exists; report its state instead of failing the movement.
		logger.Warn("picking validation incomplete", slog.Any("error", err))
		warnings = append(warnings, "validation incomplete: "+err.Error())
	}

	result, err := c.readPicking(ctx, pickingID)
	if err != nil {
		return MoveResult{}, err
	}
	result.Warnings = warnings
	if !result.Done() {
		logger.Warn("picking not done", slog.String("state", result.State))
	}
	return result, nil
}

// resume finishes a picking left unconfirmed or unvalidated by an earlier
// attempt.
func (c *Committer) resume(ctx context.Context, existing MoveResult, req MoveRequest) (MoveResult, error) {
	logger := c.logger.With(slog.Int64("picking_id", existing.ID), slog.String("correlation_id", req.CorrelationID))
	_, products, warnings, err := c.resolveLines(ctx, req.Lines)
	if err != nil {
		return MoveResult{}, err
	}
	if existing.State == StateDraft {
		if _, err := c.client.Call(ctx, ModelPicking, "action_confirm", []int64{existing.ID}, nil); err != nil {
			return MoveResult{}, fmt.Errorf("confirm picking %d: %w", existing.ID, err)
		}
	}
	if err := c.validate(ctx, existing.ID, req.Lines, products); err != nil {
		logger.Warn("picking validation incomplete", slog.Any("error", err))
		warnings = append(warnings, "validation incomplete: "+err.Error())
	}
	result, err := c.readPicking(ctx, existing.ID)
	if err != nil {
		return MoveResult{}, err
	}
	result.Reused = true
	result.Warnings = warnings
	if !result.Done() {
		logger.Warn("picking not done", slog.String("state", result.State))
	}
	return result, nil
}

// resolveLines returns the sorted SKUs with a positive quantity, their product
// ids and a warning for each SKU the ERP does not know.
func (c *Committer) resolveLines(ctx context.Context, lines map[string]int) ([]string, map[string]int64, []string, error) {
	skus := make([]string, 0, len(lines))
	for sku, qty := range lines {
		if qty > 0 {
			skus = append(skus, sku)
		}
	}
	sort.Strings(skus)
	products, err := c.client.ResolveProducts(ctx, skus)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("commit movement: %w", err)
	}
	var warnings []string
	for _, sku := range skus {
		if _, ok := products[sku]; !ok {
			warnings = append(warnings, fmt.Sprintf("sku %s not found in erp", sku))
		}
	}
	if len(products) == 0 {
		return nil, nil, nil, fmt.Errorf("commit movement: %w", ErrNoProductsResolved)
	}
	return skus, products, warnings, nil
}

type productLine struct {
	productID int64
	codes     []string
	qty       int
}

// groupByProduct merges codes resolving to the same product into one line,
// ordered by first appearance in skus.
func groupByProduct(skus []string, lines map[string]int, products map[string]int64) []productLine {
	var out []productLine
	index := make(map[int64]int, len(products))
	for _, sku := range skus {
		productID, ok := products[sku]
		if !ok {
			continue
		}
		i, seen := index[productID]
		if !seen {
			i = len(out)
			index[productID] = i
			out = append(out, productLine{productID: productID})
		}
		out[i].codes = append(out[i].codes, sku)
		out[i].qty += lines[sku]
	}
	return out
}

func (c *Committer) findExisting(ctx context.Context, correlationID string) (MoveResult, bool, error) {
	domain := []any{
		[]any{"origin", "=like", correlationID + "%"},
		[]any{"state", "!=", StateCancel},
	}
	var rows []pickingRow
	if err := c.client.SearchRead(ctx, ModelPicking, domain, []string{"id", "name", "state", "origin"}, map[string]any{"limit": 1, "order": "id asc"}, &rows); err != nil {
		return MoveResult{}, false, fmt.Errorf("find existing picking: %w", err)
	}
	if len(rows) == 0 {
		return MoveResult{}, false, nil
	}
	return MoveResult{ID: rows[0].ID, Name: rows[0].Name, State: rows[0].State, Reused: true}, true, nil
}

// validate runs button_validate, following a confirmation wizard if the ERP
// returns one. Without a wizard, done quantities are written explicitly and
// validation is retried once.
func (c *Committer) validate(ctx context.Context, pickingID int64, lines map[string]int, products map[string]int64) error {
	raw, err := c.client.Call(ctx, ModelPicking, "button_validate", []int64{pickingID}, nil)
	if err != nil {
		return fmt.Errorf("validate picking: %w", err)
	}
	if isTrue(raw) {
		return nil
	}
	var action wizardAction
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &action); err != nil {
			return fmt.Errorf("decode validate result: %w", err)
		}
	}
	if action.ResModel != "" {
		return c.runWizard(ctx, action)
	}

	if err := c.setDoneQuantities(ctx, pickingID, lines, products); err != nil {
		return err
	}
	raw, err = c.client.Call(ctx, ModelPicking, "button_validate", []int64{pickingID}, nil)
	if err != nil {
		return fmt.Errorf("validate picking retry: %w", err)
	}
	if !isTrue(raw) && len(raw) > 0 && raw[0] == '{' {
		var retry wizardAction
		if err := json.Unmarshal(raw, &retry); err == nil && retry.ResModel != "" {
			return c.runWizard(ctx, retry)
		}
	}
	return nil
}

func (c *Committer) runWizard(ctx context.Context, action wizardAction) error {
	wizardID := int64(action.ResID)
	if wizardID == 0 {
		id, err := c.client.Create(ctx, action.ResModel, map[string]any{}, map[string]any{"context": action.Context})
		if err != nil {
			return fmt.Errorf("create %s: %w", action.ResModel, err)
		}
		wizardID = id
	}
	kwargs := map[string]any{}
	if len(action.Context) > 0 {
		kwargs["context"] = action.Context
	}
	if _, err := c.client.Call(ctx, action.ResModel, "process", []int64{wizardID}, kwargs); err != nil {
		return fmt.Errorf("process %s: %w", action.ResModel, err)
	}
	return nil
}

type moveRow struct {
	ID         int64    `json:"id"`
	Product    Many2One `json:"product_id"`
	ProductQty float64  `json:"product_uom_qty"`
}

func (c *Committer) setDoneQuantities(ctx context.Context, pickingID int64, lines map[string]int, products map[string]int64) error {
	var moves []moveRow
	domain := []any{[]any{"picking_id", "=", pickingID}}
	if err := c.client.SearchRead(ctx, ModelMove, domain, []string{"id", "product_id", "product_uom_qty"}, nil, &moves); err != nil {
		return fmt.Errorf("load moves: %w", err)
	}
	requested := make(map[int64]int, len(products))
	for sku, productID := range products {
		requested[productID] += lines[sku]
	}
	for _, move := range moves {
		qty, ok := requested[move.Product.ID]
		if !ok {
			qty = int(move.ProductQty)
		}
		if err := c.client.Write(ctx, ModelMove, []int64{move.ID}, map[string]any{"quantity": qty}); err != nil {
			// Older ERP versions name the field quantity_done.
			if legacyErr := c.client.Write(ctx, ModelMove, []int64{move.ID}, map[string]any{"quantity_done": qty}); legacyErr != nil {
				return fmt.Errorf("set done quantity on move %d: %w", move.ID, err)
			}
		}
	}
	return nil
}

func (c *Committer) readPicking(ctx context.Context, pickingID int64) (MoveResult, error) {
	var rows []pickingRow
	if err := c.client.Read(ctx, ModelPicking, []int64{pickingID}, []string{"id", "name", "state"}, &rows); err != nil {
		return MoveResult{}, fmt.Errorf("read picking %d: %w", pickingID, err)
	}
	if len(rows) == 0 {
		return MoveResult{ID: pickingID}, nil
	}
	return MoveResult{ID: rows[0].ID, Name: rows[0].Name, State: rows[0].State}, nil
}

func isTrue(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("true"))
}
