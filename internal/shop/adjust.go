package shop

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stocksync/internal/shared"
)

const levelsChunkSize = 50

// ErrNothingToAdjust indicates every delta was zero.
var ErrNothingToAdjust = fmt.Errorf("nothing to adjust: %w", shared.ErrValidation)

// AdjustInput is a set of available-quantity changes at one location.
type AdjustInput struct {
	// Key seeds the idempotency key; a transfer id on the saga path.
	Key         string
	LocationGID string
	// Deltas maps inventory item gid to quantity change.
	Deltas map[string]int
	// Negate flips the sign of every delta.
	Negate    bool
	Reason    string
	Reference string
}

// AdjustChange is one submitted change.
type AdjustChange struct {
	InventoryItemGID string `json:"inventory_item_gid"`
	Delta            int    `json:"delta"`
	Baseline         int    `json:"baseline"`
}

// AdjustResult summarises a submitted adjustment.
type AdjustResult struct {
	GroupGID       string         `json:"group_gid,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	Changes        []AdjustChange `json:"changes"`
}

// Adjuster applies one-sided available-quantity changes.
type Adjuster struct {
	client *Client
}

// NewAdjuster constructs Adjuster.
func NewAdjuster(client *Client) *Adjuster {
	return &Adjuster{client: client}
}

// Adjust reads the current available quantity of every item at the location
// and submits the deltas against that baseline. A concurrent change between
// the read and the write makes the platform reject the stale baseline.
func (a *Adjuster) Adjust(ctx context.Context, in AdjustInput) (AdjustResult, error) {
	if in.LocationGID == "" {
		return AdjustResult{}, fmt.Errorf("adjust: location required: %w", shared.ErrValidation)
	}
	items := make([]string, 0, len(in.Deltas))
	for item, delta := range in.Deltas {
		if delta != 0 {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return AdjustResult{}, ErrNothingToAdjust
	}
	sort.Strings(items)

	baselines, err := a.client.AvailableLevels(ctx, in.LocationGID, items)
	if err != nil {
		return AdjustResult{}, err
	}

	result := AdjustResult{IdempotencyKey: IdempotencyKey(in.Key, StepAdjust)}
	changes := make([]map[string]any, 0, len(items))
	for _, item := range items {
		delta := in.Deltas[item]
		if in.Negate {
			delta = -delta
		}
		baseline := baselines[item]
		result.Changes = append(result.Changes, AdjustChange{InventoryItemGID: item, Delta: delta, Baseline: baseline})
		changes = append(changes, map[string]any{
			"inventoryItemId":    item,
			"locationId":         in.LocationGID,
			"delta":              delta,
			"changeFromQuantity": baseline,
		})
	}
	reason := in.Reason
	if reason == "" {
		reason = "correction"
	}
	input := map[string]any{
		"name":    "available",
		"reason":  reason,
		"changes": changes,
	}
	if in.Reference != "" {
		input["referenceDocumentUri"] = in.Reference
	}
	var data struct {
		Payload struct {
			Group *struct {
				ID string `json:"id"`
			} `json:"inventoryAdjustmentGroup"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"inventoryAdjustQuantities"`
	}
	if err := a.client.GraphQL(ctx, "inventoryAdjustQuantities", adjustQuantitiesMutation, map[string]any{"input": input, "key": result.IdempotencyKey}, &data); err != nil {
		return result, err
	}
	if err := userErrorsErr("inventoryAdjustQuantities", data.Payload.UserErrors); err != nil {
		return result, err
	}
	if data.Payload.Group != nil {
		result.GroupGID = data.Payload.Group.ID
	}
	return result, nil
}

type inventoryLevelsResponse struct {
	InventoryLevels []struct {
		InventoryItemID int64 `json:"inventory_item_id"`
		LocationID      int64 `json:"location_id"`
		Available       *int  `json:"available"`
	} `json:"inventory_levels"`
}

// AvailableLevels returns the available quantity of each item gid at the
// location. Items without a level at the location read as zero.
func (c *Client) AvailableLevels(ctx context.Context, locationGID string, itemGIDs []string) (map[string]int, error) {
	locationID, err := LegacyID(locationGID)
	if err != nil {
		return nil, fmt.Errorf("inventory levels: %w: %w", shared.ErrValidation, err)
	}
	byLegacy := make(map[int64]string, len(itemGIDs))
	ids := make([]string, 0, len(itemGIDs))
	for _, gid := range itemGIDs {
		id, err := LegacyID(gid)
		if err != nil {
			return nil, fmt.Errorf("inventory levels: %w: %w", shared.ErrValidation, err)
		}
		byLegacy[id] = gid
		ids = append(ids, strconv.FormatInt(id, 10))
	}

	out := make(map[string]int, len(itemGIDs))
	for _, gid := range itemGIDs {
		out[gid] = 0
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(ids); start += levelsChunkSize {
		end := start + levelsChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		g.Go(func() error {
			query := url.Values{}
			query.Set("inventory_item_ids", strings.Join(chunk, ","))
			query.Set("location_ids", strconv.FormatInt(locationID, 10))
			var resp inventoryLevelsResponse
			if err := c.getJSON(gctx, "inventory_levels", "/inventory_levels.json", query, &resp); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, level := range resp.InventoryLevels {
				gid, ok := byLegacy[level.InventoryItemID]
				if !ok || level.LocationID != locationID || level.Available == nil {
					continue
				}
				out[gid] = *level.Available
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("inventory levels: %w", err)
	}
	return out, nil
}

// IsStaleBaseline reports whether err is the platform rejecting a
// changeFromQuantity that no longer matches.
func IsStaleBaseline(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, msg := range apiErr.Messages {
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "changefromquantity") || strings.Contains(lower, "compare quantity") {
			return true
		}
	}
	return false
}
