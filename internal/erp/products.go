package erp

import (
	"context"
	"fmt"
)

// ResolveProducts maps SKUs to product ids with one search_read, matching
// default_code first and barcode second. Unmatched SKUs are absent from the map.
func (c *Client) ResolveProducts(ctx context.Context, skus []string) (map[string]int64, error) {
	out := make(map[string]int64, len(skus))
	if len(skus) == 0 {
		return out, nil
	}
	domain := []any{
		"|",
		[]any{"default_code", "in", skus},
		[]any{"barcode", "in", skus},
	}
	var rows []productRow
	if err := c.SearchRead(ctx, ModelProduct, domain, []string{"id", "default_code", "barcode"}, map[string]any{"context": map[string]any{"active_test": true}}, &rows); err != nil {
		return nil, fmt.Errorf("resolve products: %w", err)
	}
	byCode := make(map[string]int64, len(rows))
	byBarcode := make(map[string]int64, len(rows))
	for _, row := range rows {
		if row.DefaultCode != "" {
			if _, dup := byCode[string(row.DefaultCode)]; !dup {
				byCode[string(row.DefaultCode)] = row.ID
			}
		}
		if row.Barcode != "" {
			if _, dup := byBarcode[string(row.Barcode)]; !dup {
				byBarcode[string(row.Barcode)] = row.ID
			}
		}
	}
	for _, sku := range skus {
		if id, ok := byCode[sku]; ok {
			out[sku] = id
			continue
		}
		if id, ok := byBarcode[sku]; ok {
			out[sku] = id
		}
	}
	return out, nil
}

// ResolveLocation returns the ERP location id for a location code. A non-zero
// known id short-circuits the lookup.
func (c *Client) ResolveLocation(ctx context.Context, code string, known int64) (int64, error) {
	if known > 0 {
		return known, nil
	}
	domain := []any{
		"|", "|",
		[]any{"barcode", "=", code},
		[]any{"name", "=", code},
		[]any{"complete_name", "=", code},
	}
	ids, err := c.Search(ctx, ModelLocation, domain, 1)
	if err != nil {
		return 0, fmt.Errorf("resolve location %s: %w", code, err)
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("resolve location %s: %w", code, ErrLocationUnmapped)
	}
	return ids[0], nil
}

// InternalPickingType returns the default internal transfer operation type.
func (c *Client) InternalPickingType(ctx context.Context) (int64, error) {
	ids, err := c.Search(ctx, ModelPickingType, []any{[]any{"code", "=", "internal"}}, 1)
	if err != nil {
		return 0, fmt.Errorf("resolve picking type: %w", err)
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("resolve picking type: %w", ErrNoInternalPickingType)
	}
	return ids[0], nil
}
