package erp

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Shortage reports a SKU whose requested quantity exceeds free stock.
type Shortage struct {
	Code      string `json:"code"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// StockValidator compares requested quantities to free stock at a location.
type StockValidator struct {
	client *Client
}

// NewStockValidator constructs StockValidator.
func NewStockValidator(client *Client) *StockValidator {
	return &StockValidator{client: client}
}

// Check returns every SKU whose product is short at the location (children
// included): the quantities of all codes resolving to one product are summed
// and compared to on_hand - reserved. SKUs unknown to the ERP count as zero
// free stock. A nil slice means the request is feasible.
func (v *StockValidator) Check(ctx context.Context, locationCode string, erpLocationID int64, requested map[string]int) ([]Shortage, error) {
	if len(requested) == 0 {
		return nil, nil
	}
	skus := make([]string, 0, len(requested))
	for sku := range requested {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	products, err := v.client.ResolveProducts(ctx, skus)
	if err != nil {
		return nil, fmt.Errorf("stock check: %w", err)
	}
	locationID, err := v.client.ResolveLocation(ctx, locationCode, erpLocationID)
	if err != nil {
		return nil, fmt.Errorf("stock check: %w", err)
	}
	free, err := v.freeByProduct(ctx, locationID, products)
	if err != nil {
		return nil, fmt.Errorf("stock check: %w", err)
	}

	// A SKU and a barcode may resolve to the same product, so demand is
	// summed per product before it is compared to free stock.
	demand := make(map[int64]int, len(products))
	for _, sku := range skus {
		if productID, ok := products[sku]; ok {
			demand[productID] += requested[sku]
		}
	}

	var shortages []Shortage
	for _, sku := range skus {
		productID, ok := products[sku]
		if !ok {
			if requested[sku] > 0 {
				shortages = append(shortages, Shortage{Code: sku, Requested: requested[sku]})
			}
			continue
		}
		available := int(free[productID].Floor().IntPart())
		if available < 0 {
			available = 0
		}
		if demand[productID] > available {
			shortages = append(shortages, Shortage{Code: sku, Requested: requested[sku], Available: available})
		}
	}
	return shortages, nil
}

func (v *StockValidator) freeByProduct(ctx context.Context, locationID int64, products map[string]int64) (map[int64]decimal.Decimal, error) {
	free := make(map[int64]decimal.Decimal, len(products))
	if len(products) == 0 {
		return free, nil
	}
	ids := make([]int64, 0, len(products))
	seen := make(map[int64]struct{}, len(products))
	for _, id := range products {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	domain := []any{
		[]any{"product_id", "in", ids},
		[]any{"location_id", "child_of", locationID},
	}
	var rows []quantRow
	if err := v.client.SearchRead(ctx, ModelQuant, domain, []string{"product_id", "quantity", "reserved_quantity"}, nil, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		qty, err := decimal.NewFromString(numberOrZero(row.Quantity))
		if err != nil {
			return nil, fmt.Errorf("quant quantity %q: %w", row.Quantity, err)
		}
		reserved, err := decimal.NewFromString(numberOrZero(row.ReservedQuantity))
		if err != nil {
			return nil, fmt.Errorf("quant reserved %q: %w", row.ReservedQuantity, err)
		}
		free[row.Product.ID] = free[row.Product.ID].Add(qty.Sub(reserved))
	}
	return free, nil
}

func numberOrZero(n interface{ String() string }) string {
	if s := n.String(); s != "" {
		return s
	}
	return "0"
}
