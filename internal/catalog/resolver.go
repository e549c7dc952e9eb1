package catalog

import (
	"context"
	"fmt"
	"sort"
)

// BoxLookup returns active boxes keyed by code for the given codes.
type BoxLookup interface {
	ActiveBoxesByCodes(ctx context.Context, codes []string) (map[string]Box, error)
}

// Resolver expands box codes and aggregates quantities per SKU.
type Resolver struct {
	boxes BoxLookup
}

// NewResolver constructs a Resolver.
func NewResolver(boxes BoxLookup) *Resolver {
	return &Resolver{boxes: boxes}
}

// Resolve maps every scan to a concrete SKU line. Box codes become
// (box.SKU, qty*box.QtyPerBox); anything else passes through verbatim.
func (r *Resolver) Resolve(ctx context.Context, scans []ScanInput) ([]ResolvedLine, error) {
	if len(scans) == 0 {
		return nil, ErrNoLines
	}
	codes := make([]string, 0, len(scans))
	seen := make(map[string]struct{}, len(scans))
	for i, scan := range scans {
		code := Normalize(scan.Code)
		if code == "" {
			return nil, fmt.Errorf("line %d: %w", i+1, ErrEmptyCode)
		}
		if scan.Qty <= 0 {
			return nil, fmt.Errorf("line %d (%s): %w", i+1, code, ErrInvalidQuantity)
		}
		if _, ok := seen[code]; !ok {
			seen[code] = struct{}{}
			codes = append(codes, code)
		}
	}

	boxes := map[string]Box{}
	if r.boxes != nil {
		found, err := r.boxes.ActiveBoxesByCodes(ctx, codes)
		if err != nil {
			return nil, fmt.Errorf("catalog: load boxes: %w", err)
		}
		boxes = found
	}

	lines := make([]ResolvedLine, 0, len(scans))
	for _, scan := range scans {
		code := Normalize(scan.Code)
		if box, ok := boxes[code]; ok && box.Active && box.QtyPerBox > 0 {
			lines = append(lines, ResolvedLine{
				SKU:         box.SKU,
				ScannedCode: code,
				Qty:         scan.Qty * box.QtyPerBox,
				BoxCode:     box.Code,
			})
			continue
		}
		lines = append(lines, ResolvedLine{SKU: code, ScannedCode: code, Qty: scan.Qty})
	}
	return lines, nil
}

// Aggregate sums quantities per SKU.
func Aggregate(lines []ResolvedLine) map[string]int {
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		totals[line.SKU] += line.Qty
	}
	return totals
}

// SortedSKUs returns the keys of a SKU quantity map in stable order.
func SortedSKUs(totals map[string]int) []string {
	skus := make([]string, 0, len(totals))
	for sku := range totals {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	return skus
}
