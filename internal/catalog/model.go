// Package catalog holds the box and location catalogs and resolves scanned codes
// into concrete SKUs.
package catalog

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/stocksync/internal/shared"
)

// Box maps a scannable container code to a SKU and a fixed multiplier.
type Box struct {
	Code      string    `json:"code"`
	SKU       string    `json:"sku"`
	QtyPerBox int       `json:"qty_per_box"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location is a stock location and its identifiers in the ERP and the shop.
type Location struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	CanBeOrigin      bool   `json:"can_be_origin"`
	CanBeDestination bool   `json:"can_be_destination"`
	ERPLocationID    int64  `json:"erp_location_id,omitempty"`
	ShopLocationGID  string `json:"shop_location_gid,omitempty"`
	Active           bool   `json:"active"`
}

// ScanInput is a raw scanned code with the quantity typed by the operator.
type ScanInput struct {
	Code string `json:"code"`
	Qty  int    `json:"qty"`
}

// ResolvedLine is a scanned code after box expansion.
type ResolvedLine struct {
	SKU         string `json:"sku"`
	ScannedCode string `json:"scanned_code"`
	Qty         int    `json:"qty"`
	BoxCode     string `json:"box_code,omitempty"`
}

var (
	// ErrBoxNotFound indicates the box code is unknown.
	ErrBoxNotFound = fmt.Errorf("box %w", shared.ErrNotFound)
	// ErrLocationNotFound indicates the location code is unknown or inactive.
	ErrLocationNotFound = fmt.Errorf("location %w", shared.ErrNotFound)
	// ErrEmptyCode indicates a blank scan.
	ErrEmptyCode = fmt.Errorf("code is required: %w", shared.ErrValidation)
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = fmt.Errorf("quantity must be greater than zero: %w", shared.ErrValidation)
	// ErrNoLines indicates nothing was scanned.
	ErrNoLines = fmt.Errorf("at least one line is required: %w", shared.ErrValidation)
)
