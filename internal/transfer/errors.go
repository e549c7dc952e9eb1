package transfer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/stocksync/internal/erp"
	"github.com/odyssey-erp/stocksync/internal/shared"
)

var (
	// ErrTransferNotFound indicates no transfer matches.
	ErrTransferNotFound = fmt.Errorf("transfer %w", shared.ErrNotFound)
	// ErrInvalidTransition indicates the current status does not allow the change.
	ErrInvalidTransition = fmt.Errorf("transfer status does not allow this operation: %w", shared.ErrConflict)
	// ErrLinesLocked indicates lines can no longer be edited.
	ErrLinesLocked = fmt.Errorf("transfer lines can only change while draft: %w", shared.ErrConflict)
	// ErrInsufficientStock indicates requested quantities exceed free stock.
	ErrInsufficientStock = fmt.Errorf("insufficient stock: %w", shared.ErrConflict)
	// ErrLocationNotAllowed indicates a location cannot play the requested role.
	ErrLocationNotAllowed = fmt.Errorf("location not allowed: %w", shared.ErrValidation)
	// ErrSameLocation indicates origin equals destination.
	ErrSameLocation = fmt.Errorf("origin and destination must differ: %w", shared.ErrValidation)
	// ErrDraftsDisabled indicates multi-draft support is switched off.
	ErrDraftsDisabled = fmt.Errorf("drafts are disabled: %w", shared.ErrValidation)
	// ErrDuplicateToken indicates the client token already belongs to a transfer.
	ErrDuplicateToken = fmt.Errorf("transfer token already used: %w", shared.ErrConflict)
	// ErrNoShopLocation indicates a location has no shop counterpart.
	ErrNoShopLocation = fmt.Errorf("location has no shop counterpart: %w", shared.ErrValidation)
)

// InsufficientStockError carries every SKU that failed the stock check.
type InsufficientStockError struct {
	Shortages []erp.Shortage
}

func (e *InsufficientStockError) Error() string {
	codes := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		codes = append(codes, fmt.Sprintf("%s (requested %d, available %d)", s.Code, s.Requested, s.Available))
	}
	sort.Strings(codes)
	return "insufficient stock: " + strings.Join(codes, ", ")
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
