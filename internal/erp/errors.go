package erp

import (
	"fmt"

	"github.com/odyssey-erp/stocksync/internal/shared"
)

var (
	// ErrLocationUnmapped indicates the location has no ERP counterpart.
	ErrLocationUnmapped = fmt.Errorf("location has no erp counterpart: %w", shared.ErrValidation)
	// ErrNoInternalPickingType indicates the ERP has no internal operation type configured.
	ErrNoInternalPickingType = fmt.Errorf("no internal picking type configured: %w", shared.ErrUpstream)
	// ErrNoProductsResolved indicates none of the requested SKUs exist in the ERP.
	ErrNoProductsResolved = fmt.Errorf("no requested sku exists in the erp: %w", shared.ErrValidation)
)
