// Package transfer owns the transfer lifecycle and the synchronization saga:
// stock validation, the ERP commit, the detached shop synchronization and the
// webhook reconciliation.
package transfer

import (
	"time"
)

// Status enumerates lifecycle states.
type Status string

const (
	// StatusDraft holds editable lines with no ERP footprint.
	StatusDraft Status = "draft"
	// StatusPending awaits receipt at the destination.
	StatusPending Status = "pending"
	// StatusValidated means the ERP movement is committed.
	StatusValidated Status = "validated"
	// StatusCancelled means no ERP movement will be committed.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status forbids further changes.
func (s Status) Terminal() bool {
	return s == StatusValidated || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusValidated, StatusCancelled:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusDraft},
	StatusValidated: {StatusDraft, StatusPending},
	StatusCancelled: {StatusDraft, StatusPending},
}

// AllowedFrom lists the statuses that may move to target.
func AllowedFrom(target Status) []Status {
	return transitions[target]
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Transfer is one movement of stock between two locations.
type Transfer struct {
	ID              string    `json:"id"`
	Token           string    `json:"token,omitempty"`
	OriginCode      string    `json:"origin"`
	DestinationCode string    `json:"destination"`
	Status          Status    `json:"status"`
	ERPPickingID    int64     `json:"erp_picking_id,omitempty"`
	ERPPickingName  string    `json:"erp_picking_name,omitempty"`
	ERPState        string    `json:"erp_state,omitempty"`
	ShopTransferGID string    `json:"shop_transfer_gid,omitempty"`
	Owner           string    `json:"owner"`
	Note            string    `json:"note,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Lines           []Line    `json:"lines,omitempty"`
}

// HasERPMovement reports whether an ERP picking is linked.
func (t Transfer) HasERPMovement() bool {
	return t.ERPPickingID > 0
}

// Quantities sums line quantities per SKU.
func (t Transfer) Quantities() map[string]int {
	out := make(map[string]int, len(t.Lines))
	for _, line := range t.Lines {
		if line.Qty > 0 {
			out[line.SKU] += line.Qty
		}
	}
	return out
}

// Line is one SKU row of a transfer.
type Line struct {
	SKU         string `json:"sku"`
	ScannedCode string `json:"scanned_code"`
	Qty         int    `json:"qty"`
	BoxCode     string `json:"box_code,omitempty"`
}

// ERPReference records the picking that represents a transfer in the ERP.
type ERPReference struct {
	PickingID   int64
	PickingName string
	State       string
}

// LogLevel classifies transfer log entries.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Log events.
const (
	EventCreated        = "created"
	EventLinesReplaced  = "lines_replaced"
	EventStockCheck     = "stock_check"
	EventERPCommit      = "erp_commit"
	EventValidated      = "validated"
	EventCancelled      = "cancelled"
	EventDispatched     = "sync_dispatched"
	EventSyncStep       = "sync_step"
	EventSyncCompleted  = "sync_completed"
	EventSyncFailed     = "sync_failed"
	EventReconciled     = "reconciled"
	EventReconcileError = "reconcile_error"
)

// Log sources.
const (
	SourceAPI     = "api"
	SourceAsync   = "async"
	SourceWebhook = "webhook"
)

// LogEntry is one append-only transfer log row.
type LogEntry struct {
	ID         int64          `json:"id"`
	TransferID string         `json:"transfer_id"`
	Event      string         `json:"event"`
	Level      LogLevel       `json:"level"`
	Step       string         `json:"step,omitempty"`
	Message    string         `json:"message"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ListFilter narrows transfer listings.
type ListFilter struct {
	Status      Status
	Origin      string
	Destination string
	Page        int
	PerPage     int
}
