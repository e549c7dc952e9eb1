package erp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Remote model names.
const (
	ModelPicking     = "stock.picking"
	ModelMove        = "stock.move"
	ModelMoveLine    = "stock.move.line"
	ModelQuant       = "stock.quant"
	ModelLocation    = "stock.location"
	ModelProduct     = "product.product"
	ModelPickingType = "stock.picking.type"
)

// Picking states reported by the ERP.
const (
	StateDraft     = "draft"
	StateWaiting   = "waiting"
	StateConfirmed = "confirmed"
	StateAssigned  = "assigned"
	StateDone      = "done"
	StateCancel    = "cancel"
)

// Many2One decodes the ERP's [id, "display name"] pair, or false when empty.
type Many2One struct {
	ID   int64
	Name string
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Many2One) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("false")) || bytes.Equal(data, []byte("null")) {
		*m = Many2One{}
		return nil
	}
	if len(data) > 0 && data[0] != '[' {
		return json.Unmarshal(data, &m.ID)
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("many2one: %w", err)
	}
	if len(pair) > 0 {
		if err := json.Unmarshal(pair[0], &m.ID); err != nil {
			return fmt.Errorf("many2one id: %w", err)
		}
	}
	if len(pair) > 1 {
		_ = json.Unmarshal(pair[1], &m.Name)
	}
	return nil
}

// OptString decodes string fields that the ERP reports as false when unset.
type OptString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *OptString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("false")) || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = OptString(v)
	return nil
}

// OptInt decodes integer fields that the ERP reports as false when unset.
type OptInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (i *OptInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("false")) || bytes.Equal(data, []byte("null")) {
		*i = 0
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*i = OptInt(v)
	return nil
}

type productRow struct {
	ID          int64     `json:"id"`
	DefaultCode OptString `json:"default_code"`
	Barcode     OptString `json:"barcode"`
}

type quantRow struct {
	Product          Many2One    `json:"product_id"`
	Quantity         json.Number `json:"quantity"`
	ReservedQuantity json.Number `json:"reserved_quantity"`
}

type pickingRow struct {
	ID     int64     `json:"id"`
	Name   string    `json:"name"`
	State  string    `json:"state"`
	Origin OptString `json:"origin"`
}


// wizardAction is the act_window returned by button_validate when the ERP wants
// confirmation (backorder or immediate transfer) before completing.
type wizardAction struct {
	Type     string         `json:"type"`
	ResModel string         `json:"res_model"`
	ResID    OptInt         `json:"res_id"`
	Context  map[string]any `json:"context"`
}
