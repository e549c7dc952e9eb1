package shop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/odyssey-erp/stocksync/internal/shared"
)

// TransferStatusTransferred is the platform status of a fully received transfer.
const TransferStatusTransferred = "TRANSFERRED"

// ErrTransferNotFound indicates the platform has no transfer for the gid.
var ErrTransferNotFound = fmt.Errorf("platform transfer not found: %w", shared.ErrNotFound)

// ErrMissingTransferID indicates a webhook body without a transfer identifier.
var ErrMissingTransferID = fmt.Errorf("transfer id missing from payload: %w", shared.ErrValidation)

// ShipmentLine is one received line of a shipment.
type ShipmentLine struct {
	InventoryItemGID string `json:"inventory_item_gid"`
	SKU              string `json:"sku"`
	Quantity         int    `json:"quantity"`
	Accepted         int    `json:"accepted"`
}

// Shipment is one shipment of a platform transfer.
type Shipment struct {
	GID    string         `json:"gid"`
	Status string         `json:"status"`
	Lines  []ShipmentLine `json:"lines"`
}

// Transfer is the platform's authoritative view of a transfer.
type Transfer struct {
	GID           string     `json:"gid"`
	Name          string     `json:"name"`
	ReferenceName string     `json:"reference_name"`
	Status        string     `json:"status"`
	Shipments     []Shipment `json:"shipments"`
}

// Transferred reports whether every shipment was received.
func (t Transfer) Transferred() bool {
	return t.Status == TransferStatusTransferred
}

// AcceptedBySKU sums accepted quantities per SKU across shipments. Lines
// without a SKU are ignored.
func (t Transfer) AcceptedBySKU() map[string]int {
	out := make(map[string]int)
	for _, shipment := range t.Shipments {
		for _, line := range shipment.Lines {
			if line.SKU == "" || line.Accepted <= 0 {
				continue
			}
			out[line.SKU] += line.Accepted
		}
	}
	return out
}

type transferQueryData struct {
	InventoryTransfer *struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ReferenceName string `json:"referenceName"`
		Status        string `json:"status"`
		Shipments     struct {
			Nodes []struct {
				ID        string `json:"id"`
				Status    string `json:"status"`
				LineItems struct {
					Nodes []struct {
						Quantity         int `json:"quantity"`
						AcceptedQuantity int `json:"acceptedQuantity"`
						InventoryItem    struct {
							ID  string `json:"id"`
							SKU string `json:"sku"`
						} `json:"inventoryItem"`
					} `json:"nodes"`
				} `json:"lineItems"`
			} `json:"nodes"`
		} `json:"shipments"`
	} `json:"inventoryTransfer"`
}

// GetTransfer loads a transfer with its shipments and line items.
func (c *Client) GetTransfer(ctx context.Context, gid string) (Transfer, error) {
	var data transferQueryData
	if err := c.GraphQL(ctx, "inventoryTransfer", transferQuery, map[string]any{"id": gid}, &data); err != nil {
		return Transfer{}, err
	}
	if data.InventoryTransfer == nil {
		return Transfer{}, fmt.Errorf("%s: %w", gid, ErrTransferNotFound)
	}
	src := data.InventoryTransfer
	out := Transfer{GID: src.ID, Name: src.Name, ReferenceName: src.ReferenceName, Status: src.Status}
	for _, node := range src.Shipments.Nodes {
		shipment := Shipment{GID: node.ID, Status: node.Status}
		for _, line := range node.LineItems.Nodes {
			shipment.Lines = append(shipment.Lines, ShipmentLine{
				InventoryItemGID: line.InventoryItem.ID,
				SKU:              line.InventoryItem.SKU,
				Quantity:         line.Quantity,
				Accepted:         line.AcceptedQuantity,
			})
		}
		out.Shipments = append(out.Shipments, shipment)
	}
	return out, nil
}

// TransferGIDFromWebhook extracts the transfer gid from a webhook body. It
// accepts admin_graphql_api_id, or a legacy numeric id. Any event type field
// is ignored.
func TransferGIDFromWebhook(body []byte) (string, error) {
	var payload struct {
		AdminGraphQLAPIID string          `json:"admin_graphql_api_id"`
		ID                json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode webhook: %w: %w", shared.ErrValidation, err)
	}
	if gid := strings.TrimSpace(payload.AdminGraphQLAPIID); gid != "" {
		return gid, nil
	}
	raw := bytes.Trim(bytes.TrimSpace(payload.ID), `"`)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrMissingTransferID
	}
	if bytes.HasPrefix(raw, []byte("gid://")) {
		return string(raw), nil
	}
	id, err := LegacyID(string(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingTransferID, err)
	}
	return GID("InventoryTransfer", id), nil
}
