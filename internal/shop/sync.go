package shop

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// SyncStatus is where the platform transfer was left.
type SyncStatus string

const (
	SyncReceived      SyncStatus = "received"
	SyncInTransit     SyncStatus = "in_transit"
	SyncReadyToShip   SyncStatus = "ready_to_ship"
	SyncFailed        SyncStatus = "failed"
	SyncNothingToSync SyncStatus = "nothing_to_sync"
)

// StepOutcome describes one protocol step for the transfer log.
type StepOutcome struct {
	Step           string         `json:"step"`
	OK             bool           `json:"ok"`
	Fatal          bool           `json:"fatal,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Error          string         `json:"error,omitempty"`
	Detail         map[string]any `json:"detail,omitempty"`
}

// Hooks receives progress from a synchronization. Both fields are optional.
type Hooks struct {
	Record    func(ctx context.Context, outcome StepOutcome)
	OnCreated func(ctx context.Context, transferGID string)
}

// TransferInput is one ERP movement to mirror on the platform.
type TransferInput struct {
	TransferID             string
	OriginLocationGID      string
	DestinationLocationGID string
	Lines                  map[string]int
	Note                   string
}

// SyncResult summarises a synchronization.
type SyncResult struct {
	Synced      int        `json:"synced"`
	Skipped     []string   `json:"skipped,omitempty"`
	TransferGID string     `json:"transfer_gid,omitempty"`
	Status      SyncStatus `json:"status"`
}

// Synchronizer drives create, ready-to-ship, shipment, in-transit and receive.
type Synchronizer struct {
	client *Client
	logger *slog.Logger
}

// NewSynchronizer constructs Synchronizer.
func NewSynchronizer(client *Client, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{client: client, logger: logger}
}

// Sync mirrors in on the platform. It never returns an error or panics: every
// failure is reported through hooks.Record and the result status.
func (s *Synchronizer) Sync(ctx context.Context, in TransferInput, hooks Hooks) (result SyncResult) {
	logger := s.logger.With(slog.String("transfer_id", in.TransferID))
	record := func(outcome StepOutcome) {
		if outcome.OK {
			logger.Info("shop sync step", slog.String("step", outcome.Step))
		} else {
			logger.Warn("shop sync step failed", slog.String("step", outcome.Step), slog.String("error", outcome.Error))
		}
		if hooks.Record != nil {
			hooks.Record(ctx, outcome)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			result.Status = SyncFailed
			record(StepOutcome{Step: "panic", Fatal: true, Error: fmt.Sprint(r)})
		}
	}()

	skus := make([]string, 0, len(in.Lines))
	for sku, qty := range in.Lines {
		if qty > 0 {
			skus = append(skus, sku)
		}
	}
	sort.Strings(skus)

	items, err := s.client.ResolveInventoryItems(ctx, skus)
	if err != nil {
		record(StepOutcome{Step: StepResolve, Fatal: true, Error: err.Error()})
		return SyncResult{Skipped: skus, Status: SyncFailed}
	}
	quantities := make(map[string]int, len(items))
	var itemOrder []string
	for _, sku := range skus {
		item, ok := items[sku]
		if !ok {
			result.Skipped = append(result.Skipped, sku)
			continue
		}
		if _, seen := quantities[item]; !seen {
			itemOrder = append(itemOrder, item)
		}
		quantities[item] += in.Lines[sku]
		result.Synced++
	}
	record(StepOutcome{Step: StepResolve, OK: true, Detail: map[string]any{"resolved": result.Synced, "skipped": result.Skipped}})
	if len(itemOrder) == 0 {
		result.Status = SyncNothingToSync
		return result
	}
	lineItems := make([]map[string]any, 0, len(itemOrder))
	for _, item := range itemOrder {
		lineItems = append(lineItems, map[string]any{"inventoryItemId": item, "quantity": quantities[item]})
	}

	// 1. create
	key := IdempotencyKey(in.TransferID, StepCreate)
	var created struct {
		Payload transferPayload `json:"inventoryTransferCreate"`
	}
	input := map[string]any{
		"originLocationId":      in.OriginLocationGID,
		"destinationLocationId": in.DestinationLocationGID,
		"lineItems":             lineItems,
		"referenceName":         in.TransferID,
	}
	if in.Note != "" {
		input["note"] = in.Note
	}
	err = s.client.GraphQL(ctx, "inventoryTransferCreate", transferCreateMutation, map[string]any{"input": input, "key": key}, &created)
	if err == nil {
		err = userErrorsErr("inventoryTransferCreate", created.Payload.UserErrors)
	}
	if err == nil && created.Payload.InventoryTransfer == nil {
		err = fmt.Errorf("shop: inventoryTransferCreate: no transfer returned")
	}
	if err != nil {
		record(StepOutcome{Step: StepCreate, Fatal: true, IdempotencyKey: key, Error: err.Error()})
		result.Status = SyncFailed
		return result
	}
	result.TransferGID = created.Payload.InventoryTransfer.ID
	record(StepOutcome{Step: StepCreate, OK: true, IdempotencyKey: key, Detail: map[string]any{
		"transfer_gid": result.TransferGID,
		"name":         created.Payload.InventoryTransfer.Name,
	}})
	if hooks.OnCreated != nil {
		hooks.OnCreated(ctx, result.TransferGID)
	}

	// 2. ready to ship
	key = IdempotencyKey(in.TransferID, StepReadyToShip)
	var ready struct {
		Payload transferPayload `json:"inventoryTransferMarkAsReadyToShip"`
	}
	err = s.client.GraphQL(ctx, "inventoryTransferMarkAsReadyToShip", transferReadyMutation, map[string]any{"id": result.TransferGID, "key": key}, &ready)
	if err == nil {
		err = userErrorsErr("inventoryTransferMarkAsReadyToShip", ready.Payload.UserErrors)
	}
	record(stepOutcome(StepReadyToShip, key, err, false))

	// 3. shipment
	key = IdempotencyKey(in.TransferID, StepShipment)
	var shipment struct {
		Payload shipmentPayload `json:"inventoryShipmentCreate"`
	}
	err = s.client.GraphQL(ctx, "inventoryShipmentCreate", shipmentCreateMutation, map[string]any{
		"input": map[string]any{"movementId": result.TransferGID, "lineItems": lineItems},
		"key":   key,
	}, &shipment)
	if err == nil {
		err = userErrorsErr("inventoryShipmentCreate", shipment.Payload.UserErrors)
	}
	if err == nil && shipment.Payload.InventoryShipment == nil {
		err = fmt.Errorf("shop: inventoryShipmentCreate: no shipment returned")
	}
	if err != nil {
		record(stepOutcome(StepShipment, key, err, true))
		result.Status = SyncReadyToShip
		return result
	}
	shipmentGID := shipment.Payload.InventoryShipment.ID
	record(StepOutcome{Step: StepShipment, OK: true, IdempotencyKey: key, Detail: map[string]any{"shipment_gid": shipmentGID}})

	// 4. in transit
	key = IdempotencyKey(in.TransferID, StepInTransit)
	var transit struct {
		Payload shipmentPayload `json:"inventoryShipmentMarkInTransit"`
	}
	err = s.client.GraphQL(ctx, "inventoryShipmentMarkInTransit", shipmentInTransitMutation, map[string]any{"id": shipmentGID, "key": key}, &transit)
	if err == nil {
		err = userErrorsErr("inventoryShipmentMarkInTransit", transit.Payload.UserErrors)
	}
	record(stepOutcome(StepInTransit, key, err, false))

	// 5. receive
	key = IdempotencyKey(in.TransferID, StepReceive)
	receiveItems := make([]map[string]any, 0, len(shipment.Payload.InventoryShipment.LineItems.Nodes))
	for _, node := range shipment.Payload.InventoryShipment.LineItems.Nodes {
		if node.ID == "" {
			receiveItems = nil
			break
		}
		receiveItems = append(receiveItems, map[string]any{
			"shipmentLineItemId": node.ID,
			"quantity":           node.Quantity,
			"reason":             "ACCEPTED",
		})
	}
	var received struct {
		Payload shipmentPayload `json:"inventoryShipmentReceive"`
	}
	bulk := len(receiveItems) == 0
	if bulk {
		err = s.client.GraphQL(ctx, "inventoryShipmentReceive", shipmentReceiveAllMutation, map[string]any{"id": shipmentGID, "key": key}, &received)
	} else {
		err = s.client.GraphQL(ctx, "inventoryShipmentReceive", shipmentReceiveMutation, map[string]any{"id": shipmentGID, "lineItems": receiveItems, "key": key}, &received)
	}
	if err == nil {
		err = userErrorsErr("inventoryShipmentReceive", received.Payload.UserErrors)
	}
	outcome := stepOutcome(StepReceive, key, err, true)
	outcome.Detail = map[string]any{"bulk": bulk}
	record(outcome)
	if err != nil {
		result.Status = SyncInTransit
		return result
	}
	result.Status = SyncReceived
	return result
}

func stepOutcome(step, key string, err error, fatal bool) StepOutcome {
	if err != nil {
		return StepOutcome{Step: step, Fatal: fatal, IdempotencyKey: key, Error: err.Error()}
	}
	return StepOutcome{Step: step, OK: true, IdempotencyKey: key}
}
