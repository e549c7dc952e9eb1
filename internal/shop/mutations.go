package shop

const transferCreateMutation = `mutation TransferCreate($input: InventoryTransferCreateInput!, $key: String!) {
  inventoryTransferCreate(input: $input) @idempotent(key: $key) {
    inventoryTransfer { id name status }
    userErrors { field message code }
  }
}`

const transferReadyMutation = `mutation TransferReady($id: ID!, $key: String!) {
  inventoryTransferMarkAsReadyToShip(id: $id) @idempotent(key: $key) {
    inventoryTransfer { id status }
    userErrors { field message code }
  }
}`

const shipmentCreateMutation = `mutation ShipmentCreate($input: InventoryShipmentCreateInput!, $key: String!) {
  inventoryShipmentCreate(input: $input) @idempotent(key: $key) {
    inventoryShipment {
      id
      status
      lineItems(first: 250) {
        nodes { id quantity inventoryItem { id } }
      }
    }
    userErrors { field message code }
  }
}`

const shipmentInTransitMutation = `mutation ShipmentInTransit($id: ID!, $key: String!) {
  inventoryShipmentMarkInTransit(id: $id) @idempotent(key: $key) {
    inventoryShipment { id status }
    userErrors { field message code }
  }
}`

const shipmentReceiveMutation = `mutation ShipmentReceive($id: ID!, $lineItems: [InventoryShipmentReceiveItemInput!], $key: String!) {
  inventoryShipmentReceive(id: $id, lineItems: $lineItems) @idempotent(key: $key) {
    inventoryShipment { id status }
    userErrors { field message code }
  }
}`

const shipmentReceiveAllMutation = `mutation ShipmentReceiveAll($id: ID!, $key: String!) {
  inventoryShipmentReceive(id: $id, bulkReceiveAction: ACCEPTED) @idempotent(key: $key) {
    inventoryShipment { id status }
    userErrors { field message code }
  }
}`

const adjustQuantitiesMutation = `mutation AdjustQuantities($input: InventoryAdjustQuantitiesInput!, $key: String!) {
  inventoryAdjustQuantities(input: $input) @idempotent(key: $key) {
    inventoryAdjustmentGroup { id reason changes { name delta } }
    userErrors { field message code }
  }
}`

const transferQuery = `query Transfer($id: ID!) {
  inventoryTransfer(id: $id) {
    id
    name
    referenceName
    status
    shipments(first: 50) {
      nodes {
        id
        status
        lineItems(first: 250) {
          nodes {
            quantity
            acceptedQuantity
            inventoryItem { id sku }
          }
        }
      }
    }
  }
}`

type transferPayload struct {
	InventoryTransfer *struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"inventoryTransfer"`
	UserErrors []UserError `json:"userErrors"`
}

type shipmentPayload struct {
	InventoryShipment *struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		LineItems struct {
			Nodes []struct {
				ID            string `json:"id"`
				Quantity      int    `json:"quantity"`
				InventoryItem struct {
					ID string `json:"id"`
				} `json:"inventoryItem"`
			} `json:"nodes"`
		} `json:"lineItems"`
	} `json:"inventoryShipment"`
	UserErrors []UserError `json:"userErrors"`
}
