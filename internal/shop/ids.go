package shop

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Protocol step names. Each one seeds its own idempotency key.
const (
	StepResolve     = "resolve_variants"
	StepCreate      = "create"
	StepReadyToShip = "ready_to_ship"
	StepShipment    = "create_shipment"
	StepInTransit   = "in_transit"
	StepReceive     = "receive"
	StepAdjust      = "adjust"
)

var keyNamespace = uuid.MustParse("5d0f3c8e-9a51-4b8c-8f0e-7c1d2a6b9e43")

// IdempotencyKey derives the platform de-duplication token for one step of
// one transfer. The same inputs always yield the same key.
func IdempotencyKey(transferID, step string) string {
	return uuid.NewSHA1(keyNamespace, []byte(transferID+":"+step)).String()
}

// LegacyID returns the numeric tail of a gid such as
// gid://shopify/InventoryItem/123.
func LegacyID(gid string) (int64, error) {
	idx := strings.LastIndexByte(gid, '/')
	tail := gid
	if idx >= 0 {
		tail = gid[idx+1:]
	}
	if q := strings.IndexByte(tail, '?'); q >= 0 {
		tail = tail[:q]
	}
	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid gid %q", gid)
	}
	return id, nil
}

// GID builds a gid for resource from a numeric id.
func GID(resource string, id int64) string {
	return fmt.Sprintf("gid://shopify/%s/%d", resource, id)
}
