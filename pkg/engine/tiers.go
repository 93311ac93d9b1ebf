package engine

import (
	"encoding/json"
	"fmt"

	"github.com/syncbridge/syncbridge/pkg/types"
)

// Tier names the backing-store collections that partition operations
// by lifecycle stage. An operation lives in exactly one tier at any
// observable moment.
type Tier string

const (
	TierPending    Tier = "pending"
	TierInFlight   Tier = "in_flight"
	TierCompleted  Tier = "completed"
	TierFailed     Tier = "failed"
	TierDeadLetter Tier = "dead_letter"
)

// orderedTiers is the scan order for status queries.
var orderedTiers = []Tier{TierPending, TierInFlight, TierCompleted, TierFailed, TierDeadLetter}

// statusFor maps a tier to the externally reported status.
func statusFor(t Tier) types.Status {
	switch t {
	case TierPending:
		return types.StatusPending
	case TierInFlight:
		return types.StatusProcessing
	case TierCompleted:
		return types.StatusCompleted
	case TierFailed:
		return types.StatusFailed
	case TierDeadLetter:
		return types.StatusDeadLetter
	default:
		return types.StatusPending
	}
}

// sorted reports whether the tier is backed by an ordered set rather
// than a list.
func (t Tier) sorted() bool {
	return t == TierPending || t == TierInFlight
}

// encodeOperation serializes an operation to its canonical tier
// member form. Struct field order is fixed, so identical operations
// produce identical bytes.
func encodeOperation(op *types.Operation) (string, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return "", fmt.Errorf("encoding operation %s: %w", op.ID, err)
	}
	return string(data), nil
}

// decodeOperation parses a tier member back into an operation.
func decodeOperation(member string) (*types.Operation, error) {
	var op types.Operation
	if err := json.Unmarshal([]byte(member), &op); err != nil {
		return nil, fmt.Errorf("decoding operation payload: %w", err)
	}
	return &op, nil
}
