package model

import (
	"fmt"
	"math"
	"sort"
	"time"

	"fleetwatch/internal/codec"
)

// StatusRecord is one worker's snapshot as stored under status:{project}.
// Inventory holds the open-ended numeric fields; on the wire they sit next to
// the fixed keys.
type StatusRecord struct {
	State              State
	Label              string
	CurrentAccount     string
	LastUpdated        float64
	HeartbeatThreshold int
	PosCurrent         int
	PosTotal           int
	Progress           string
	Instance           string
	Inventory          map[string]float64
}

const (
	fieldStatus             = "status"
	fieldCurrentAccount     = "current_account"
	fieldLastUpdated        = "last_updated"
	fieldHeartbeatThreshold = "heartbeat_threshold"
	fieldPosCurrent         = "pos_current"
	fieldPosTotal           = "pos_total"
	fieldProgress           = "progress"
	fieldInstance           = "instance"
)

var reservedFields = map[string]bool{
	fieldStatus:             true,
	fieldCurrentAccount:     true,
	fieldLastUpdated:        true,
	fieldHeartbeatThreshold: true,
	fieldPosCurrent:         true,
	fieldPosTotal:           true,
	fieldProgress:           true,
	fieldInstance:           true,
}

func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func FromEpochSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second))))
}

func (r StatusRecord) UpdatedAt() time.Time {
	return FromEpochSeconds(r.LastUpdated)
}

func (r StatusRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Inventory)+8)
	for key, value := range r.Inventory {
		if reservedFields[key] {
			continue
		}
		out[key] = value
	}
	label := r.Label
	if label == "" || ParseStateLabel(label) != r.State {
		label = r.State.Label()
	}
	out[fieldStatus] = label
	out[fieldCurrentAccount] = r.CurrentAccount
	out[fieldLastUpdated] = r.LastUpdated
	if r.HeartbeatThreshold > 0 {
		out[fieldHeartbeatThreshold] = r.HeartbeatThreshold
	}
	out[fieldPosCurrent] = r.PosCurrent
	out[fieldPosTotal] = r.PosTotal
	out[fieldProgress] = r.Progress
	if r.Instance != "" {
		out[fieldInstance] = r.Instance
	}
	return codec.Marshal(out)
}

func (r *StatusRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := codec.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode status record: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("decode status record: not an object")
	}
	decoded := StatusRecord{State: StateUnknown}
	for key, value := range raw {
		switch key {
		case fieldStatus:
			decoded.Label = fmt.Sprint(value)
			decoded.State = ParseStateLabel(decoded.Label)
		case fieldCurrentAccount:
			if s, ok := value.(string); ok {
				decoded.CurrentAccount = s
			}
		case fieldLastUpdated:
			decoded.LastUpdated, _ = asFloat(value)
		case fieldHeartbeatThreshold:
			v, _ := asFloat(value)
			decoded.HeartbeatThreshold = int(v)
		case fieldPosCurrent:
			v, _ := asFloat(value)
			decoded.PosCurrent = int(v)
		case fieldPosTotal:
			v, _ := asFloat(value)
			decoded.PosTotal = int(v)
		case fieldProgress:
			if value != nil {
				decoded.Progress = fmt.Sprint(value)
			}
		case fieldInstance:
			if s, ok := value.(string); ok {
				decoded.Instance = s
			}
		default:
			if v, ok := asFloat(value); ok {
				if decoded.Inventory == nil {
					decoded.Inventory = make(map[string]float64)
				}
				decoded.Inventory[key] = v
			}
		}
	}
	*r = decoded
	return nil
}

// InventoryKeys returns the inventory keys in a stable order for display.
func (r StatusRecord) InventoryKeys() []string {
	keys := make([]string, 0, len(r.Inventory))
	for key := range r.Inventory {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func CloneInventory(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// FormatNumber renders inventory values without a trailing ".0" for integers.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
