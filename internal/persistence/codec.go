package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/city-tycoon/internal/catalog"
	"github.com/talgya/city-tycoon/internal/city"
	"github.com/talgya/city-tycoon/internal/engine"
)

// DefaultHappiness is used when a save has no usable happiness value.
const DefaultHappiness = 0.6

// ErrMalformed wraps every decoding failure.
var ErrMalformed = errors.New("malformed save")

type saveRecord struct {
	Money      int              `json:"money"`
	Population int              `json:"population"`
	Happiness  float64          `json:"happiness"`
	Buildings  []buildingRecord `json:"buildings"`
}

type buildingRecord struct {
	Type     catalog.ID `json:"bid"`
	X        int        `json:"x"`
	Y        int        `json:"y"`
	PlacedAt float64    `json:"placed_at"` // Unix seconds
	ID       string     `json:"id,omitempty"`
}

// EncodeSnapshot renders a snapshot as an indented JSON save blob.
func EncodeSnapshot(snap engine.Snapshot) ([]byte, error) {
	rec := saveRecord{
		Money:      snap.Money,
		Population: snap.Population,
		Happiness:  snap.Happiness,
		Buildings:  make([]buildingRecord, 0, len(snap.Buildings)),
	}
	for _, b := range snap.Buildings {
		rec.Buildings = append(rec.Buildings, buildingRecord{
			Type:     b.Type,
			X:        b.X,
			Y:        b.Y,
			PlacedAt: unixSeconds(b.PlacedAt),
			ID:       b.ID.String(),
		})
	}
	return json.MarshalIndent(rec, "", "  ")
}

// DecodeSnapshot parses a save blob. Missing or null fields take defaults
// (money and population 0, happiness 0.6); a non-numeric happiness also falls
// back to 0.6. Building records with missing, non-integer or out-of-range
// coordinates are skipped and counted. Anything else that does not parse is an
// ErrMalformed error.
func DecodeSnapshot(data []byte) (engine.Snapshot, int, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return engine.Snapshot{}, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return engine.Snapshot{}, 0, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	snap := engine.Snapshot{Happiness: DefaultHappiness}

	var err error
	if snap.Money, err = intField(fields, "money"); err != nil {
		return engine.Snapshot{}, 0, err
	}
	if snap.Population, err = intField(fields, "population"); err != nil {
		return engine.Snapshot{}, 0, err
	}
	if raw, ok := fields["happiness"]; ok {
		var h float64
		if !isNull(raw) && json.Unmarshal(raw, &h) == nil && !math.IsNaN(h) {
			snap.Happiness = h
		}
	}

	raw, ok := fields["buildings"]
	if !ok || isNull(raw) {
		return snap, 0, nil
	}
	var records []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return engine.Snapshot{}, 0, fmt.Errorf("%w: buildings: %v", ErrMalformed, err)
	}

	skipped := 0
	for i, r := range records {
		var bid float64
		if rb := r["bid"]; isNull(rb) || json.Unmarshal(rb, &bid) != nil || bid != math.Trunc(bid) || !inIntRange(bid) {
			return engine.Snapshot{}, 0, fmt.Errorf("%w: building %d: missing or invalid bid", ErrMalformed, i)
		}
		x, okX := coord(r["x"])
		y, okY := coord(r["y"])
		if !okX || !okY {
			skipped++
			continue
		}

		pb := city.PlacedBuilding{Type: catalog.ID(bid), X: x, Y: y}
		var placedAt float64
		if json.Unmarshal(r["placed_at"], &placedAt) == nil {
			pb.PlacedAt = fromUnixSeconds(placedAt)
		}
		var id string
		if json.Unmarshal(r["id"], &id) == nil {
			if parsed, err := uuid.Parse(id); err == nil {
				pb.ID = parsed
			}
		}
		snap.Buildings = append(snap.Buildings, pb)
	}
	return snap, skipped, nil
}

// intField reads an optional integer; absent or null means 0. Fractional
// values are truncated.
func intField(fields map[string]json.RawMessage, name string) (int, error) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return 0, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	if !inIntRange(f) {
		return 0, fmt.Errorf("%w: %s: %v out of range", ErrMalformed, name, f)
	}
	return int(f), nil
}

// coord parses a grid coordinate, rejecting missing and non-integer values.
func coord(raw json.RawMessage) (int, bool) {
	if raw == nil || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil || f != math.Trunc(f) || !inIntRange(f) {
		return 0, false
	}
	return int(f), true
}

// inIntRange reports whether f converts to int without wrapping.
func inIntRange(f float64) bool {
	return f >= math.MinInt && f < math.MaxInt
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro()) / 1e6
}

func fromUnixSeconds(s float64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(math.Round(s * 1e6))).UTC()
}
