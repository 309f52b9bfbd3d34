package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/city-tycoon/internal/catalog"
	"github.com/talgya/city-tycoon/internal/city"
)

// Placement and demolition apply half of a building's happiness delta and
// refund half its cost.
const (
	placementHappinessFactor = 0.5
	refundNumerator          = 1
	refundDenominator        = 2
)

// CanPlace reports whether (x, y) is in bounds and unoccupied.
func (s *Simulation) CanPlace(x, y int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid.Free(x, y)
}

// PlaceSelected places the currently selected building type at (x, y).
func (s *Simulation) PlaceSelected(x, y int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placeLocked(x, y, s.selected)
}

// Place builds a building of type id at (x, y). It returns false without
// changing anything when the cell is out of bounds or occupied, the type is
// unknown, or the city cannot afford it.
func (s *Simulation) Place(x, y int, id catalog.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placeLocked(x, y, id)
}

func (s *Simulation) placeLocked(x, y int, id catalog.ID) bool {
	if !s.grid.InBounds(x, y) {
		s.emitLocked("place", false, "Out of bounds")
		return false
	}
	if !s.grid.Free(x, y) {
		s.emitLocked("place", false, "Cell occupied")
		return false
	}
	def, ok := s.catalog.Get(id)
	if !ok {
		s.emitLocked("place", false, "Unknown building")
		return false
	}
	if s.money < def.Cost {
		s.emitLocked("place", false, fmt.Sprintf("Not enough money for %s (%s)", def.Name, FormatMoney(def.Cost)))
		return false
	}

	pb := &city.PlacedBuilding{
		ID:       uuid.New(),
		Type:     id,
		X:        x,
		Y:        y,
		PlacedAt: s.opts.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.grid.Put(pb); err != nil {
		// Free() was checked above under the same lock.
		s.emitLocked("place", false, err.Error())
		return false
	}

	s.money -= def.Cost
	s.population += def.Pop
	if s.population < 0 {
		s.population = 0
	}
	s.energy += def.Energy
	s.happiness = clamp(s.happiness+def.Happiness*placementHappinessFactor, 0, 1)

	s.emitLocked("place", true, "Placed "+def.Name)
	return true
}

// Demolish removes the building at (x, y), refunding half its cost and
// reversing its placement effects. Empty or out-of-bounds cells fail.
func (s *Simulation) Demolish(x, y int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.grid.InBounds(x, y) {
		s.emitLocked("demolish", false, "Out of bounds")
		return false
	}
	pb := s.grid.At(x, y)
	if pb == nil {
		s.emitLocked("demolish", false, "Empty")
		return false
	}
	def, ok := s.catalog.Get(pb.Type)
	if !ok {
		// Restore rejects unknown types, so every placed building is in the catalog.
		s.emitLocked("demolish", false, "Unknown building")
		return false
	}

	back := refund(def.Cost)
	s.money += back
	s.population -= def.Pop
	if s.population < 0 {
		s.population = 0
	}
	s.energy -= def.Energy
	s.happiness = clamp(s.happiness-def.Happiness*placementHappinessFactor, 0, 1)
	s.grid.Remove(x, y)

	s.emitLocked("demolish", true, fmt.Sprintf("Demolished %s (+%s)", def.Name, FormatMoney(back)))
	return true
}

// refund is floor(cost * 0.5) for non-negative costs.
func refund(cost int) int {
	return cost * refundNumerator / refundDenominator
}
