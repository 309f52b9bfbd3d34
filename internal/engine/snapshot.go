package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/talgya/city-tycoon/internal/city"
)

// Snapshot is the persistable part of the game state. Energy is derived
// from the buildings and is not part of it.
type Snapshot struct {
	Money      int
	Population int
	Happiness  float64
	Buildings  []city.PlacedBuilding
}

// Snapshot captures the persistable state.
func (s *Simulation) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Money:      s.money,
		Population: s.population,
		Happiness:  s.happiness,
		Buildings:  make([]city.PlacedBuilding, 0, s.grid.Len()),
	}
	for _, b := range s.grid.Buildings() {
		snap.Buildings = append(snap.Buildings, *b)
	}
	return snap
}

// Restore replaces the game state with snap. It is all-or-nothing: a
// building of an unknown type rejects the whole snapshot and leaves the
// current state untouched. Buildings outside the grid or on an already
// occupied cell are skipped; the number skipped is returned. Energy is
// recomputed from the restored buildings.
func (s *Simulation) Restore(snap Snapshot) (skipped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grid := city.NewGrid(s.opts.Width, s.opts.Height)
	energy := 0
	for _, b := range snap.Buildings {
		def, ok := s.catalog.Get(b.Type)
		if !ok {
			return 0, fmt.Errorf("building at (%d,%d): %w %d", b.X, b.Y, ErrUnknownBuilding, b.Type)
		}
		pb := b
		if pb.ID == uuid.Nil {
			pb.ID = uuid.New()
		}
		if err := grid.Put(&pb); err != nil {
			skipped++
			continue
		}
		energy += def.Energy
	}

	s.money = snap.Money
	s.population = snap.Population
	if s.population < 0 {
		s.population = 0
	}
	s.happiness = clamp(snap.Happiness, 0, 1)
	s.energy = energy
	s.grid = grid
	return skipped, nil
}
