// Package city holds the building grid: fixed-size cells plus a flat list of
// placed buildings kept in sync with cell occupancy.
package city

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/city-tycoon/internal/catalog"
)

// PlacedBuilding is one building occupying one grid cell.
type PlacedBuilding struct {
	ID       uuid.UUID  `json:"id"`
	Type     catalog.ID `json:"type"`
	X        int        `json:"x"`
	Y        int        `json:"y"`
	PlacedAt time.Time  `json:"placed_at"`
}

// Grid is a Width×Height array of optional buildings. A building is in
// Buildings iff exactly one cell references it.
type Grid struct {
	Width  int
	Height int

	cells     []*PlacedBuilding // row-major, len Width*Height
	buildings []*PlacedBuilding // placement order
}

// NewGrid creates an empty grid.
func NewGrid(width, height int) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		cells:  make([]*PlacedBuilding, width*height),
	}
}

// InBounds reports whether (x, y) is a cell of the grid.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.Width && y < g.Height
}

// At returns the building at (x, y), or nil if the cell is empty or out of bounds.
func (g *Grid) At(x, y int) *PlacedBuilding {
	if !g.InBounds(x, y) {
		return nil
	}
	return g.cells[y*g.Width+x]
}

// Free reports whether (x, y) is in bounds and unoccupied.
func (g *Grid) Free(x, y int) bool {
	return g.InBounds(x, y) && g.cells[y*g.Width+x] == nil
}

// Put occupies the building's cell. It fails if the cell is out of bounds or taken.
func (g *Grid) Put(b *PlacedBuilding) error {
	if !g.InBounds(b.X, b.Y) {
		return fmt.Errorf("cell (%d,%d) out of bounds", b.X, b.Y)
	}
	idx := b.Y*g.Width + b.X
	if g.cells[idx] != nil {
		return fmt.Errorf("cell (%d,%d) occupied", b.X, b.Y)
	}
	g.cells[idx] = b
	g.buildings = append(g.buildings, b)
	return nil
}

// Remove clears (x, y) and returns the building that was there, or nil.
func (g *Grid) Remove(x, y int) *PlacedBuilding {
	b := g.At(x, y)
	if b == nil {
		return nil
	}
	g.cells[y*g.Width+x] = nil
	for i, pb := range g.buildings {
		if pb == b {
			g.buildings = append(g.buildings[:i], g.buildings[i+1:]...)
			break
		}
	}
	return b
}

// Buildings returns the placed buildings in placement order. The slice is
// shared; callers must not modify it.
func (g *Grid) Buildings() []*PlacedBuilding {
	return g.buildings
}

// Len returns the number of placed buildings.
func (g *Grid) Len() int {
	return len(g.buildings)
}
