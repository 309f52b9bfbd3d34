// Package catalog holds the static building definitions a city can place.
package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// ID identifies a building type. IDs are small positive integers so they map
// onto the number keys of a typical input layer.
type ID int

// BuildingType is the immutable definition of a placeable structure.
type BuildingType struct {
	ID        ID      `yaml:"id" json:"id"`
	Name      string  `yaml:"name" json:"name"`
	Cost      int     `yaml:"cost" json:"cost"`
	Upkeep    int     `yaml:"upkeep" json:"upkeep"`       // Per-tick running cost
	Income    int     `yaml:"income" json:"income"`       // Base income per tick
	Pop       int     `yaml:"pop" json:"pop"`             // Residents added on placement
	Energy    int     `yaml:"energy" json:"energy"`       // Produced (>0) or required (<0)
	Happiness float64 `yaml:"happiness" json:"happiness"` // Satisfaction delta, may be negative
}

// ErrEmpty is returned when a catalog is built without any building types.
var ErrEmpty = errors.New("catalog has no building types")

// Catalog is an immutable id → definition mapping. It is built once at
// startup and shared read-only.
type Catalog struct {
	byID  map[ID]BuildingType
	order []ID
}

// New builds a catalog, rejecting duplicate or non-positive ids, empty names
// and negative costs.
func New(defs []BuildingType) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, ErrEmpty
	}

	c := &Catalog{byID: make(map[ID]BuildingType, len(defs))}
	for _, d := range defs {
		if d.ID <= 0 {
			return nil, fmt.Errorf("building %q: id must be positive, got %d", d.Name, d.ID)
		}
		if d.Name == "" {
			return nil, fmt.Errorf("building %d: empty name", d.ID)
		}
		if d.Cost < 0 {
			return nil, fmt.Errorf("building %s: negative cost %d", d.Name, d.Cost)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("building %s: duplicate id %d", d.Name, d.ID)
		}
		c.byID[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })
	return c, nil
}

// Default returns the four-building catalog the game ships with.
func Default() *Catalog {
	c, err := New(DefaultBuildings())
	if err != nil {
		panic(fmt.Sprintf("catalog: default buildings invalid: %v", err))
	}
	return c
}

// DefaultBuildings lists the shipped building definitions.
func DefaultBuildings() []BuildingType {
	return []BuildingType{
		{ID: 1, Name: "House", Cost: 100, Upkeep: 0, Income: 2, Pop: 2, Energy: -1, Happiness: 0.05},
		{ID: 2, Name: "Shop", Cost: 200, Upkeep: 1, Income: 8, Pop: 0, Energy: -2, Happiness: 0.02},
		{ID: 3, Name: "Farm", Cost: 150, Upkeep: 0, Income: 3, Pop: 0, Energy: 0, Happiness: 0.03},
		{ID: 4, Name: "PowerPlant", Cost: 400, Upkeep: 2, Income: 0, Pop: 0, Energy: 8, Happiness: -0.12},
	}
}

// Get returns the definition for id.
func (c *Catalog) Get(id ID) (BuildingType, bool) {
	b, ok := c.byID[id]
	return b, ok
}

// Has reports whether id is a known building type.
func (c *Catalog) Has(id ID) bool {
	_, ok := c.byID[id]
	return ok
}

// All returns every definition ordered by id.
func (c *Catalog) All() []BuildingType {
	out := make([]BuildingType, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// First returns the lowest id in the catalog.
func (c *Catalog) First() ID {
	return c.order[0]
}

// Len returns the number of building types.
func (c *Catalog) Len() int {
	return len(c.order)
}
