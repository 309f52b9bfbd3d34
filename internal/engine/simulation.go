// Package engine provides the city economy simulator and the fixed-interval
// scheduler that drives it.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/talgya/city-tycoon/internal/catalog"
	"github.com/talgya/city-tycoon/internal/city"
)

// ErrUnknownBuilding is returned when a building type id is not in the catalog.
var ErrUnknownBuilding = errors.New("unknown building type")

const (
	maxEvents         = 1000
	subscriberBacklog = 64
)

// Options configures a new Simulation.
type Options struct {
	Width           int
	Height          int
	StartMoney      int
	StartHappiness  float64
	DefaultBuilding catalog.ID
	HistorySize     int              // Tick reports retained; <=0 means 1000
	Now             func() time.Time // Clock for PlacedAt; nil means time.Now
}

// DefaultOptions returns the shipped starting setup: a 10x7 grid, $500 and 60% happiness.
func DefaultOptions() Options {
	return Options{
		Width:           10,
		Height:          7,
		StartMoney:      500,
		StartHappiness:  0.6,
		DefaultBuilding: 1,
		HistorySize:     1000,
	}
}

// Simulation owns the canonical city state. All methods are safe to call
// from multiple goroutines; operations are serialized so that no two overlap.
type Simulation struct {
	mu      sync.Mutex
	catalog *catalog.Catalog
	opts    Options

	money      int
	population int
	happiness  float64
	energy     int
	grid       *city.Grid
	running    bool
	selected   catalog.ID

	tick    uint64
	run     uint64 // bumped on every reset
	status  string
	events  []Event
	history []TickReport

	subs    map[int]chan Event
	nextSub int
}

// Event is a user-facing status message produced by an operation.
type Event struct {
	Tick    uint64    `json:"tick"`
	Kind    string    `json:"kind"` // "place", "demolish", "tick", "reset", "save", "load", ...
	OK      bool      `json:"ok"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// StateView is a read-only copy of the scalar game state for display layers.
type StateView struct {
	Tick       uint64     `json:"tick"`
	Money      int        `json:"money"`
	Population int        `json:"population"`
	Happiness  float64    `json:"happiness"`
	Energy     int        `json:"energy"`
	Running    bool       `json:"running"`
	Selected   catalog.ID `json:"selected_building"`
	Buildings  int        `json:"buildings"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Status     string     `json:"status"`
}

// NewSimulation creates a simulator in its default state. The catalog is
// shared read-only.
func NewSimulation(cat *catalog.Catalog, opts Options) *Simulation {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 1000
	}
	if !cat.Has(opts.DefaultBuilding) {
		opts.DefaultBuilding = cat.First()
	}

	s := &Simulation{
		catalog: cat,
		opts:    opts,
		subs:    make(map[int]chan Event),
	}
	s.resetLocked()
	return s
}

func (s *Simulation) resetLocked() {
	s.money = s.opts.StartMoney
	s.population = 0
	s.happiness = clamp(s.opts.StartHappiness, 0, 1)
	s.energy = 0
	s.grid = city.NewGrid(s.opts.Width, s.opts.Height)
	s.running = true
	s.selected = s.opts.DefaultBuilding
	s.tick = 0
	s.run++
	s.history = s.history[:0]
}

// Catalog returns the building catalog the simulator was built with.
func (s *Simulation) Catalog() *catalog.Catalog {
	return s.catalog
}

// State returns a copy of the current scalar state.
func (s *Simulation) State() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Simulation) viewLocked() StateView {
	return StateView{
		Tick:       s.tick,
		Money:      s.money,
		Population: s.population,
		Happiness:  s.happiness,
		Energy:     s.energy,
		Running:    s.running,
		Selected:   s.selected,
		Buildings:  s.grid.Len(),
		Width:      s.grid.Width,
		Height:     s.grid.Height,
		Status:     s.status,
	}
}

// Buildings returns copies of all placed buildings in placement order.
func (s *Simulation) Buildings() []city.PlacedBuilding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]city.PlacedBuilding, 0, s.grid.Len())
	for _, b := range s.grid.Buildings() {
		out = append(out, *b)
	}
	return out
}

// Status returns the latest status message.
func (s *Simulation) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Running reports whether the scheduler should tick the simulation.
func (s *Simulation) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetRunning pauses or resumes ticking.
func (s *Simulation) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
	s.emitPauseLocked()
}

// TogglePause flips the running flag and returns the new value.
func (s *Simulation) TogglePause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = !s.running
	s.emitPauseLocked()
	return s.running
}

func (s *Simulation) emitPauseLocked() {
	if s.running {
		s.emitLocked("pause", true, "Resumed")
	} else {
		s.emitLocked("pause", true, "Paused")
	}
}

// Selected returns the building type used by PlaceSelected.
func (s *Simulation) Selected() catalog.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Select sets the building type used by PlaceSelected. Unknown ids fail.
func (s *Simulation) Select(id catalog.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.catalog.Get(id)
	if !ok {
		s.emitLocked("select", false, "Unknown building")
		return false
	}
	s.selected = id
	s.emitLocked("select", true, "Selected "+b.Name)
	return true
}

// Reset restores the starting state.
func (s *Simulation) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.emitLocked("reset", true, "City reset")
}

// Report records a status message on behalf of an external collaborator
// (for example the save/load layer).
func (s *Simulation) Report(kind string, ok bool, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(kind, ok, message)
}

// Events returns up to n of the most recent events, oldest first.
func (s *Simulation) Events(n int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if n > 0 && len(s.events) > n {
		start = len(s.events) - n
	}
	out := make([]Event, len(s.events)-start)
	copy(out, s.events[start:])
	return out
}

// History returns up to n of the most recent tick reports, oldest first.
func (s *Simulation) History(n int) []TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked(n)
}

// RunHistory is History plus the run number, which changes on every reset.
// Tick numbers are only comparable within one run.
func (s *Simulation) RunHistory(n int) (uint64, []TickReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run, s.historyLocked(n)
}

func (s *Simulation) historyLocked(n int) []TickReport {
	start := 0
	if n > 0 && len(s.history) > n {
		start = len(s.history) - n
	}
	out := make([]TickReport, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// Subscribe registers a listener for new events. Slow listeners miss events
// rather than block the simulator.
func (s *Simulation) Subscribe() (int, <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	ch := make(chan Event, subscriberBacklog)
	s.subs[s.nextSub] = ch
	return s.nextSub, ch
}

// Unsubscribe removes a listener and closes its channel.
func (s *Simulation) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Simulation) emitLocked(kind string, ok bool, message string) {
	e := Event{
		Tick:    s.tick,
		Kind:    kind,
		OK:      ok,
		Message: message,
		Time:    s.opts.Now(),
	}
	s.status = message
	s.events = append(s.events, e)
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
