package engine

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/talgya/city-tycoon/internal/catalog"
	"github.com/talgya/city-tycoon/internal/city"
)

const (
	house      catalog.ID = 1
	shop       catalog.ID = 2
	farm       catalog.ID = 3
	powerPlant catalog.ID = 4
)

func newTestSim(t *testing.T) *Simulation {
	t.Helper()
	opts := DefaultOptions()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts.Now = func() time.Time { return fixed }
	return NewSimulation(catalog.Default(), opts)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func buildingAt(id catalog.ID, x, y int) city.PlacedBuilding {
	return city.PlacedBuilding{Type: id, X: x, Y: y}
}

func energySum(sim *Simulation) int {
	total := 0
	for _, b := range sim.Buildings() {
		def, _ := sim.Catalog().Get(b.Type)
		total += def.Energy
	}
	return total
}

func TestDefaultState(t *testing.T) {
	sim := newTestSim(t)
	st := sim.State()
	if st.Money != 500 || st.Population != 0 || st.Energy != 0 || !approx(st.Happiness, 0.6) {
		t.Errorf("unexpected starting state: %+v", st)
	}
	if !st.Running {
		t.Error("new simulation should be running")
	}
	if st.Selected != house {
		t.Errorf("expected House selected, got %d", st.Selected)
	}
	if st.Width != 10 || st.Height != 7 {
		t.Errorf("expected 10x7 grid, got %dx%d", st.Width, st.Height)
	}
}

func TestPlaceHouseScenario(t *testing.T) {
	sim := newTestSim(t)

	if !sim.Place(0, 0, house) {
		t.Fatalf("Place failed: %s", sim.Status())
	}
	st := sim.State()
	if st.Money != 400 {
		t.Errorf("money: want 400, got %d", st.Money)
	}
	if st.Population != 2 {
		t.Errorf("population: want 2, got %d", st.Population)
	}
	if st.Energy != -1 {
		t.Errorf("energy: want -1, got %d", st.Energy)
	}
	if !approx(st.Happiness, 0.625) {
		t.Errorf("happiness: want 0.625, got %v", st.Happiness)
	}
	if sim.CanPlace(0, 0) {
		t.Error("CanPlace(0,0) should be false after placing")
	}
	if !strings.Contains(sim.Status(), "House") {
		t.Errorf("status should name the building, got %q", sim.Status())
	}
}

func TestTickScenario(t *testing.T) {
	sim := newTestSim(t)
	sim.Place(0, 0, house)

	r := sim.Tick()

	if r.IncomeBase != 2 || r.Upkeep != 0 {
		t.Errorf("totals: want income 2 upkeep 0, got %d/%d", r.IncomeBase, r.Upkeep)
	}
	if r.Energy != -1 {
		t.Errorf("energy: want -1, got %d", r.Energy)
	}
	// 0.625 + clamp(0.02-0.002) + (-0.12*0.02)
	if !approx(r.Happiness, 0.6406) {
		t.Errorf("happiness: want 0.6406, got %v", r.Happiness)
	}
	// floor(2 * 1.31248 * 0.6 * 1.04) = floor(1.638) = 1
	if r.Gained != 1 {
		t.Errorf("gained: want 1, got %d", r.Gained)
	}
	if r.Money != 401 {
		t.Errorf("money: want 401, got %d", r.Money)
	}
	if r.Population != 2 {
		t.Errorf("population: want 2 (growth floors to 0), got %d", r.Population)
	}
	if r.Tick != 1 {
		t.Errorf("tick: want 1, got %d", r.Tick)
	}
	if got := sim.Status(); got != "+$1  pop:2  E:-1" {
		t.Errorf("unexpected tick status %q", got)
	}
}

func TestOutOfBoundsIsRejected(t *testing.T) {
	sim := newTestSim(t)
	before := sim.State()

	for _, xy := range [][2]int{{-1, 0}, {0, -1}, {10, 0}, {0, 7}, {100, 100}} {
		if sim.Place(xy[0], xy[1], house) {
			t.Errorf("Place%v should fail", xy)
		}
		if sim.Demolish(xy[0], xy[1]) {
			t.Errorf("Demolish%v should fail", xy)
		}
		if sim.CanPlace(xy[0], xy[1]) {
			t.Errorf("CanPlace%v should be false", xy)
		}
	}

	after := sim.State()
	after.Status = before.Status
	if after != before {
		t.Errorf("state mutated by out-of-bounds calls:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestPlaceFailures(t *testing.T) {
	sim := newTestSim(t)

	if sim.Place(0, 0, 99) {
		t.Error("unknown building type should fail")
	}
	if sim.Status() != "Unknown building" {
		t.Errorf("unexpected status %q", sim.Status())
	}

	sim.Place(1, 1, powerPlant) // 500 -> 100
	if sim.Place(1, 1, house) {
		t.Error("placing on occupied cell should fail")
	}
	if sim.Status() != "Cell occupied" {
		t.Errorf("unexpected status %q", sim.Status())
	}

	before := sim.State()
	if sim.Place(2, 2, shop) {
		t.Error("Shop (200) should be unaffordable with 100")
	}
	if !strings.HasPrefix(sim.Status(), "Not enough money") {
		t.Errorf("unexpected status %q", sim.Status())
	}
	after := sim.State()
	if after.Money != before.Money || after.Buildings != before.Buildings {
		t.Error("failed placement mutated state")
	}
}

func TestPlaceThenDemolishRestores(t *testing.T) {
	for _, id := range []catalog.ID{house, shop, farm, powerPlant} {
		sim := newTestSim(t)
		def, _ := sim.Catalog().Get(id)
		before := sim.State()

		if !sim.Place(3, 4, id) {
			t.Fatalf("%s: place failed: %s", def.Name, sim.Status())
		}
		if !sim.Demolish(3, 4) {
			t.Fatalf("%s: demolish failed: %s", def.Name, sim.Status())
		}

		after := sim.State()
		wantMoney := before.Money - def.Cost + def.Cost/2
		if after.Money != wantMoney {
			t.Errorf("%s: money want %d, got %d", def.Name, wantMoney, after.Money)
		}
		if after.Population != before.Population || after.Energy != before.Energy {
			t.Errorf("%s: population/energy not restored: %+v", def.Name, after)
		}
		if !approx(after.Happiness, before.Happiness) {
			t.Errorf("%s: happiness want %v, got %v", def.Name, before.Happiness, after.Happiness)
		}
		if !sim.CanPlace(3, 4) {
			t.Errorf("%s: cell should be free after demolish", def.Name)
		}
	}
}

func TestDemolishMessageNamesRefund(t *testing.T) {
	sim := newTestSim(t)
	sim.Place(0, 0, house)
	sim.Demolish(0, 0)
	if got := sim.Status(); got != "Demolished House (+$50)" {
		t.Errorf("unexpected status %q", got)
	}
}

func TestDemolishEmptyCell(t *testing.T) {
	sim := newTestSim(t)
	sim.Place(0, 0, house)
	before := sim.State()

	if sim.Demolish(5, 5) {
		t.Error("demolishing an empty cell should fail")
	}
	after := sim.State()
	if after.Status != "Empty" {
		t.Errorf("unexpected status %q", after.Status)
	}
	after.Status = before.Status
	if after != before {
		t.Errorf("state changed: before %+v after %+v", before, after)
	}
}

func TestEnergyTracksPlacedBuildings(t *testing.T) {
	opts := DefaultOptions()
	opts.StartMoney = 100000
	sim := NewSimulation(catalog.Default(), opts)

	ops := []struct {
		place bool
		x, y  int
		id    catalog.ID
	}{
		{true, 0, 0, house}, {true, 1, 0, shop}, {true, 2, 0, powerPlant},
		{true, 3, 0, farm}, {false, 1, 0, 0}, {true, 4, 4, powerPlant},
		{false, 0, 0, 0}, {true, 0, 0, shop}, {false, 9, 9, 0}, {false, 2, 0, 0},
	}
	for i, op := range ops {
		if op.place {
			sim.Place(op.x, op.y, op.id)
		} else {
			sim.Demolish(op.x, op.y)
		}
		if got, want := sim.State().Energy, energySum(sim); got != want {
			t.Fatalf("step %d: energy %d != sum of placed %d", i, got, want)
		}
	}
}

func TestHappinessAndPopulationStayBounded(t *testing.T) {
	opts := DefaultOptions()
	opts.StartMoney = 1_000_000
	sim := NewSimulation(catalog.Default(), opts)

	// Power plants push happiness down, houses push population up.
	for x := 0; x < 10; x++ {
		sim.Place(x, 0, powerPlant)
		sim.Place(x, 1, house)
		sim.Place(x, 2, house)
	}
	for i := 0; i < 500; i++ {
		r := sim.Tick()
		if r.Happiness < 0 || r.Happiness > 1 {
			t.Fatalf("tick %d: happiness %v out of range", i, r.Happiness)
		}
		if r.Population < 0 {
			t.Fatalf("tick %d: negative population %d", i, r.Population)
		}
		if i%50 == 0 {
			sim.Demolish(i/50, 1)
			if st := sim.State(); st.Population < 0 || st.Happiness < 0 || st.Happiness > 1 {
				t.Fatalf("after demolish: %+v", st)
			}
		}
	}
}

func TestTickLossIsCapped(t *testing.T) {
	opts := DefaultOptions()
	opts.StartMoney = 100000
	cat, err := catalog.New([]catalog.BuildingType{
		{ID: 1, Name: "Monument", Cost: 0, Upkeep: 500, Happiness: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	sim := NewSimulation(cat, opts)
	sim.Place(0, 0, 1)

	r := sim.Tick()
	if r.Gained != -50 {
		t.Errorf("loss should be capped at -50, got %d", r.Gained)
	}
	if sim.Status() != "-$50  pop:0  E:0" {
		t.Errorf("unexpected status %q", sim.Status())
	}
}

func TestPopulationGrowsWhenContent(t *testing.T) {
	opts := DefaultOptions()
	opts.StartMoney = 1_000_000
	opts.StartHappiness = 1
	cat, err := catalog.New([]catalog.BuildingType{
		{ID: 1, Name: "Tower", Cost: 10, Pop: 50},
	})
	if err != nil {
		t.Fatal(err)
	}
	sim := NewSimulation(cat, opts)
	sim.Place(0, 0, 1)

	r := sim.Tick()
	// popFromHouses 50 → growth floor(50*0.02) = 1; happiness stays above 0.5.
	if r.Population != 51 {
		t.Errorf("population: want 51, got %d", r.Population)
	}
}

func TestSelectAndPlaceSelected(t *testing.T) {
	sim := newTestSim(t)
	if sim.Select(99) {
		t.Error("selecting unknown building should fail")
	}
	if !sim.Select(farm) {
		t.Fatal("selecting Farm failed")
	}
	if !sim.PlaceSelected(2, 3) {
		t.Fatalf("PlaceSelected failed: %s", sim.Status())
	}
	bs := sim.Buildings()
	if len(bs) != 1 || bs[0].Type != farm || bs[0].X != 2 || bs[0].Y != 3 {
		t.Errorf("unexpected buildings %+v", bs)
	}
}

func TestResetAndPause(t *testing.T) {
	sim := newTestSim(t)
	sim.Place(0, 0, house)
	sim.Tick()
	if sim.TogglePause() {
		t.Error("first toggle should pause")
	}
	if sim.Running() {
		t.Error("expected paused")
	}
	runBefore, _ := sim.RunHistory(0)

	sim.Reset()
	st := sim.State()
	if st.Money != 500 || st.Population != 0 || st.Buildings != 0 || st.Tick != 0 || !st.Running {
		t.Errorf("reset did not restore defaults: %+v", st)
	}
	run, history := sim.RunHistory(0)
	if len(history) != 0 {
		t.Error("reset should clear tick history")
	}
	if run == runBefore {
		t.Error("reset should start a new history run")
	}
	if !sim.CanPlace(0, 0) {
		t.Error("grid should be empty after reset")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	sim := newTestSim(t)
	sim.Place(0, 0, house)
	sim.Place(4, 2, farm)
	sim.Tick()
	snap := sim.Snapshot()
	want := sim.State()

	other := newTestSim(t)
	skipped, err := other.Restore(snap)
	if err != nil || skipped != 0 {
		t.Fatalf("Restore: skipped=%d err=%v", skipped, err)
	}
	got := other.State()
	if got.Money != want.Money || got.Population != want.Population ||
		!approx(got.Happiness, want.Happiness) || got.Energy != want.Energy {
		t.Errorf("restored %+v, want %+v", got, want)
	}
	a, b := sim.Buildings(), other.Buildings()
	if len(a) != len(b) {
		t.Fatalf("building count %d != %d", len(b), len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("building %d: %+v != %+v", i, b[i], a[i])
		}
	}
}

func TestRestoreIsAllOrNothing(t *testing.T) {
	sim := newTestSim(t)
	sim.Place(0, 0, house)
	before := sim.State()

	bad := sim.Snapshot()
	bad.Money = 99999
	bad.Buildings[0].Type = 42

	if _, err := sim.Restore(bad); err == nil {
		t.Fatal("expected error for unknown building type")
	}
	if after := sim.State(); after != before {
		t.Errorf("state changed by failed restore: %+v", after)
	}
}

func TestRestoreSkipsInvalidCells(t *testing.T) {
	sim := newTestSim(t)
	snap := Snapshot{
		Money:      10,
		Population: -4,
		Happiness:  3,
	}
	snap.Buildings = append(snap.Buildings,
		sim.Snapshot().Buildings...,
	)
	for _, xy := range [][2]int{{1, 1}, {1, 1}, {-1, 0}, {10, 0}, {2, 2}} {
		snap.Buildings = append(snap.Buildings, buildingAt(powerPlant, xy[0], xy[1]))
	}

	skipped, err := sim.Restore(snap)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if skipped != 3 {
		t.Errorf("expected 3 skipped records, got %d", skipped)
	}
	st := sim.State()
	if st.Buildings != 2 || st.Energy != 16 {
		t.Errorf("expected 2 plants and energy 16, got %+v", st)
	}
	if st.Population != 0 || st.Happiness != 1 {
		t.Errorf("population/happiness not clamped: %+v", st)
	}
}

func TestEventsAndSubscribe(t *testing.T) {
	sim := newTestSim(t)
	id, ch := sim.Subscribe()

	sim.Place(0, 0, house)
	select {
	case e := <-ch:
		if e.Kind != "place" || !e.OK || e.Message != "Placed House" {
			t.Errorf("unexpected event %+v", e)
		}
	default:
		t.Fatal("subscriber did not receive event")
	}

	sim.Unsubscribe(id)
	if _, open := <-ch; open {
		t.Error("channel should be closed after Unsubscribe")
	}

	sim.Demolish(9, 6)
	events := sim.Events(1)
	if len(events) != 1 || events[0].Kind != "demolish" || events[0].OK {
		t.Errorf("unexpected recent events %+v", events)
	}
}

func TestFormatMoney(t *testing.T) {
	cases := map[int]string{0: "$0", 50: "$50", 1234567: "$1,234,567", -3: "-$3"}
	for n, want := range cases {
		if got := FormatMoney(n); got != want {
			t.Errorf("FormatMoney(%d) = %q, want %q", n, got, want)
		}
	}
	if got := signedMoney(12); got != "+$12" {
		t.Errorf("signedMoney(12) = %q", got)
	}
}
