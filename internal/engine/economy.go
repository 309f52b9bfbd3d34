package engine

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// Economy tuning. Values match the shipped balance and are pinned by tests.
const (
	popDragBase       = 0.02  // happiness gained per tick with no population
	popDragPerCitizen = 0.001 // happiness lost per tick per citizen
	popDragMin        = -0.3
	popDragMax        = 0.05

	energySurplusEffect = 0.05
	energyDeficitEffect = -0.12
	energyEffectWeight  = 0.02

	happinessMultBase  = 0.8 // income multiplier at zero happiness
	happinessMultRange = 0.8 // added at full happiness
	energyDeficitMult  = 0.6

	popBonusDivisor = 50.0
	popBonusMax     = 0.5

	maxLossPerTick  = -50
	growthThreshold = 0.5 // happiness required for population growth
	growthDivisor   = 50  // residents gained per tick = housing / 50
)

// TickReport summarises one simulation step.
type TickReport struct {
	Tick       uint64  `json:"tick" csv:"tick" db:"tick"`
	IncomeBase int     `json:"income_base" csv:"income_base" db:"income_base"`
	Upkeep     int     `json:"upkeep" csv:"upkeep" db:"upkeep"`
	Gained     int     `json:"gained" csv:"gained" db:"gained"`
	Money      int     `json:"money" csv:"money" db:"money"`
	Energy     int     `json:"energy" csv:"energy" db:"energy"`
	Population int     `json:"population" csv:"population" db:"population"`
	Happiness  float64 `json:"happiness" csv:"happiness" db:"happiness"`
}

// cityTotals aggregates per-building effects over the whole city.
type cityTotals struct {
	income        int
	upkeep        int
	produced      int // sum of positive energy deltas
	required      int // sum of |negative energy deltas|
	popFromHouses int // sum of positive pop deltas
}

func (s *Simulation) totalsLocked() cityTotals {
	var t cityTotals
	for _, pb := range s.grid.Buildings() {
		def, ok := s.catalog.Get(pb.Type)
		if !ok {
			continue
		}
		t.income += def.Income
		t.upkeep += def.Upkeep
		if def.Energy > 0 {
			t.produced += def.Energy
		} else if def.Energy < 0 {
			t.required += -def.Energy
		}
		if def.Pop > 0 {
			t.popFromHouses += def.Pop
		}
	}
	return t
}

// Tick advances the economy by one interval: energy is recomputed from the
// placed buildings, happiness drifts with population and energy balance,
// income is scaled by happiness, energy and population, and content cities
// with housing grow.
func (s *Simulation) Tick() TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.totalsLocked()

	if s.population < 0 {
		s.population = 0
	}
	s.energy = t.produced - t.required

	popEffect := clamp(popDragBase-float64(s.population)*popDragPerCitizen, popDragMin, popDragMax)
	energyEffect := energySurplusEffect
	if s.energy < 0 {
		energyEffect = energyDeficitEffect
	}
	s.happiness = clamp(s.happiness+popEffect+energyEffect*energyEffectWeight, 0, 1)

	happinessMult := happinessMultBase + s.happiness*happinessMultRange
	energyMult := 1.0
	if s.energy < 0 {
		energyMult = energyDeficitMult
	}
	popBonus := 1.0 + math.Min(float64(s.population)/popBonusDivisor, popBonusMax)

	gained := int(math.Floor(float64(t.income-t.upkeep) * happinessMult * energyMult * popBonus))
	if gained < maxLossPerTick {
		gained = maxLossPerTick
	}
	s.money += gained

	if t.popFromHouses > 0 && s.happiness > growthThreshold {
		s.population += t.popFromHouses / growthDivisor
	}

	s.tick++
	report := TickReport{
		Tick:       s.tick,
		IncomeBase: t.income,
		Upkeep:     t.upkeep,
		Gained:     gained,
		Money:      s.money,
		Energy:     s.energy,
		Population: s.population,
		Happiness:  s.happiness,
	}
	s.history = append(s.history, report)
	if len(s.history) > s.opts.HistorySize {
		s.history = s.history[len(s.history)-s.opts.HistorySize:]
	}

	s.emitLocked("tick", true, fmt.Sprintf("%s  pop:%d  E:%d", signedMoney(gained), s.population, s.energy))
	return report
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// FormatMoney renders an amount as "$1,234" or "-$1,234".
func FormatMoney(n int) string {
	if n < 0 {
		return "-$" + humanize.Comma(int64(-n))
	}
	return "$" + humanize.Comma(int64(n))
}

// signedMoney is FormatMoney with an explicit "+" for non-negative amounts.
func signedMoney(n int) string {
	if n < 0 {
		return FormatMoney(n)
	}
	return "+" + FormatMoney(n)
}
