package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/city-tycoon/internal/engine"
)

// Saver saves and loads a simulation under a fixed key. Outcomes are
// reported to the simulation as status messages.
type Saver struct {
	Store Store
	Key   string
}

// Save writes a full snapshot of sim and reports the outcome as a status.
func (s *Saver) Save(ctx context.Context, sim *engine.Simulation) error {
	snap, err := s.write(ctx, sim)
	if err != nil {
		sim.Report("save", false, "Save failed: "+err.Error())
		return err
	}
	slog.Info("game saved", "key", s.Key, "buildings", len(snap.Buildings), "money", snap.Money)
	sim.Report("save", true, "Saved")
	return nil
}

// Checkpoint writes a snapshot without touching the player-facing status.
// Used for autosaves and the final save on shutdown.
func (s *Saver) Checkpoint(ctx context.Context, sim *engine.Simulation) error {
	snap, err := s.write(ctx, sim)
	if err != nil {
		return err
	}
	slog.Debug("checkpoint written", "key", s.Key, "buildings", len(snap.Buildings))
	return nil
}

func (s *Saver) write(ctx context.Context, sim *engine.Simulation) (engine.Snapshot, error) {
	snap := sim.Snapshot()
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return snap, fmt.Errorf("encode save: %w", err)
	}
	if err := s.Store.Put(ctx, s.Key, data); err != nil {
		return snap, fmt.Errorf("save: %w", err)
	}
	return snap, nil
}

// Load replaces sim's state with the stored snapshot. On any failure the
// current state is left untouched.
func (s *Saver) Load(ctx context.Context, sim *engine.Simulation) error {
	data, err := s.Store.Get(ctx, s.Key)
	if errors.Is(err, ErrNotFound) {
		sim.Report("load", false, "Save not found")
		return err
	}
	if err != nil {
		sim.Report("load", false, "Load failed: "+err.Error())
		return fmt.Errorf("load: %w", err)
	}

	snap, skippedRecords, err := DecodeSnapshot(data)
	if err != nil {
		sim.Report("load", false, "Load failed: "+err.Error())
		return fmt.Errorf("decode save: %w", err)
	}
	skippedCells, err := sim.Restore(snap)
	if err != nil {
		sim.Report("load", false, "Load failed: "+err.Error())
		return fmt.Errorf("restore save: %w", err)
	}

	if skipped := skippedRecords + skippedCells; skipped > 0 {
		slog.Warn("skipped invalid building records", "key", s.Key, "skipped", skipped)
	}
	slog.Info("game loaded", "key", s.Key, "buildings", len(snap.Buildings)-skippedCells)
	sim.Report("load", true, "Loaded")
	return nil
}
