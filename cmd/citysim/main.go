// Command citysim runs the City Tycoon economy simulation as a headless
// server with an HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/talgya/city-tycoon/internal/api"
	"github.com/talgya/city-tycoon/internal/config"
	"github.com/talgya/city-tycoon/internal/engine"
	"github.com/talgya/city-tycoon/internal/persistence"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("City Tycoon economy simulation",
		"grid", fmt.Sprintf("%dx%d", cfg.Grid.Width, cfg.Grid.Height),
		"interval", cfg.Tick.Interval(),
		"storage", cfg.Storage.Driver,
	)

	cat, err := cfg.Catalog()
	if err != nil {
		slog.Error("invalid building catalog", "error", err)
		os.Exit(1)
	}

	// ── Storage ───────────────────────────────────────────────────────
	var (
		store   persistence.Store
		db      *persistence.DB
		history *persistence.HistoryWriter
	)
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err = persistence.Open(cfg.Storage.Path)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = db
		history = &persistence.HistoryWriter{DB: db}
		slog.Info("database opened", "path", cfg.Storage.Path)
	case "file":
		fs, err := persistence.NewFileStore(cfg.Storage.SaveDir)
		if err != nil {
			slog.Error("failed to open save directory", "error", err)
			os.Exit(1)
		}
		store = fs
		slog.Info("file storage ready", "dir", cfg.Storage.SaveDir)
	}
	saver := &persistence.Saver{Store: store, Key: cfg.Storage.SaveKey}

	// ── Simulation ────────────────────────────────────────────────────
	sim := engine.NewSimulation(cat, engine.Options{
		Width:           cfg.Grid.Width,
		Height:          cfg.Grid.Height,
		StartMoney:      cfg.Start.Money,
		StartHappiness:  cfg.Start.Happiness,
		DefaultBuilding: cfg.Start.SelectedBuilding,
		HistorySize:     cfg.Tick.HistorySize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := saver.Load(ctx, sim); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			slog.Info("no saved city found, starting fresh")
		} else {
			slog.Warn("saved city could not be loaded, starting fresh", "error", err)
		}
	} else {
		st := sim.State()
		slog.Info("city restored", "buildings", st.Buildings, "money", st.Money, "population", st.Population)
	}

	eng := engine.NewEngine()
	eng.Interval = cfg.Tick.Interval()
	eng.AutosaveEvery = uint64(cfg.Tick.AutosaveEvery)
	if db != nil {
		if v, err := db.GetMeta("last_tick"); err == nil {
			if t, err := strconv.ParseUint(v, 10, 64); err == nil {
				eng.Tick = t
			}
		}
	}

	eng.ShouldTick = sim.Running
	eng.OnTick = func(uint64) { sim.Tick() }
	eng.OnAutosave = func(tick uint64) {
		checkpoint(ctx, sim, saver, history, db, tick)
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.API.AdminKey == "" {
		slog.Warn("CITYSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	apiServer := &api.Server{
		Sim:              sim,
		Eng:              eng,
		Saver:            saver,
		DB:               db,
		Port:             cfg.API.Port,
		AdminKey:         cfg.API.AdminKey,
		CORSOrigins:      cfg.API.CORSOrigins,
		ActionsPerMinute: cfg.API.ActionsPerMinute,
	}
	apiServer.Start(ctx)

	fmt.Printf("\nCity Tycoon is running on a %dx%d grid.\n", cfg.Grid.Width, cfg.Grid.Height)
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	eng.Run(ctx)

	// Final save on shutdown; ctx is already cancelled.
	slog.Info("final save...")
	checkpoint(context.Background(), sim, saver, history, db, eng.Tick)

	fmt.Println("Simulation stopped. City saved.")
}

// checkpoint writes the city, the unflushed tick history and the scheduler
// tick. Failures are logged and never stop the simulation.
func checkpoint(ctx context.Context, sim *engine.Simulation, saver *persistence.Saver, history *persistence.HistoryWriter, db *persistence.DB, tick uint64) {
	if err := saver.Checkpoint(ctx, sim); err != nil {
		slog.Error("autosave failed", "error", err)
	}
	if history != nil {
		run, reports := sim.RunHistory(0)
		if _, err := history.Flush(ctx, run, reports); err != nil {
			slog.Error("history flush failed", "error", err)
		}
	}
	if db != nil {
		if err := db.SaveMeta("last_tick", strconv.FormatUint(tick, 10)); err != nil {
			slog.Error("saving scheduler tick failed", "error", err)
		}
	}
}
