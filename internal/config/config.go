// Package config loads server configuration from embedded YAML defaults,
// an optional override file, and environment variables.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/city-tycoon/internal/catalog"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all server configuration.
type Config struct {
	Grid      GridConfig             `yaml:"grid"`
	Start     StartConfig            `yaml:"start"`
	Tick      TickConfig             `yaml:"tick"`
	Storage   StorageConfig          `yaml:"storage"`
	API       APIConfig              `yaml:"api"`
	Log       LogConfig              `yaml:"log"`
	Buildings []catalog.BuildingType `yaml:"buildings"`
}

// GridConfig sets the fixed city grid dimensions.
type GridConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// StartConfig holds the values a new or reset city starts with.
type StartConfig struct {
	Money            int        `yaml:"money"`
	Happiness        float64    `yaml:"happiness"`
	SelectedBuilding catalog.ID `yaml:"selected_building"`
}

// TickConfig controls the scheduler.
type TickConfig struct {
	IntervalMS    int `yaml:"interval_ms"`
	AutosaveEvery int `yaml:"autosave_every"` // Ticks between autosaves; 0 disables
	HistorySize   int `yaml:"history_size"`   // Tick reports kept in memory
}

// Interval returns the tick interval as a duration.
func (t TickConfig) Interval() time.Duration {
	return time.Duration(t.IntervalMS) * time.Millisecond
}

// StorageConfig selects where saves are written.
type StorageConfig struct {
	Driver  string `yaml:"driver"`   // "sqlite" or "file"
	Path    string `yaml:"path"`     // SQLite database path
	SaveDir string `yaml:"save_dir"` // Directory for the file driver
	SaveKey string `yaml:"save_key"` // Fixed identifier of the save slot
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port             int      `yaml:"port"`
	ActionsPerMinute int      `yaml:"actions_per_minute"`
	AdminKey         string   `yaml:"-"`
	CORSOrigins      []string `yaml:"cors_origins"`
}

// LogConfig sets the slog level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level name onto a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads the embedded defaults, overlays the YAML file at path (if
// non-empty), applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only fields present in the file are overwritten.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv loads the file named by CITYSIM_CONFIG, if set.
func FromEnv() (*Config, error) {
	return Load(os.Getenv("CITYSIM_CONFIG"))
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CITYSIM_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CITYSIM_PORT: %w", err)
		}
		c.API.Port = port
	}
	if v := os.Getenv("CITYSIM_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("CITYSIM_STORAGE"); v != "" {
		c.Storage.Driver = v
	}
	c.API.AdminKey = os.Getenv("CITYSIM_ADMIN_KEY")
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				c.API.CORSOrigins = append(c.API.CORSOrigins, origin)
			}
		}
	}
	return nil
}

// Validate checks the configuration for values the simulator cannot run with.
func (c *Config) Validate() error {
	if c.Grid.Width <= 0 || c.Grid.Height <= 0 {
		return fmt.Errorf("grid must be positive, got %dx%d", c.Grid.Width, c.Grid.Height)
	}
	if c.Start.Happiness < 0 || c.Start.Happiness > 1 {
		return fmt.Errorf("start.happiness must be within [0,1], got %v", c.Start.Happiness)
	}
	if c.Tick.IntervalMS <= 0 {
		return fmt.Errorf("tick.interval_ms must be positive, got %d", c.Tick.IntervalMS)
	}
	if c.Tick.AutosaveEvery < 0 {
		return fmt.Errorf("tick.autosave_every must not be negative, got %d", c.Tick.AutosaveEvery)
	}
	switch c.Storage.Driver {
	case "sqlite", "file":
	default:
		return fmt.Errorf("storage.driver must be sqlite or file, got %q", c.Storage.Driver)
	}
	if c.Storage.SaveKey == "" {
		return fmt.Errorf("storage.save_key is empty")
	}

	cat, err := catalog.New(c.Buildings)
	if err != nil {
		return fmt.Errorf("buildings: %w", err)
	}
	if !cat.Has(c.Start.SelectedBuilding) {
		return fmt.Errorf("start.selected_building %d is not in the catalog", c.Start.SelectedBuilding)
	}
	return nil
}

// Catalog builds the immutable building catalog from the configured list.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	return catalog.New(c.Buildings)
}
