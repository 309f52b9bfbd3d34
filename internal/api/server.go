// Package api serves the city over HTTP.
// GET endpoints are public (read-only observation).
// Player actions are POSTs, rate-limited per client.
// Speed control requires a bearer token.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/talgya/city-tycoon/internal/catalog"
	"github.com/talgya/city-tycoon/internal/engine"
	"github.com/talgya/city-tycoon/internal/persistence"
)

// Server serves the simulation state and accepts player actions.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	Saver    *persistence.Saver // nil disables save/load
	DB       *persistence.DB    // nil serves history from memory only
	Port     int
	AdminKey string // Bearer token for admin POSTs. Empty = admin disabled.

	CORSOrigins      []string // Extra allowed origins besides localhost dev servers
	ActionsPerMinute int      // Per-client action budget; 0 = unlimited

	streamConns int32
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	actions := NewRateLimiter(s.ActionsPerMinute, time.Minute)
	return s.routes(actions)
}

func (s *Server) routes(actions *RateLimiter) http.Handler {
	mux := http.NewServeMux()

	// Public observation.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/grid", s.handleGrid)
	mux.HandleFunc("/api/v1/catalog", s.handleCatalog)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/history.csv", s.handleHistoryCSV)
	mux.HandleFunc("/api/v1/stream", s.handleStream(actions))

	// Player actions.
	action := func(h http.HandlerFunc) http.HandlerFunc {
		return postOnly(RateLimitMiddleware(actions, h))
	}
	mux.HandleFunc("/api/v1/place", action(s.handlePlace))
	mux.HandleFunc("/api/v1/demolish", action(s.handleDemolish))
	mux.HandleFunc("/api/v1/select", action(s.handleSelect))
	mux.HandleFunc("/api/v1/pause", action(s.handlePause))
	mux.HandleFunc("/api/v1/reset", action(s.handleReset))
	mux.HandleFunc("/api/v1/save", action(s.handleSave))
	mux.HandleFunc("/api/v1/load", action(s.handleLoad))

	// Admin.
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))

	return corsMiddleware(s.CORSOrigins, mux)
}

// Start serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) *http.Server {
	actions := NewRateLimiter(s.ActionsPerMinute, time.Minute)
	go actions.Sweep(ctx)

	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(actions),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "actions_per_minute", s.ActionsPerMinute)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Localhost dev servers are always allowed.
func corsMiddleware(extra []string, next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range extra {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowedOrigins[origin] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no CITYSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Sim.State()
	selected := ""
	if b, ok := s.Sim.Catalog().Get(st.Selected); ok {
		selected = b.Name
	}

	status := map[string]any{
		"name":              "City Tycoon",
		"tick":              st.Tick,
		"money":             st.Money,
		"money_display":     engine.FormatMoney(st.Money),
		"population":        st.Population,
		"happiness":         st.Happiness,
		"energy":            st.Energy,
		"buildings":         st.Buildings,
		"running":           st.Running,
		"selected_building": st.Selected,
		"selected_name":     selected,
		"status":            st.Status,
		"width":             st.Width,
		"height":            st.Height,
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["scheduler_running"] = s.Eng.Running()
	}
	writeJSON(w, status)
}

// handleGrid returns every placed building plus a row-major cell matrix of
// building type ids (0 for an empty cell).
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	type buildingEntry struct {
		ID       string     `json:"id"`
		Type     catalog.ID `json:"type"`
		Name     string     `json:"name"`
		X        int        `json:"x"`
		Y        int        `json:"y"`
		PlacedAt time.Time  `json:"placed_at"`
	}

	st := s.Sim.State()
	placed := s.Sim.Buildings()
	cat := s.Sim.Catalog()

	cells := make([][]catalog.ID, st.Height)
	for y := range cells {
		cells[y] = make([]catalog.ID, st.Width)
	}
	buildings := make([]buildingEntry, 0, len(placed))
	for _, b := range placed {
		def, _ := cat.Get(b.Type)
		buildings = append(buildings, buildingEntry{
			ID:       b.ID.String(),
			Type:     b.Type,
			Name:     def.Name,
			X:        b.X,
			Y:        b.Y,
			PlacedAt: b.PlacedAt,
		})
		if b.Y >= 0 && b.Y < st.Height && b.X >= 0 && b.X < st.Width {
			cells[b.Y][b.X] = b.Type
		}
	}

	writeJSON(w, map[string]any{
		"width":     st.Width,
		"height":    st.Height,
		"cells":     cells,
		"buildings": buildings,
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Catalog().All())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)
	events := s.Sim.Events(limit)

	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := make([]engine.Event, 0, len(events))
		for _, e := range events {
			if e.Kind == kind {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	writeJSON(w, events)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.history(r))
}

func (s *Server) handleHistoryCSV(w http.ResponseWriter, r *http.Request) {
	rows := s.history(r)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="history.csv"`)
	if err := gocsv.Marshal(rows, w); err != nil {
		slog.Error("history csv export failed", "error", err)
	}
}

// history prefers the persisted tick log and falls back to the in-memory
// ring when no database is configured or the query fails.
func (s *Server) history(r *http.Request) []engine.TickReport {
	limit := queryLimit(r, 100, 1000)
	if s.DB != nil && r.URL.Query().Get("source") != "memory" {
		rows, err := s.DB.History(r.Context(), limit)
		if err == nil {
			if rows == nil {
				rows = []engine.TickReport{}
			}
			return rows
		}
		slog.Error("history query failed", "error", err)
	}
	return s.Sim.History(limit)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 100 {
			http.Error(w, "speed must be 0-100", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// queryLimit parses ?limit=, falling back to def when absent or outside 1..max.
func queryLimit(r *http.Request, def, max int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
