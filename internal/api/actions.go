package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/talgya/city-tycoon/internal/catalog"
	"github.com/talgya/city-tycoon/internal/engine"
	"github.com/talgya/city-tycoon/internal/persistence"
)

// actionResponse is returned by every player action. Rejected actions
// (occupied cell, not enough money, ...) are 200 with OK false.
type actionResponse struct {
	OK      bool             `json:"ok"`
	Message string           `json:"message"`
	State   engine.StateView `json:"state"`
}

type placeRequest struct {
	X        int         `json:"x"`
	Y        int         `json:"y"`
	Building *catalog.ID `json:"building,omitempty"` // nil = selected building
}

type cellRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type selectRequest struct {
	Building catalog.ID `json:"building"`
}

type pauseRequest struct {
	Running *bool `json:"running"` // nil = toggle
}

func (s *Server) respond(w http.ResponseWriter, ok bool) {
	st := s.Sim.State()
	writeJSON(w, actionResponse{OK: ok, Message: st.Status, State: st})
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	var ok bool
	if req.Building != nil {
		ok = s.Sim.Place(req.X, req.Y, *req.Building)
	} else {
		ok = s.Sim.PlaceSelected(req.X, req.Y)
	}
	s.respond(w, ok)
}

func (s *Server) handleDemolish(w http.ResponseWriter, r *http.Request) {
	var req cellRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.respond(w, s.Sim.Demolish(req.X, req.Y))
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.respond(w, s.Sim.Select(req.Building))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Running != nil {
		s.Sim.SetRunning(*req.Running)
	} else {
		s.Sim.TogglePause()
	}
	s.respond(w, true)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.Sim.Reset()
	slog.Info("city reset via API", "client", clientIP(r))
	s.respond(w, true)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.Saver == nil {
		http.Error(w, "storage not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.Saver.Save(r.Context(), s.Sim); err != nil {
		slog.Error("save failed", "error", err)
		s.respond(w, false)
		return
	}
	s.respond(w, true)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if s.Saver == nil {
		http.Error(w, "storage not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.Saver.Load(r.Context(), s.Sim); err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			slog.Warn("load failed", "error", err)
		}
		s.respond(w, false)
		return
	}
	s.respond(w, true)
}
