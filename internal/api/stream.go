package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/city-tycoon/internal/engine"
)

const (
	maxStreamConns = 16
	catchUpEvents  = 50

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// streamMessage is pushed to stream clients for every simulator event.
type streamMessage struct {
	Type   string           `json:"type"` // "event", "hello" or "error"
	Event  *engine.Event    `json:"event,omitempty"`
	State  engine.StateView `json:"state"`
	Error  string           `json:"error,omitempty"`
	Recent []engine.Event   `json:"recent,omitempty"`
}

// streamAction is a player action sent by a stream client.
type streamAction struct {
	Type    string          `json:"type"` // "place", "demolish", "select", "pause"
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := map[string]bool{}
	for _, o := range s.CORSOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin] || isLocalOrigin(origin)
		},
	}
}

func isLocalOrigin(origin string) bool {
	return strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
}

// handleStream upgrades to a WebSocket that pushes every simulator event with
// the state that followed it, and applies actions sent by the client.
func (s *Server) handleStream(actions *RateLimiter) http.HandlerFunc {
	upgrader := s.upgrader()
	return func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&s.streamConns, 1)
		defer atomic.AddInt32(&s.streamConns, -1)
		if current > maxStreamConns {
			http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("stream upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		subID, events := s.Sim.Subscribe()
		defer s.Sim.Unsubscribe(subID)
		client := clientIP(r)
		slog.Info("stream client connected", "sub_id", subID, "client", client)

		replies := make(chan streamMessage, 8)
		done := make(chan struct{})
		go s.readStream(conn, actions, client, replies, done)

		hello := streamMessage{Type: "hello", State: s.Sim.State(), Recent: s.Sim.Events(catchUpEvents)}
		if err := writeStream(conn, hello); err != nil {
			return
		}

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				if err := writeStream(conn, streamMessage{Type: "event", Event: &e, State: s.Sim.State()}); err != nil {
					return
				}
			case m := <-replies:
				if err := writeStream(conn, m); err != nil {
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				slog.Info("stream client disconnected", "sub_id", subID)
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

// readStream applies client actions until the connection fails. Results
// arrive on the event subscription; only malformed actions get a direct reply.
func (s *Server) readStream(conn *websocket.Conn, actions *RateLimiter, client string, replies chan<- streamMessage, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	reply := func(msg string) {
		select {
		case replies <- streamMessage{Type: "error", Error: msg, State: s.Sim.State()}:
		default:
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("stream read error", "error", err)
			}
			return
		}

		var a streamAction
		if err := json.Unmarshal(data, &a); err != nil {
			reply("invalid json")
			continue
		}
		if !actions.Allow(client) {
			reply("rate limit exceeded")
			continue
		}
		if msg := s.applyStreamAction(a); msg != "" {
			reply(msg)
		}
	}
}

// applyStreamAction runs one action and returns an error message for
// requests that could not be understood.
func (s *Server) applyStreamAction(a streamAction) string {
	switch a.Type {
	case "place":
		var p placeRequest
		if err := unmarshalPayload(a.Payload, &p); err != nil {
			return "invalid place payload"
		}
		if p.Building != nil {
			s.Sim.Place(p.X, p.Y, *p.Building)
		} else {
			s.Sim.PlaceSelected(p.X, p.Y)
		}
	case "demolish":
		var p cellRequest
		if err := unmarshalPayload(a.Payload, &p); err != nil {
			return "invalid demolish payload"
		}
		s.Sim.Demolish(p.X, p.Y)
	case "select":
		var p selectRequest
		if err := unmarshalPayload(a.Payload, &p); err != nil {
			return "invalid select payload"
		}
		s.Sim.Select(p.Building)
	case "pause":
		s.Sim.TogglePause()
	default:
		return "unknown action type (use: place, demolish, select, pause)"
	}
	return ""
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func writeStream(conn *websocket.Conn, m streamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(m)
}
