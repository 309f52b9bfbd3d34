package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// State mirrors the state view embedded in action responses.
type State struct {
	Tick       uint64  `json:"tick"`
	Money      int     `json:"money"`
	Population int     `json:"population"`
	Happiness  float64 `json:"happiness"`
	Energy     int     `json:"energy"`
	Running    bool    `json:"running"`
	Selected   int     `json:"selected_building"`
	Buildings  int     `json:"buildings"`
	Status     string  `json:"status"`
}

// Result is the response to every player action. OK is false for rejected
// actions such as an occupied cell.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	State   State  `json:"state"`
}

// Actor submits player actions.
type Actor struct {
	BaseURL    string
	AdminKey   string // Only needed for SetSpeed
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Place builds at (x, y). A building of 0 places the selected type.
func (a *Actor) Place(x, y, building int) (*Result, error) {
	body := map[string]int{"x": x, "y": y}
	if building != 0 {
		body["building"] = building
	}
	return a.act("place", body)
}

// Demolish removes the building at (x, y).
func (a *Actor) Demolish(x, y int) (*Result, error) {
	return a.act("demolish", map[string]int{"x": x, "y": y})
}

// Select changes the building type used by Place with building 0.
func (a *Actor) Select(building int) (*Result, error) {
	return a.act("select", map[string]int{"building": building})
}

// TogglePause pauses a running city or resumes a paused one.
func (a *Actor) TogglePause() (*Result, error) { return a.act("pause", nil) }

// Reset restores the starting city.
func (a *Actor) Reset() (*Result, error) { return a.act("reset", nil) }

// Save stores the city on the server.
func (a *Actor) Save() (*Result, error) { return a.act("save", nil) }

// Load replaces the city with the stored save.
func (a *Actor) Load() (*Result, error) { return a.act("load", nil) }

// SetSpeed changes the scheduler speed multiplier. Requires the admin key.
func (a *Actor) SetSpeed(speed float64) (float64, error) {
	var out struct {
		Speed float64 `json:"speed"`
	}
	if err := a.post("/api/v1/speed", map[string]float64{"speed": speed}, &out); err != nil {
		return 0, err
	}
	return out.Speed, nil
}

func (a *Actor) act(name string, body any) (*Result, error) {
	var result Result
	if err := a.post("/api/v1/"+name, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *Actor) post(path string, body, target any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, a.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.AdminKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.AdminKey)
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s failed (%d): %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
