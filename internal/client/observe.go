// Package client talks to the citysim HTTP API. The Observer reads city
// state and the Actor submits player actions.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Status mirrors GET /api/v1/status.
type Status struct {
	Name             string  `json:"name"`
	Tick             uint64  `json:"tick"`
	Money            int     `json:"money"`
	MoneyDisplay     string  `json:"money_display"`
	Population       int     `json:"population"`
	Happiness        float64 `json:"happiness"`
	Energy           int     `json:"energy"`
	Buildings        int     `json:"buildings"`
	Running          bool    `json:"running"`
	SelectedBuilding int     `json:"selected_building"`
	SelectedName     string  `json:"selected_name"`
	Status           string  `json:"status"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	Speed            float64 `json:"speed"`
}

// BuildingType mirrors items from GET /api/v1/catalog.
type BuildingType struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Cost      int     `json:"cost"`
	Upkeep    int     `json:"upkeep"`
	Income    int     `json:"income"`
	Pop       int     `json:"pop"`
	Energy    int     `json:"energy"`
	Happiness float64 `json:"happiness"`
}

// Grid mirrors GET /api/v1/grid.
type Grid struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Cells     [][]int `json:"cells"`
	Buildings []struct {
		ID   string `json:"id"`
		Type int    `json:"type"`
		Name string `json:"name"`
		X    int    `json:"x"`
		Y    int    `json:"y"`
	} `json:"buildings"`
}

// Render draws the grid as text, one character per cell: the first letter
// of the building name, or '.' when empty.
func (g *Grid) Render(cat []BuildingType) string {
	initials := make(map[int]byte, len(cat))
	for _, b := range cat {
		if b.Name != "" {
			initials[b.ID] = b.Name[0]
		}
	}
	var sb strings.Builder
	for _, row := range g.Cells {
		for _, id := range row {
			c, ok := initials[id]
			if id == 0 || !ok {
				c = '.'
			}
			sb.WriteByte(c)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Observer fetches city state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Status fetches the current state summary.
func (o *Observer) Status() (*Status, error) {
	var st Status
	if err := o.fetchJSON("/api/v1/status", &st); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	return &st, nil
}

// Catalog fetches the building definitions.
func (o *Observer) Catalog() ([]BuildingType, error) {
	var cat []BuildingType
	if err := o.fetchJSON("/api/v1/catalog", &cat); err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	return cat, nil
}

// Grid fetches the placed buildings.
func (o *Observer) Grid() (*Grid, error) {
	var g Grid
	if err := o.fetchJSON("/api/v1/grid", &g); err != nil {
		return nil, fmt.Errorf("fetch grid: %w", err)
	}
	return &g, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(path string, target any) error {
	resp, err := o.HTTPClient.Get(o.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
