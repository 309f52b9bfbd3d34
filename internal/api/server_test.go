package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/city-tycoon/internal/catalog"
	"github.com/talgya/city-tycoon/internal/engine"
	"github.com/talgya/city-tycoon/internal/persistence"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := persistence.NewFileStore(filepath.Join(t.TempDir(), "saves"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return &Server{
		Sim:   engine.NewSimulation(catalog.Default(), engine.DefaultOptions()),
		Eng:   engine.NewEngine(),
		Saver: &persistence.Saver{Store: store, Key: "city_tycoon_save"},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAction(t *testing.T, rec *httptest.ResponseRecorder) actionResponse {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp actionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["money"] != float64(500) || got["money_display"] != "$500" || got["selected_name"] != "House" {
		t.Errorf("unexpected status %+v", got)
	}
	if got["speed"] != float64(1) {
		t.Errorf("expected speed 1, got %v", got["speed"])
	}
}

func TestPlaceAndDemolish(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	resp := decodeAction(t, do(t, h, http.MethodPost, "/api/v1/place", `{"x":0,"y":0}`))
	if !resp.OK || resp.Message != "Placed House" || resp.State.Money != 400 || resp.State.Population != 2 {
		t.Errorf("unexpected place response %+v", resp)
	}

	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/place", `{"x":0,"y":0,"building":4}`))
	if resp.OK || resp.Message != "Cell occupied" || resp.State.Money != 400 {
		t.Errorf("occupied cell should be rejected: %+v", resp)
	}

	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/place", `{"x":1,"y":0,"building":2}`))
	if !resp.OK || resp.State.Money != 200 {
		t.Errorf("shop should be placed: %+v", resp)
	}

	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/place", `{"x":2,"y":0,"building":4}`))
	if resp.OK || resp.Message != "Not enough money for PowerPlant ($400)" || resp.State.Money != 200 {
		t.Errorf("unaffordable building should be rejected: %+v", resp)
	}

	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/demolish", `{"x":0,"y":0}`))
	if !resp.OK || resp.Message != "Demolished House (+$50)" || resp.State.Money != 250 || resp.State.Buildings != 1 {
		t.Errorf("unexpected demolish response %+v", resp)
	}

	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/demolish", `{"x":0,"y":0}`))
	if resp.OK || resp.Message != "Empty" {
		t.Errorf("demolishing an empty cell should fail: %+v", resp)
	}
}

func TestActionValidation(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/api/v1/place", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET place: expected 405, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/place", `{"x":`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: expected 400, got %d", rec.Code)
	}

	resp := decodeAction(t, do(t, h, http.MethodPost, "/api/v1/place", `{"x":-1,"y":0}`))
	if resp.OK || resp.Message != "Out of bounds" {
		t.Errorf("out of bounds: %+v", resp)
	}

	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/select", `{"building":99}`))
	if resp.OK || resp.State.Selected != 1 {
		t.Errorf("unknown building should not be selected: %+v", resp)
	}
	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/select", `{"building":3}`))
	if !resp.OK || resp.Message != "Selected Farm" || resp.State.Selected != 3 {
		t.Errorf("select farm: %+v", resp)
	}
	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/place", `{"x":2,"y":2}`))
	if !resp.OK || resp.Message != "Placed Farm" {
		t.Errorf("placing the selected building: %+v", resp)
	}
}

func TestPauseAndReset(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	resp := decodeAction(t, do(t, h, http.MethodPost, "/api/v1/pause", ""))
	if resp.State.Running || resp.Message != "Paused" {
		t.Errorf("toggle should pause: %+v", resp)
	}
	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/pause", `{"running":false}`))
	if resp.State.Running {
		t.Error("explicit running=false should stay paused")
	}
	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/pause", `{"running":true}`))
	if !resp.State.Running || resp.Message != "Resumed" {
		t.Errorf("explicit running=true should resume: %+v", resp)
	}

	do(t, h, http.MethodPost, "/api/v1/place", `{"x":0,"y":0}`)
	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/reset", ""))
	if resp.State.Money != 500 || resp.State.Buildings != 0 || resp.Message != "City reset" {
		t.Errorf("reset: %+v", resp)
	}
}

func TestSaveLoad(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	resp := decodeAction(t, do(t, h, http.MethodPost, "/api/v1/load", ""))
	if resp.OK || resp.Message != "Save not found" {
		t.Errorf("load before save: %+v", resp)
	}

	do(t, h, http.MethodPost, "/api/v1/place", `{"x":4,"y":4,"building":2}`)
	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/save", ""))
	if !resp.OK || resp.Message != "Saved" {
		t.Errorf("save: %+v", resp)
	}

	do(t, h, http.MethodPost, "/api/v1/reset", "")
	resp = decodeAction(t, do(t, h, http.MethodPost, "/api/v1/load", ""))
	if !resp.OK || resp.Message != "Loaded" || resp.State.Buildings != 1 || resp.State.Money != 300 {
		t.Errorf("load: %+v", resp)
	}

	s.Saver = nil
	if rec := do(t, s.Handler(), http.MethodPost, "/api/v1/save", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("save without storage: expected 503, got %d", rec.Code)
	}
}

func TestSpeedRequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	if rec := do(t, s.Handler(), http.MethodPost, "/api/v1/speed", `{"speed":2}`); rec.Code != http.StatusForbidden {
		t.Errorf("no admin key: expected 403, got %d", rec.Code)
	}

	s.AdminKey = "secret"
	h := s.Handler()
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":2}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/speed", strings.NewReader(`{"speed":4}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized speed change: %d %s", rec.Code, rec.Body.String())
	}
	if s.Eng.Speed() != 4 {
		t.Errorf("expected speed 4, got %v", s.Eng.Speed())
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/speed", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"speed": 4`) {
		t.Errorf("GET speed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestActionsAreRateLimited(t *testing.T) {
	s := newTestServer(t)
	s.ActionsPerMinute = 2
	h := s.Handler()

	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodPost, "/api/v1/pause", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	rec := do(t, h, http.MethodPost, "/api/v1/pause", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	// Reads are never limited.
	if rec := do(t, h, http.MethodGet, "/api/v1/status", ""); rec.Code != http.StatusOK {
		t.Errorf("status read: %d", rec.Code)
	}
}

func TestGridCatalogEvents(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	do(t, h, http.MethodPost, "/api/v1/place", `{"x":3,"y":1,"building":3}`)

	var grid struct {
		Width     int            `json:"width"`
		Height    int            `json:"height"`
		Cells     [][]catalog.ID `json:"cells"`
		Buildings []struct {
			Name string `json:"name"`
			X    int    `json:"x"`
			Y    int    `json:"y"`
		} `json:"buildings"`
	}
	if err := json.NewDecoder(do(t, h, http.MethodGet, "/api/v1/grid", "").Body).Decode(&grid); err != nil {
		t.Fatal(err)
	}
	if grid.Width != 10 || grid.Height != 7 || len(grid.Cells) != 7 || grid.Cells[1][3] != 3 {
		t.Errorf("unexpected grid %+v", grid)
	}
	if len(grid.Buildings) != 1 || grid.Buildings[0].Name != "Farm" {
		t.Errorf("unexpected buildings %+v", grid.Buildings)
	}

	var defs []catalog.BuildingType
	if err := json.NewDecoder(do(t, h, http.MethodGet, "/api/v1/catalog", "").Body).Decode(&defs); err != nil {
		t.Fatal(err)
	}
	if len(defs) != 4 || defs[3].Name != "PowerPlant" {
		t.Errorf("unexpected catalog %+v", defs)
	}

	var events []engine.Event
	if err := json.NewDecoder(do(t, h, http.MethodGet, "/api/v1/events?kind=place", "").Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Message != "Placed Farm" {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestHistoryFromMemoryAndCSV(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	s.Sim.Place(0, 0, 1)
	s.Sim.Tick()
	s.Sim.Tick()

	var rows []engine.TickReport
	if err := json.NewDecoder(do(t, h, http.MethodGet, "/api/v1/history", "").Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Tick != 1 || rows[0].Gained != 1 {
		t.Errorf("unexpected history %+v", rows)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/history.csv?limit=1", "")
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", rec.Body.String())
	}
	if !strings.HasPrefix(lines[0], "tick,income_base,upkeep,gained,money") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2,") {
		t.Errorf("limit should keep the newest row, got %q", lines[1])
	}
}

func TestHistoryFromDatabase(t *testing.T) {
	s := newTestServer(t)
	db, err := persistence.Open(filepath.Join(t.TempDir(), "city.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s.DB = db

	s.Sim.Tick()
	s.Sim.Tick()
	s.Sim.Tick()
	w := &persistence.HistoryWriter{DB: db}
	run, reports := s.Sim.RunHistory(0)
	if _, err := w.Flush(t.Context(), run, reports); err != nil {
		t.Fatal(err)
	}

	var rows []engine.TickReport
	if err := json.NewDecoder(do(t, s.Handler(), http.MethodGet, "/api/v1/history?limit=2", "").Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Tick != 2 || rows[1].Tick != 3 {
		t.Errorf("unexpected persisted history %+v", rows)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	s.CORSOrigins = []string{"https://city.example.com"}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/place", nil)
	req.Header.Set("Origin", "https://city.example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://city.example.com" {
		t.Error("configured origin should be allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unknown origin should not be allowed")
	}
}

func TestStreamPushesEventsAndAcceptsActions(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello streamMessage
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != "hello" || hello.State.Money != 500 {
		t.Errorf("unexpected hello %+v", hello)
	}

	if err := conn.WriteJSON(map[string]any{"type": "place", "payload": map[string]int{"x": 1, "y": 1}}); err != nil {
		t.Fatal(err)
	}
	var msg streamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Type != "event" || msg.Event == nil || msg.Event.Message != "Placed House" || msg.State.Money != 400 {
		t.Errorf("unexpected event %+v", msg)
	}

	if err := conn.WriteJSON(map[string]any{"type": "teleport"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	if msg.Type != "error" || !strings.Contains(msg.Error, "unknown action") {
		t.Errorf("unexpected reply %+v", msg)
	}

	// Changes made elsewhere are pushed too.
	s.Sim.Tick()
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read tick: %v", err)
	}
	if msg.Event == nil || msg.Event.Kind != "tick" {
		t.Errorf("expected tick event, got %+v", msg)
	}
}
