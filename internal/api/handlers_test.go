package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"fieldroute/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Routing: config.RoutingConfig{
			WarehouseLat:     34.7304,
			WarehouseLng:     -86.5861,
			WarehouseAddress: "Warehouse, Huntsville, AL 35801",
			AverageSpeedMph:  30,
			GeocodeJitterDeg: 0,
		},
		Webhook: config.WebhookConfig{Workers: 1, TimeoutSeconds: 5, MaxAttempts: 3},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	h(rr, req)
	return rr
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestEventCreateListStatus(t *testing.T) {
	s := newTestServer(t)

	rr := postJSON(t, s.EventsHandler, "/v1/schedule/events", map[string]any{
		"type": "delivery", "address": "100 Main St", "zip": "35801",
		"date": "2026-03-02", "time": "09:00", "assigneeId": "drv-1",
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: got %d body %s", rr.Code, rr.Body.String())
	}
	var ev struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &ev); err != nil || ev.ID == "" {
		t.Fatalf("create decode: %v body %s", err, rr.Body.String())
	}
	if ev.Status != "scheduled" {
		t.Fatalf("expected scheduled, got %s", ev.Status)
	}

	// List by date
	rr = httptest.NewRecorder()
	s.EventsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/schedule/events?date=2026-03-02", nil))
	if rr.Code != 200 {
		t.Fatalf("list: got %d", rr.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if list.Count != 1 {
		t.Fatalf("expected one event, got %d", list.Count)
	}

	// Status update
	rr = postJSON(t, s.EventByIDHandler, "/v1/schedule/events/"+ev.ID+"/status", map[string]any{
		"status": "in_progress", "actorId": "drv-1",
		"gps": map[string]any{"lat": 34.7, "lng": -86.6},
	}, nil)
	if rr.Code != 200 {
		t.Fatalf("status: got %d body %s", rr.Code, rr.Body.String())
	}
	var updated struct {
		Status      string `json:"status"`
		ActualStart string `json:"actualStart"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &updated)
	if updated.Status != "in_progress" || updated.ActualStart == "" {
		t.Fatalf("bad status payload: %s", rr.Body.String())
	}

	// Fetch by id includes history
	rr = httptest.NewRecorder()
	s.EventByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/schedule/events/"+ev.ID, nil))
	if rr.Code != 200 {
		t.Fatalf("get: got %d", rr.Code)
	}
	var full struct {
		History []json.RawMessage `json:"history"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &full)
	if len(full.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(full.History))
	}
}

func TestEventStatusUnknownID(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.EventByIDHandler, "/v1/schedule/events/ev_nope/status", map[string]any{
		"status": "completed", "actorId": "drv-1",
	}, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestOptimizeAndRoute(t *testing.T) {
	s := newTestServer(t)
	for _, e := range []map[string]any{
		{"address": "A", "zip": "35801", "time": "08:30"},
		{"address": "B", "zip": "35805", "time": "10:00"},
		{"address": "C", "zip": "35824", "time": "13:00"},
	} {
		e["type"] = "delivery"
		e["date"] = "2026-03-02"
		e["assigneeId"] = "drv-1"
		if rr := postJSON(t, s.EventsHandler, "/v1/schedule/events", e, nil); rr.Code != 201 {
			t.Fatalf("seed event: %d", rr.Code)
		}
	}

	rr := postJSON(t, s.OptimizeHandler, "/v1/schedule/routes/optimize", map[string]any{
		"assigneeId": "drv-1", "date": "2026-03-02",
	}, nil)
	if rr.Code != 200 {
		t.Fatalf("optimize: %d body %s", rr.Code, rr.Body.String())
	}
	var rt struct {
		ID          string `json:"id"`
		TotalStops  int    `json:"totalStops"`
		IsOptimized bool   `json:"isOptimized"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &rt)
	if rt.TotalStops != 3 || !rt.IsOptimized {
		t.Fatalf("bad route: %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	s.RoutesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/schedule/routes?assigneeId=drv-1&date=2026-03-02", nil))
	if rr.Code != 200 {
		t.Fatalf("route get: %d", rr.Code)
	}
}

func TestOptimizeNoEvents422(t *testing.T) {
	s := newTestServer(t)
	rr := postJSON(t, s.OptimizeHandler, "/v1/schedule/routes/optimize", map[string]any{
		"assigneeId": "drv-9", "date": "2026-03-02",
	}, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestDriverRBAC(t *testing.T) {
	s := newTestServer(t)

	// Drivers cannot create events.
	rr := postJSON(t, s.EventsHandler, "/v1/schedule/events", map[string]any{
		"address": "A", "date": "2026-03-02", "time": "09:00", "assigneeId": "drv-1",
	}, map[string]string{"X-Role": "driver", "X-Worker-Id": "drv-1"})
	if rr.Code != 403 {
		t.Fatalf("driver create: expected 403, got %d", rr.Code)
	}

	// Drivers cannot read someone else's schedule.
	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/schedule/events?date=2026-03-02&assigneeId=drv-2", nil)
	req.Header.Set("X-Role", "driver")
	req.Header.Set("X-Worker-Id", "drv-1")
	s.EventsHandler(rr, req)
	if rr.Code != 403 {
		t.Fatalf("cross-driver read: expected 403, got %d", rr.Code)
	}

	// But their own is fine.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/schedule/events?date=2026-03-02&assigneeId=drv-1", nil)
	req.Header.Set("X-Role", "driver")
	req.Header.Set("X-Worker-Id", "drv-1")
	s.EventsHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("own read: expected 200, got %d", rr.Code)
	}
}

func TestSubscriptionsValidation(t *testing.T) {
	s := newTestServer(t)

	rr := postJSON(t, s.SubscriptionsHandler, "/v1/subscriptions", map[string]any{
		"url": "not-a-url", "events": []string{"event.created"},
	}, nil)
	if rr.Code != 400 {
		t.Fatalf("bad url: expected 400, got %d", rr.Code)
	}

	rr = postJSON(t, s.SubscriptionsHandler, "/v1/subscriptions", map[string]any{
		"url": "https://example.com/hook", "events": []string{"order.shipped"},
	}, nil)
	if rr.Code != 400 {
		t.Fatalf("unknown event: expected 400, got %d", rr.Code)
	}

	rr = postJSON(t, s.SubscriptionsHandler, "/v1/subscriptions", map[string]any{
		"url": "https://example.com/hook", "events": []string{"route.optimized"}, "secret": "s3cret",
	}, nil)
	if rr.Code != 201 {
		t.Fatalf("create sub: expected 201, got %d body %s", rr.Code, rr.Body.String())
	}

	// Non-admins cannot manage subscriptions.
	rr = postJSON(t, s.SubscriptionsHandler, "/v1/subscriptions", map[string]any{
		"url": "https://example.com/hook", "events": []string{"route.optimized"},
	}, map[string]string{"X-Role": "dispatcher"})
	if rr.Code != 403 {
		t.Fatalf("dispatcher sub: expected 403, got %d", rr.Code)
	}
}

func TestWorkerLocation(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.WorkersHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/schedule/workers/drv-1/location", nil))
	if rr.Code != 404 {
		t.Fatalf("no fix yet: expected 404, got %d", rr.Code)
	}

	s.Locations.Upsert(WorkerLocation{WorkerID: "drv-1", Lat: 34.7, Lng: -86.6, TS: "2026-03-02T09:00:00Z"})
	rr = httptest.NewRecorder()
	s.WorkersHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/schedule/workers/drv-1/location", nil))
	if rr.Code != 200 {
		t.Fatalf("location: expected 200, got %d", rr.Code)
	}
	var loc WorkerLocation
	_ = json.Unmarshal(rr.Body.Bytes(), &loc)
	if loc.WorkerID != "drv-1" || loc.Lat != 34.7 {
		t.Fatalf("bad location: %+v", loc)
	}
}

func TestCalendarHandler(t *testing.T) {
	s := newTestServer(t)
	if rr := postJSON(t, s.EventsHandler, "/v1/schedule/events", map[string]any{
		"address": "A", "zip": "35801", "date": "2026-03-02", "time": "09:00", "assigneeId": "drv-1",
	}, nil); rr.Code != 201 {
		t.Fatalf("seed: %d", rr.Code)
	}

	rr := httptest.NewRecorder()
	s.CalendarHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/schedule/calendar?month=2026-03", nil))
	if rr.Code != 200 {
		t.Fatalf("calendar: %d", rr.Code)
	}
	var cal struct {
		Days map[string][]json.RawMessage `json:"days"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &cal)
	if len(cal.Days["2026-03-02"]) != 1 {
		t.Fatalf("expected one event on 2026-03-02: %s", rr.Body.String())
	}
}
