package run

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func newTestApp(svc *Service) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app.Group("/api/run"), svc)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestRunHandlersFlow(t *testing.T) {
	advance := stubClock(t, time.Date(2026, 10, 16, 6, 0, 0, 0, time.UTC))
	app := newTestApp(NewService(NewMemoryStore(), 0))

	resp, body := doJSON(t, app, http.MethodPost, "/api/run/start", map[string]string{"userId": "u1"})
	if resp.StatusCode != http.StatusOK || body["message"] != "Run session started successfully" {
		t.Fatalf("start: %d %v", resp.StatusCode, body)
	}
	sessionID, _ := body["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("expected session id")
	}

	resp, body = doJSON(t, app, http.MethodPost, "/api/run/position", map[string]any{
		"sessionId": sessionID, "latitude": 21.0285, "longitude": 105.8542, "accuracy": 4.0,
	})
	if resp.StatusCode != http.StatusOK || body["distance"] != "0.00" || body["pace"] != "0:00" {
		t.Fatalf("first position: %d %v", resp.StatusCode, body)
	}
	current, _ := body["currentPosition"].(map[string]any)
	if current["accuracy"] != 4.0 {
		t.Fatalf("expected accuracy in current position: %v", current)
	}

	advance(30 * time.Second)
	resp, body = doJSON(t, app, http.MethodPost, "/api/run/position", map[string]any{
		"sessionId": sessionID, "latitude": 21.0295, "longitude": 105.8552,
	})
	if resp.StatusCode != http.StatusOK || body["duration"] != "0:30" {
		t.Fatalf("second position: %d %v", resp.StatusCode, body)
	}
	distance := body["distance"]

	resp, body = doJSON(t, app, http.MethodPost, "/api/run/end", map[string]string{"sessionId": sessionID})
	if resp.StatusCode != http.StatusOK || body["message"] != "Run session completed successfully" {
		t.Fatalf("end: %d %v", resp.StatusCode, body)
	}
	summary, _ := body["session"].(map[string]any)
	if summary["id"] != sessionID || summary["distance"] != distance || summary["endTime"] != "2026-10-16T06:00:30.000Z" {
		t.Fatalf("unexpected summary: %v", summary)
	}

	resp, body = doJSON(t, app, http.MethodGet, "/api/run/history/u1", nil)
	sessions, _ := body["sessions"].([]any)
	if resp.StatusCode != http.StatusOK || len(sessions) != 1 {
		t.Fatalf("history: %d %v", resp.StatusCode, body)
	}
	first, _ := sessions[0].(map[string]any)
	if first["date"] != "2026-10-16T06:00:30.000Z" {
		t.Fatalf("expected date on history entry: %v", first)
	}

	resp, body = doJSON(t, app, http.MethodGet, "/api/run/"+sessionID+"/positions", nil)
	positions, _ := body["positions"].([]any)
	if resp.StatusCode != http.StatusOK || len(positions) != 2 {
		t.Fatalf("positions: %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, app, http.MethodGet, "/api/run/"+sessionID+"/gpx", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/gpx+xml" {
		t.Fatalf("gpx: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "run-"+sessionID+".gpx") {
		t.Fatalf("expected attachment filename, got %q", resp.Header.Get("Content-Disposition"))
	}

	resp, _ = doJSON(t, app, http.MethodGet, "/api/run/"+sessionID+"/fit", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/vnd.ant.fit" {
		t.Fatalf("fit: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestRunHandlersErrors(t *testing.T) {
	app := newTestApp(NewService(NewMemoryStore(), 0))

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"start without user", http.MethodPost, "/api/run/start", map[string]string{}, http.StatusBadRequest},
		{"position without coordinates", http.MethodPost, "/api/run/position", map[string]string{"sessionId": "s1"}, http.StatusBadRequest},
		{"position unknown session", http.MethodPost, "/api/run/position", map[string]any{"sessionId": "s1", "latitude": 1.0, "longitude": 2.0}, http.StatusNotFound},
		{"end without session", http.MethodPost, "/api/run/end", map[string]string{}, http.StatusBadRequest},
		{"end unknown session", http.MethodPost, "/api/run/end", map[string]string{"sessionId": "s1"}, http.StatusNotFound},
		{"positions unknown session", http.MethodGet, "/api/run/s1/positions", nil, http.StatusNotFound},
		{"gpx unknown session", http.MethodGet, "/api/run/s1/gpx", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, _ := doJSON(t, app, tc.method, tc.path, tc.body)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, resp.StatusCode)
		}
	}
}

func TestRunHandlersBadJSON(t *testing.T) {
	app := newTestApp(NewService(NewMemoryStore(), 0))

	req := httptest.NewRequest(http.MethodPost, "/api/run/start", strings.NewReader(`{"userId":`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHistoryLimitQuery(t *testing.T) {
	svc := NewService(NewMemoryStore(), 0)
	app := newTestApp(svc)
	for i := 0; i < 5; i++ {
		resp, body := doJSON(t, app, http.MethodPost, "/api/run/start", map[string]string{"userId": "u1"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("start: %d", resp.StatusCode)
		}
		doJSON(t, app, http.MethodPost, "/api/run/end", map[string]any{"sessionId": body["sessionId"]})
	}

	_, body := doJSON(t, app, http.MethodGet, "/api/run/history/u1?limit=2", nil)
	sessions, _ := body["sessions"].([]any)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestActiveSessionExportIsBadRequest(t *testing.T) {
	svc := NewService(NewMemoryStore(), 0)
	app := newTestApp(svc)

	_, body := doJSON(t, app, http.MethodPost, "/api/run/start", map[string]string{"userId": "u1"})
	resp, _ := doJSON(t, app, http.MethodGet, "/api/run/"+body["sessionId"].(string)+"/fit", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
