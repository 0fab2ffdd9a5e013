package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loxbridge/loxbridge/internal/history"
	"github.com/loxbridge/loxbridge/internal/infrastructure/config"
	"github.com/loxbridge/loxbridge/internal/infrastructure/logging"
	"github.com/loxbridge/loxbridge/internal/loxone"
)

// fakeMiniserver implements ControlService for handler tests.
type fakeMiniserver struct {
	controls map[string]*loxone.Control
	states   map[string]any

	commandErr   error
	refreshErr   error
	commands     []string
	refreshCalls int
}

func (f *fakeMiniserver) Controls() map[string]*loxone.Control {
	out := make(map[string]*loxone.Control, len(f.controls))
	for k, v := range f.controls {
		out[k] = v
	}
	return out
}

func (f *fakeMiniserver) GetControl(uuid string) *loxone.Control {
	return f.controls[uuid]
}

func (f *fakeMiniserver) GetState(uuid string) any {
	return f.states[uuid]
}

func (f *fakeMiniserver) UpdateState(_ context.Context, uuid string) any {
	f.states[uuid] = 99.0
	return f.states[uuid]
}

func (f *fakeMiniserver) SendCommand(_ context.Context, uuid, command string, value any) error {
	if f.commandErr != nil {
		return f.commandErr
	}
	f.commands = append(f.commands, fmt.Sprintf("%s|%s|%v", uuid, command, value))
	return nil
}

func (f *fakeMiniserver) RefreshStructure(_ context.Context) error {
	f.refreshCalls++
	return f.refreshErr
}

// fakeHistory implements HistoryReader for handler tests.
type fakeHistory struct {
	entries map[string][]history.Entry
}

func (f *fakeHistory) Recent(_ context.Context, controlUUID string, _ int) ([]history.Entry, error) {
	return f.entries[controlUUID], nil
}

func newTestServer(t *testing.T, ms *fakeMiniserver, hist HistoryReader) http.Handler {
	t.Helper()

	srv, err := New(Deps{
		Config:     config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:     logging.Default(),
		Miniserver: ms,
		History:    hist,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv.buildRouter()
}

func newTestMiniserver() *fakeMiniserver {
	return &fakeMiniserver{
		controls: map[string]*loxone.Control{
			"uuid-1": {UUID: "uuid-1", Name: "Light", Type: "Switch", Room: "Office"},
			"parent/child": {
				UUID: "parent/child", Name: "Blinds Slats", Type: "Slider", Room: "Kitchen",
			},
		},
		states: map[string]any{"uuid-1": 1.0},
	}
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	handler := newTestServer(t, newTestMiniserver(), nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("unexpected health payload: %v", body)
	}
}

func TestHandleListControls(t *testing.T) {
	handler := newTestServer(t, newTestMiniserver(), nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/controls", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["count"] != 2.0 {
		t.Errorf("count = %v, want 2", body["count"])
	}
}

func TestHandleListControlsRoomFilter(t *testing.T) {
	handler := newTestServer(t, newTestMiniserver(), nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/controls?room=kitchen", "")
	body := decodeBody(t, rec)
	if body["count"] != 1.0 {
		t.Errorf("filtered count = %v, want 1", body["count"])
	}
}

func TestHandleGetControlCompositeUUID(t *testing.T) {
	handler := newTestServer(t, newTestMiniserver(), nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/controls/parent/child", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["uuid"] != "parent/child" {
		t.Errorf("uuid = %v, want composite", body["uuid"])
	}
}

func TestHandleGetControlNotFound(t *testing.T) {
	handler := newTestServer(t, newTestMiniserver(), nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/controls/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleGetState(t *testing.T) {
	ms := newTestMiniserver()
	handler := newTestServer(t, ms, nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/states/uuid-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["value"] != 1.0 {
		t.Errorf("cached value = %v, want 1", body["value"])
	}

	// refresh=true goes through UpdateState.
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/states/uuid-1?refresh=true", "")
	if body := decodeBody(t, rec); body["value"] != 99.0 {
		t.Errorf("refreshed value = %v, want 99", body["value"])
	}
}

func TestHandleSendCommand(t *testing.T) {
	ms := newTestMiniserver()
	handler := newTestServer(t, ms, nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/commands",
		`{"uuid": "parent/child", "command": "setValue", "value": 50}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	if len(ms.commands) != 1 || ms.commands[0] != "parent/child|setValue|50" {
		t.Errorf("dispatched commands = %v", ms.commands)
	}
}

func TestHandleSendCommandValidation(t *testing.T) {
	handler := newTestServer(t, newTestMiniserver(), nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/commands", `{"command": "on"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing uuid status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/commands", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want 400", rec.Code)
	}
}

func TestHandleSendCommandUpstreamFailure(t *testing.T) {
	ms := newTestMiniserver()
	ms.commandErr = loxone.ErrTransport
	handler := newTestServer(t, ms, nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/commands",
		`{"uuid": "uuid-1", "command": "on"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestHandleGetHistory(t *testing.T) {
	hist := &fakeHistory{entries: map[string][]history.Entry{
		"uuid-1": {{ID: 1, ControlUUID: "uuid-1", State: "value", Value: 21.5, Source: "stream"}},
	}}
	handler := newTestServer(t, newTestMiniserver(), hist)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/history/uuid-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["count"] != 1.0 {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestHandleGetHistoryDisabled(t *testing.T) {
	handler := newTestServer(t, newTestMiniserver(), nil)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/history/uuid-1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when history disabled", rec.Code)
	}
}

func TestHandleRefreshStructure(t *testing.T) {
	ms := newTestMiniserver()
	handler := newTestServer(t, ms, nil)

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/structure/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ms.refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", ms.refreshCalls)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without miniserver succeeded")
	}
	if _, err := New(Deps{Miniserver: newTestMiniserver()}); err == nil {
		t.Error("New() without logger succeeded")
	}
}
