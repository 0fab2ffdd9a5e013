package loxone

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	testUser     = "admin"
	testPassword = "secret"
	testKey      = "68656c6c6f"
	testToken    = "test-session-token"
)

// fakeMiniserver stands in for a real device: getkey2/getjwt handshake,
// structure document, sps/io command endpoint, and the event stream.
type fakeMiniserver struct {
	t   *testing.T
	srv *httptest.Server

	// frames pushed here are delivered over the next live stream.
	frames chan []byte

	// dropAfterFrame closes the stream after each delivered frame to
	// exercise the reconnect path.
	dropAfterFrame bool

	// failState makes the sps/io endpoint return 500.
	failState atomic.Bool

	dials atomic.Int32

	mu       sync.Mutex
	requests []string
	bearers  map[string]string
}

func newFakeMiniserver(t *testing.T) *fakeMiniserver {
	t.Helper()

	f := &fakeMiniserver{
		t:       t,
		frames:  make(chan []byte, 4),
		bearers: map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/jdev/sys/", f.handleAuth)
	mux.HandleFunc("/data/LoxAPP3.json", f.handleStructure)
	mux.HandleFunc("/sps/io/", f.handleCommand)
	mux.HandleFunc(socketPath, f.handleSocket)

	f.srv = httptest.NewServer(mux)
	return f
}

func (f *fakeMiniserver) record(r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.URL.Path)
	f.bearers[r.URL.Path] = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Unlock()
}

func (f *fakeMiniserver) requestPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeMiniserver) countRequests(prefix string) int {
	n := 0
	for _, p := range f.requestPaths() {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeMiniserver) bearerFor(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bearers[path]
}

func (f *fakeMiniserver) handleAuth(w http.ResponseWriter, r *http.Request) {
	f.record(r)

	switch {
	case strings.HasPrefix(r.URL.Path, "/jdev/sys/getkey2/"):
		fmt.Fprintf(w, `{"LL": {"value": %q, "Code": "200"}}`, testKey)
	case strings.HasPrefix(r.URL.Path, "/jdev/sys/getjwt/"):
		validUntil := time.Now().Add(time.Hour).Unix()
		fmt.Fprintf(w, `{"LL": {"value": %q, "controlInfo": {"validUntil": %d}, "Code": "200"}}`, testToken, validUntil)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeMiniserver) handleStructure(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	if f.bearerFor(r.URL.Path) != testToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	fmt.Fprint(w, testStructureDoc)
}

func (f *fakeMiniserver) handleCommand(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	if f.failState.Load() {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, `{"LL": {"value": 1, "Code": "200"}}`)
}

func (f *fakeMiniserver) handleSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("auth") != testToken {
		http.Error(w, "bad token", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	f.dials.Add(1)

	// Drain the read side so pings are answered; its failure signals the
	// peer went away and the handler must return.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-f.frames:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			if f.dropAfterFrame {
				return
			}
		case <-gone:
			return
		}
	}
}

func (f *fakeMiniserver) clientConfig() Config {
	u, err := url.Parse(f.srv.URL)
	if err != nil {
		f.t.Fatalf("parsing test server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	return Config{
		Host:                  u.Hostname(),
		Port:                  port,
		Username:              testUser,
		Password:              testPassword,
		TokenRefreshThreshold: time.Minute,
		ReconnectDelay:        20 * time.Millisecond,
	}
}

func TestClientStartLoadsRegistry(t *testing.T) {
	f := newFakeMiniserver(t)
	defer f.srv.Close()

	client := NewClient(f.clientConfig())
	defer client.Stop()

	controls, err := client.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if controls["uuid-light"] == nil || controls["uuid-lightctrl/sub-a"] == nil {
		t.Errorf("registry missing expected controls, got %d entries", len(controls))
	}

	if got := f.bearerFor("/data/LoxAPP3.json"); got != testToken {
		t.Errorf("structure request bearer = %q, want session token", got)
	}
	if n := f.countRequests("/jdev/sys/getjwt/"); n != 1 {
		t.Errorf("getjwt called %d times, want 1", n)
	}
}

func TestClientStartIdempotent(t *testing.T) {
	f := newFakeMiniserver(t)
	defer f.srv.Close()

	client := NewClient(f.clientConfig())
	defer client.Stop()

	first, err := client.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	second, err := client.Start(context.Background())
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if len(first) != len(second) {
		t.Errorf("registry changed across Start calls: %d vs %d", len(first), len(second))
	}
	if n := f.countRequests("/data/LoxAPP3.json"); n != 1 {
		t.Errorf("structure fetched %d times, want 1", n)
	}
}

func TestClientStreamDeliversEvents(t *testing.T) {
	f := newFakeMiniserver(t)
	defer f.srv.Close()

	client := NewClient(f.clientConfig())
	defer client.Stop()

	events := make(chan StateEvent, 8)
	client.RegisterCallback(func(ev StateEvent) { events <- ev })

	if _, err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	f.frames <- []byte(`{"uuid-light": 1, "uuid-not-in-registry": 5}`)

	select {
	case ev := <-events:
		if ev.ControlUUID != "uuid-light" {
			t.Errorf("event for %q, want uuid-light", ev.ControlUUID)
		}
		if v, _ := ev.Value.(float64); v != 1 {
			t.Errorf("event value = %v, want 1", ev.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered from stream")
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	if v, _ := client.GetState("uuid-light").(float64); v != 1 {
		t.Errorf("cached state = %v, want 1", client.GetState("uuid-light"))
	}
}

func TestClientReconnectsAfterStreamDrop(t *testing.T) {
	f := newFakeMiniserver(t)
	defer f.srv.Close()
	f.dropAfterFrame = true

	client := NewClient(f.clientConfig())
	defer client.Stop()

	events := make(chan StateEvent, 8)
	client.RegisterCallback(func(ev StateEvent) { events <- ev })

	if _, err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Each frame tears the stream down after delivery, so the second one
	// can only arrive over a re-dialed connection.
	f.frames <- []byte(`{"uuid-light": 1}`)
	f.frames <- []byte(`{"uuid-light": 0}`)

	for i := 0; i < 2; i++ {
		select {
		case <-events:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of 2 events arrived before timeout", i)
		}
	}

	if n := f.dials.Load(); n < 2 {
		t.Errorf("stream dialed %d times, want at least 2", n)
	}
}

func TestClientSendCommand(t *testing.T) {
	f := newFakeMiniserver(t)
	defer f.srv.Close()

	client := NewClient(f.clientConfig())
	defer client.Stop()

	if _, err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := client.SendCommand(context.Background(), "uuid-lightctrl/sub-a", "setValue", 50.0); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	paths := f.requestPaths()
	var sawCommand, sawRefresh bool
	for _, p := range paths {
		switch p {
		case "/sps/io/uuid-lightctrl/sub-a/setValue/50":
			sawCommand = true
		case "/sps/io/uuid-lightctrl/sub-a":
			sawRefresh = true
		}
	}
	if !sawCommand {
		t.Errorf("command path not requested, saw %v", paths)
	}
	if !sawRefresh {
		t.Errorf("state not re-fetched after command, saw %v", paths)
	}

	// The post-command refresh caches the reported value.
	if v, _ := client.GetState("uuid-lightctrl/sub-a").(float64); v != 1 {
		t.Errorf("cached state = %v, want 1", client.GetState("uuid-lightctrl/sub-a"))
	}
}

func TestClientSendCommandValuelessAndBool(t *testing.T) {
	f := newFakeMiniserver(t)
	defer f.srv.Close()

	client := NewClient(f.clientConfig())
	defer client.Stop()

	if _, err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := client.SendCommand(context.Background(), "uuid-light", "on", nil); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if err := client.SendCommand(context.Background(), "uuid-light", "set", true); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	want := map[string]bool{
		"/sps/io/uuid-light/on":    false,
		"/sps/io/uuid-light/set/1": false,
	}
	for _, p := range f.requestPaths() {
		if _, ok := want[p]; ok {
			want[p] = true
		}
	}
	for p, seen := range want {
		if !seen {
			t.Errorf("path %s never requested", p)
		}
	}
}

func TestClientUpdateStateReturnsCachedOnFailure(t *testing.T) {
	f := newFakeMiniserver(t)
	defer f.srv.Close()

	client := NewClient(f.clientConfig())
	defer client.Stop()

	if _, err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := client.UpdateState(context.Background(), "uuid-light"); got != 1.0 {
		t.Fatalf("UpdateState() = %v, want 1", got)
	}

	f.failState.Store(true)
	if got := client.UpdateState(context.Background(), "uuid-light"); got != 1.0 {
		t.Errorf("UpdateState() after failure = %v, want cached 1", got)
	}
}

func TestClientStopClearsConnectionState(t *testing.T) {
	f := newFakeMiniserver(t)
	defer f.srv.Close()

	client := NewClient(f.clientConfig())

	if _, err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	f.frames <- []byte(`{"uuid-light": 1}`)
	waitForState(t, client, "uuid-light")

	client.Stop()
	client.Stop() // must be safe to repeat

	if client.GetState("uuid-light") != nil {
		t.Error("state cache survived Stop")
	}
	if client.GetControl("uuid-light") == nil {
		t.Error("registry did not survive Stop")
	}
}

func waitForState(t *testing.T, client *Client, uuid string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if client.GetState(uuid) != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no state observed for %s", uuid)
}

func TestControlJSONShape(t *testing.T) {
	ctrl := &Control{
		UUID: "u",
		Name: "Lamp",
		Type: "Switch",
		Room: "Office",
	}

	data, err := json.Marshal(ctrl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["uuid"] != "u" || out["room"] != "Office" {
		t.Errorf("unexpected wire shape: %s", data)
	}
	if _, present := out["category"]; present {
		t.Errorf("empty category not omitted: %s", data)
	}
}
