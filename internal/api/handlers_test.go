package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/modemd/internal/config"
	"github.com/modemd/internal/journal"
	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/testutil"
	"github.com/modemd/internal/testutil/mocks"
)

// fakeModems is a fixed modem set
type fakeModems struct {
	mu     sync.Mutex
	modems map[string]*mm.Modem
	subs   int
}

func (f *fakeModems) List() []*mm.Modem {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*mm.Modem
	for _, m := range f.modems {
		out = append(out, m)
	}
	return out
}

func (f *fakeModems) Get(id string) (*mm.Modem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.modems[id]
	return m, ok
}

func (f *fakeModems) Subscribe(fn func(mm.Event)) func() {
	var cancels []func()
	for _, m := range f.List() {
		cancels = append(cancels, m.Subscribe(fn))
	}
	f.mu.Lock()
	f.subs++
	f.mu.Unlock()
	return func() {
		for _, c := range cancels {
			c()
		}
		f.mu.Lock()
		f.subs--
		f.mu.Unlock()
	}
}

func (f *fakeModems) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs
}

func newTestModem(t *testing.T, id string) *mm.Modem {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m, err := mm.New(mm.Options{ID: id, Driver: mocks.NewFull("full"), Clock: clk, Logger: logging.Discard(), MaxBearers: 2})
	testutil.AssertNoError(t, err, "mm.New")
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// newMockServer creates a server over two modems: wwan0 enabled, wwan1
// only initialized.
func newMockServer(t *testing.T, cfg config.APIConfig) (*Server, *fakeModems) {
	t.Helper()
	ctx := context.Background()
	wwan0 := newTestModem(t, "wwan0")
	testutil.AssertNoError(t, wwan0.Initialize(ctx), "Initialize wwan0")
	testutil.AssertNoError(t, wwan0.Enable(ctx), "Enable wwan0")
	wwan1 := newTestModem(t, "wwan1")
	testutil.AssertNoError(t, wwan1.Initialize(ctx), "Initialize wwan1")

	modems := &fakeModems{modems: map[string]*mm.Modem{"wwan0": wwan0, "wwan1": wwan1}}
	s := New(cfg, modems)
	s.log = logging.Discard()
	return s, modems
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

// TestRouterSetup tests that the Chi router is properly configured with correct routes
func TestRouterSetup(t *testing.T) {
	server, _ := newMockServer(t, *config.DefaultAPIConfig())
	router := server.SetupRouter()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"Health endpoint", "GET", "/api/health", http.StatusOK},
		{"Modem list", "GET", "/api/modems", http.StatusOK},
		{"Modem", "GET", "/api/modems/wwan0", http.StatusOK},
		{"Unknown modem", "GET", "/api/modems/wwan9", http.StatusNotFound},
		{"Unknown bearer", "GET", "/api/modems/wwan0/bearers/7", http.StatusNotFound},
		{"Invalid route", "GET", "/api/invalid", http.StatusNotFound},
		{"Invalid method on health", "POST", "/api/health", http.StatusMethodNotAllowed},
		{"Invalid method on enable", "GET", "/api/modems/wwan0/enable", http.StatusMethodNotAllowed},
		{"Journal disabled", "GET", "/api/events", http.StatusNotFound},
		{"Metrics not mounted", "GET", "/metrics", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d for %s %s", tt.wantStatus, w.Code, tt.method, tt.path)
			}
		})
	}
}

func TestListModems(t *testing.T) {
	server, _ := newMockServer(t, *config.DefaultAPIConfig())
	w := do(t, server.SetupRouter(), "GET", "/api/modems", "")

	testutil.AssertEqual(t, http.StatusOK, w.Code, "status")
	testutil.AssertEqual(t, "application/json", w.Header().Get("Content-Type"), "content type")

	list := decode[[]map[string]any](t, w)
	testutil.AssertEqual(t, 2, len(list), "modems")
	testutil.AssertEqual(t, "wwan0", list[0]["id"].(string), "sorted by id")
	testutil.AssertEqual(t, "registered", list[0]["state"].(string), "wwan0 state")
	testutil.AssertEqual(t, "disabled", list[1]["state"].(string), "wwan1 state")
}

func TestModemCommands(t *testing.T) {
	server, _ := newMockServer(t, *config.DefaultAPIConfig())
	router := server.SetupRouter()

	w := do(t, router, "POST", "/api/modems/wwan1/register", `{"operator_id":"26201"}`)
	testutil.AssertEqual(t, http.StatusConflict, w.Code, "register while disabled")
	testutil.AssertEqual(t, "wrong-state", decode[ErrorResponse](t, w).Kind, "error kind")

	w = do(t, router, "POST", "/api/modems/wwan1/enable", "")
	testutil.AssertEqual(t, http.StatusOK, w.Code, "enable")
	testutil.AssertEqual(t, "registered", decode[map[string]any](t, w)["state"].(string), "state after enable")

	w = do(t, router, "POST", "/api/modems/wwan1/register", `{"operator_id":"26201"}`)
	testutil.AssertEqual(t, http.StatusOK, w.Code, "register while enabled")

	w = do(t, router, "POST", "/api/modems/wwan1/disable", "")
	testutil.AssertEqual(t, http.StatusOK, w.Code, "disable")
	testutil.AssertEqual(t, "disabled", decode[map[string]any](t, w)["state"].(string), "state after disable")
}

func TestRequestValidation(t *testing.T) {
	server, _ := newMockServer(t, *config.DefaultAPIConfig())
	router := server.SetupRouter()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown field", "POST", "/api/modems/wwan0/bearers", `{"apn":"internet","pdp":"x"}`, http.StatusBadRequest},
		{"bad ip type", "POST", "/api/modems/wwan0/bearers", `{"apn":"internet","ip_type":"ipx"}`, http.StatusBadRequest},
		{"malformed json", "POST", "/api/modems/wwan0/bearers", `{"apn":`, http.StatusBadRequest},
		{"missing pin", "POST", "/api/modems/wwan0/pin", `{}`, http.StatusBadRequest},
		{"missing new pin", "POST", "/api/modems/wwan0/puk", `{"puk":"12345678"}`, http.StatusBadRequest},
		{"unknown mode", "PUT", "/api/modems/wwan0/modes", `{"allowed":"6g"}`, http.StatusBadRequest},
		{"no bands", "PUT", "/api/modems/wwan0/bands", `{"bands":[]}`, http.StatusBadRequest},
		{"bad event id", "GET", "/api/events/not-a-uuid", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestModesAndBands(t *testing.T) {
	server, _ := newMockServer(t, *config.DefaultAPIConfig())
	router := server.SetupRouter()

	w := do(t, router, "PUT", "/api/modems/wwan0/modes", `{"allowed":"4g","preferred":"none"}`)
	testutil.AssertEqual(t, http.StatusOK, w.Code, "set modes")
	modes := decode[map[string]any](t, w)["current_modes"].(map[string]any)
	testutil.AssertEqual(t, "4g", modes["allowed"].(string), "current modes")

	w = do(t, router, "PUT", "/api/modems/wwan0/bands", `{"bands":["egsm","eutran-1"]}`)
	testutil.AssertEqual(t, http.StatusOK, w.Code, "set bands")
}

func TestBearerLifecycle(t *testing.T) {
	server, _ := newMockServer(t, *config.DefaultAPIConfig())
	router := server.SetupRouter()

	w := do(t, router, "POST", "/api/modems/wwan0/bearers", `{"apn":"internet","ip_type":"ipv4v6","password":"secret"}`)
	testutil.AssertEqual(t, http.StatusCreated, w.Code, "create")
	info := decode[map[string]any](t, w)
	id := info["id"].(string)
	props := info["properties"].(map[string]any)
	testutil.AssertEqual(t, "ipv4v6", props["ip_type"].(string), "ip type")
	_, leaked := props["password"]
	testutil.AssertFalse(t, leaked, "password is never returned")

	base := "/api/modems/wwan0/bearers/" + id
	w = do(t, router, "POST", base+"/connect", "")
	testutil.AssertEqual(t, http.StatusOK, w.Code, "connect")
	testutil.AssertEqual(t, "connected", decode[map[string]any](t, w)["status"].(string), "status")

	w = do(t, router, "GET", "/api/modems/wwan0", "")
	testutil.AssertEqual(t, "connected", decode[map[string]any](t, w)["state"].(string), "modem state")

	w = do(t, router, "GET", "/api/modems/wwan0/bearers", "")
	testutil.AssertEqual(t, 1, len(decode[[]map[string]any](t, w)), "bearer list")

	w = do(t, router, "DELETE", base, "")
	testutil.AssertEqual(t, http.StatusNoContent, w.Code, "delete")

	w = do(t, router, "GET", base, "")
	testutil.AssertEqual(t, http.StatusNotFound, w.Code, "deleted bearer")
}

func TestBearerLimit(t *testing.T) {
	server, _ := newMockServer(t, *config.DefaultAPIConfig())
	router := server.SetupRouter()

	for i := 0; i < 2; i++ {
		w := do(t, router, "POST", "/api/modems/wwan0/bearers", `{"apn":"internet"}`)
		testutil.AssertEqual(t, http.StatusCreated, w.Code, fmt.Sprintf("create %d", i))
	}
	w := do(t, router, "POST", "/api/modems/wwan0/bearers", `{"apn":"internet"}`)
	testutil.AssertEqual(t, http.StatusConflict, w.Code, "list full")
	testutil.AssertEqual(t, "too-many", decode[ErrorResponse](t, w).Kind, "error kind")
}

func TestWriteModemError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{mm.Errorf(mm.KindWrongState, "x"), http.StatusConflict},
		{mm.Errorf(mm.KindUnsupported, "x"), http.StatusNotImplemented},
		{mm.Errorf(mm.KindUnauthorized, "x"), http.StatusForbidden},
		{mm.Errorf(mm.KindInvalidArgs, "x"), http.StatusBadRequest},
		{mm.Errorf(mm.KindNotFound, "x"), http.StatusNotFound},
		{mm.Errorf(mm.KindSimWrong, "x"), http.StatusPreconditionFailed},
		{fmt.Errorf("op: %w", context.Canceled), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(mm.KindOf(tt.err).String(), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteModemError(w, tt.err)
			testutil.AssertEqual(t, tt.want, w.Code, "status")
			testutil.AssertEqual(t, tt.want, decode[ErrorResponse](t, w).Status, "body status")
		})
	}
}

func TestEventJournal(t *testing.T) {
	server, modems := newMockServer(t, *config.DefaultAPIConfig())
	j, err := journal.Open(journal.Config{}, journal.WithLogger(logging.Discard()))
	testutil.AssertNoError(t, err, "journal.Open")
	defer j.Close()
	server.SetJournal(j)
	router := server.SetupRouter()

	wwan1, _ := modems.Get("wwan1")
	defer j.Attach(wwan1)()
	testutil.AssertNoError(t, wwan1.Enable(context.Background()), "Enable")

	w := do(t, router, "GET", "/api/events?modem=wwan1&type=state-changed", "")
	testutil.AssertEqual(t, http.StatusOK, w.Code, "list")
	entries := decode[[]journal.Entry](t, w)
	testutil.AssertTrue(t, len(entries) >= 2, "state changes recorded")
	for _, e := range entries {
		testutil.AssertEqual(t, "state-changed", e.Type, "filtered type")
	}

	w = do(t, router, "GET", "/api/modems/wwan1/events?limit=1", "")
	testutil.AssertEqual(t, 1, len(decode[[]journal.Entry](t, w)), "limit")

	w = do(t, router, "GET", "/api/events/"+entries[0].ID, "")
	testutil.AssertEqual(t, http.StatusOK, w.Code, "get by id")
	testutil.AssertEqual(t, entries[0].Seq, decode[journal.Entry](t, w).Seq, "same entry")

	w = do(t, router, "GET", "/api/events/00000000-0000-0000-0000-000000000000", "")
	testutil.AssertEqual(t, http.StatusNotFound, w.Code, "unknown id")

	w = do(t, router, "GET", "/api/events?after=x", "")
	testutil.AssertEqual(t, http.StatusBadRequest, w.Code, "bad after")

	w = do(t, router, "GET", "/api/events?modem=wwan0", "")
	testutil.AssertEqual(t, "[]\n", w.Body.String(), "empty list")

	w = do(t, router, "DELETE", "/api/modems/wwan1/events", "")
	testutil.AssertEqual(t, http.StatusNoContent, w.Code, "clear")
	w = do(t, router, "GET", "/api/modems/wwan1/events", "")
	testutil.AssertEqual(t, "[]\n", w.Body.String(), "cleared")
}

func TestEventStream(t *testing.T) {
	server, modems := newMockServer(t, *config.DefaultAPIConfig())
	ts := httptest.NewServer(server.SetupRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/stream?modem=wwan1&type=state-changed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	testutil.AssertNoError(t, err, "Dial")
	defer conn.Close()

	testutil.Eventually(t, time.Second, func() bool { return modems.subscribers() == 1 }, "stream subscribed")

	wwan0, _ := modems.Get("wwan0")
	wwan0.Disable(context.Background())
	wwan1, _ := modems.Get("wwan1")
	testutil.AssertNoError(t, wwan1.Enable(context.Background()), "Enable")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev map[string]any
	testutil.AssertNoError(t, conn.ReadJSON(&ev), "ReadJSON")
	testutil.AssertEqual(t, "wwan1", ev["modem"].(string), "modem filter")
	testutil.AssertEqual(t, "state-changed", ev["type"].(string), "type filter")
	testutil.AssertEqual(t, "enabling", ev["new_state"].(string), "first transition")

	conn.Close()
	testutil.Eventually(t, time.Second, func() bool { return modems.subscribers() == 0 }, "stream unsubscribed")
}

func TestEventStreamDisabled(t *testing.T) {
	cfg := *config.DefaultAPIConfig()
	cfg.EventStream = false
	server, _ := newMockServer(t, cfg)

	w := do(t, server.SetupRouter(), "GET", "/api/events/stream", "")
	testutil.AssertEqual(t, http.StatusNotFound, w.Code, "stream route absent")
}

func TestCORS(t *testing.T) {
	cfg := *config.DefaultAPIConfig()
	cfg.CORSOrigins = []string{"https://ui.example"}
	server, _ := newMockServer(t, cfg)
	router := server.SetupRouter()

	req := httptest.NewRequest("OPTIONS", "/api/modems", nil)
	req.Header.Set("Origin", "https://ui.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	testutil.AssertEqual(t, "https://ui.example", w.Header().Get("Access-Control-Allow-Origin"), "allowed origin")

	req = httptest.NewRequest("GET", "/api/modems", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	testutil.AssertEqual(t, "", w.Header().Get("Access-Control-Allow-Origin"), "foreign origin")

	testutil.AssertFalse(t, server.originAllowed(req), "websocket origin check")
}

func TestMetricsMount(t *testing.T) {
	server, _ := newMockServer(t, *config.DefaultAPIConfig())
	server.SetMetricsHandler("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("modemd_up 1\n"))
	}))

	w := do(t, server.SetupRouter(), "GET", "/metrics", "")
	testutil.AssertEqual(t, http.StatusOK, w.Code, "status")
	testutil.AssertEqual(t, "modemd_up 1\n", w.Body.String(), "body")
}

type staticHealth struct{}

func (staticHealth) CheckHealth() *HealthStatus {
	return &HealthStatus{Status: "degraded", Modems: []ModemHealth{{Name: "wwan0", Present: false}}}
}

func TestHealthChecker(t *testing.T) {
	server, _ := newMockServer(t, *config.DefaultAPIConfig())
	server.SetHealthChecker(staticHealth{})

	w := do(t, server.SetupRouter(), "GET", "/api/health", "")
	h := decode[HealthStatus](t, w)
	testutil.AssertEqual(t, "degraded", h.Status, "status")
	testutil.AssertEqual(t, 1, len(h.Modems), "modems")
}

func TestServeShutsDownWithContext(t *testing.T) {
	server, _ := newMockServer(t, *config.DefaultAPIConfig())
	ts := httptest.NewUnstartedServer(nil)
	ln := ts.Listener

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()

	testutil.Eventually(t, 2*time.Second, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "server answers")

	cancel()
	select {
	case err := <-done:
		testutil.AssertNoError(t, err, "Serve")
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
