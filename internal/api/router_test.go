package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/natssync/mstress/internal/api"
	"github.com/natssync/mstress/internal/directory"
	"github.com/natssync/mstress/pkg/types"
)

type fakeProber struct {
	mu     sync.Mutex
	floods []types.StressTest
	mps    []string
}

func (p *fakeProber) Echo(_ context.Context, client string) (types.TestResult, error) {
	if client == "ghost" {
		return types.TestResult{Client: client}, errors.New("deadline exceeded")
	}
	return types.TestResult{Client: client, Success: true, ResponseCount: 1}, nil
}

func (p *fakeProber) Flood(_ context.Context, test types.StressTest) ([]types.TestResult, error) {
	p.mu.Lock()
	p.floods = append(p.floods, test)
	p.mu.Unlock()
	out := make([]types.TestResult, 0, len(test.Clients))
	for _, c := range test.Clients {
		out = append(out, types.TestResult{Client: c, Success: true, ResponseCount: test.Count})
	}
	return out, nil
}

func (p *fakeProber) Throughput(_ context.Context, client string) types.ThroughputResult {
	return types.ThroughputResult{Client: client, Count: 10, MPS: 50}
}

func (p *fakeProber) ThroughputAll(_ context.Context, clients []string) []types.ThroughputResult {
	p.mu.Lock()
	p.mps = append(p.mps, clients...)
	p.mu.Unlock()
	out := make([]types.ThroughputResult, 0, len(clients))
	for i, c := range clients {
		out = append(out, types.ThroughputResult{Client: c, Count: i + 1, MPS: float64((len(clients) - i) * 10)})
	}
	return out
}

type memDirectory struct {
	mu      sync.Mutex
	clients []string
	err     error
}

func (d *memDirectory) Clients(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]string(nil), d.clients...), nil
}

func (d *memDirectory) Add(_ context.Context, client string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients = append(d.clients, client)
	return nil
}

func (d *memDirectory) Remove(_ context.Context, client string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, c := range d.clients {
		if c == client {
			d.clients = append(d.clients[:i], d.clients[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type readOnlyDirectory struct{}

func (readOnlyDirectory) Clients(context.Context) ([]string, error) { return []string{"alice"}, nil }

type sink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *sink) Publish(ev types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

type conn struct{ up bool }

func (c conn) IsConnected() bool { return c.up }

type observer struct {
	mu     sync.Mutex
	routes []string
}

func (o *observer) ObserveRequest(route string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, route)
}

type fixture struct {
	prober   *fakeProber
	dir      *memDirectory
	sink     *sink
	observer *observer
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		prober:   &fakeProber{},
		dir:      &memDirectory{clients: []string{"alice", "bob"}},
		sink:     &sink{},
		observer: &observer{},
	}
	h := api.NewHandler(f.prober, f.dir)
	h.SetEventSink(f.sink)
	h.SetConnChecker(conn{up: true})
	h.SetLimits(api.Limits{MaxTestCount: 100, MaxBatchClients: 3})
	h.SetVersion("1.2.3")

	r := api.NewRouter(h)
	r.SetAllowedOrigins([]string{"https://dash.example"})
	r.SetRequestObserver(f.observer)
	f.handler = r.SetupRoutes()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHello(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "Hello, server!" {
		t.Fatalf("GET / = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}
	if rec := f.do(http.MethodGet, "/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health", "")
	var resp types.HealthResponse
	decode(t, rec, &resp)
	if rec.Code != http.StatusOK || resp.Status != "ok" || resp.Version != "1.2.3" {
		t.Fatalf("health = %d %+v", rec.Code, resp)
	}

	h := api.NewHandler(f.prober, f.dir)
	h.SetConnChecker(conn{up: false})
	down := api.NewRouter(h).SetupRoutes()
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	decode(t, rec, &resp)
	if rec.Code != http.StatusServiceUnavailable || resp.Status != "degraded" || resp.NATS != "disconnected" {
		t.Fatalf("degraded health = %d %+v", rec.Code, resp)
	}
}

func TestVersion(t *testing.T) {
	f := newFixture(t)
	var resp types.VersionResponse
	decode(t, f.do(http.MethodGet, "/version", ""), &resp)
	if resp.Version != "1.2.3" {
		t.Fatalf("version = %q", resp.Version)
	}
}

func TestClientsLifecycle(t *testing.T) {
	f := newFixture(t)

	var list types.ClientCollection
	decode(t, f.do(http.MethodGet, "/clients", ""), &list)
	if list.Count != 2 || list.Clients[0] != "alice" {
		t.Fatalf("clients = %+v", list)
	}

	if rec := f.do(http.MethodPost, "/clients", `{"client":"carol"}`); rec.Code != http.StatusCreated {
		t.Fatalf("add = %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(http.MethodPost, "/clients", `{"client":"bad.name"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("add invalid = %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/clients", `{"client":"x"}{"client":"y"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("add two objects = %d", rec.Code)
	}
	if rec := f.do(http.MethodDelete, "/clients/alice", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("remove = %d", rec.Code)
	}
	if rec := f.do(http.MethodDelete, "/clients/alice", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("remove again = %d", rec.Code)
	}

	decode(t, f.do(http.MethodGet, "/clients", ""), &list)
	if list.Count != 2 || list.Clients[0] != "bob" || list.Clients[1] != "carol" {
		t.Fatalf("clients after edits = %+v", list)
	}
}

func TestClientsDirectoryFailure(t *testing.T) {
	f := newFixture(t)
	f.dir.err = errors.New("mongo down")
	if rec := f.do(http.MethodGet, "/clients", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("clients = %d, want 503", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/tests/mps", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("mps = %d, want 503", rec.Code)
	}
}

func TestClientsReadOnly(t *testing.T) {
	h := api.NewHandler(&fakeProber{}, readOnlyDirectory{})
	router := api.NewRouter(h).SetupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/clients", strings.NewReader(`{"client":"carol"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("add on read-only = %d, want 501", rec.Code)
	}
	var _ directory.Directory = readOnlyDirectory{}
}

func TestEchoTest(t *testing.T) {
	f := newFixture(t)

	var res types.TestResult
	rec := f.do(http.MethodGet, "/tests/alice", "")
	decode(t, rec, &res)
	if rec.Code != http.StatusOK || !res.Success || res.ResponseCount != 1 || res.Client != "alice" {
		t.Fatalf("echo = %d %+v", rec.Code, res)
	}

	rec = f.do(http.MethodGet, "/tests/ghost", "")
	decode(t, rec, &res)
	if rec.Code != http.StatusOK || res.Success || res.ResponseCount != 0 {
		t.Fatalf("echo of silent client = %d %+v", rec.Code, res)
	}

	rec = f.do(http.MethodGet, "/tests/cloud-master", "")
	var msg types.ErrorMessage
	decode(t, rec, &msg)
	if rec.Code != http.StatusBadRequest || msg.Message == "" {
		t.Fatalf("echo of sentinel = %d %+v", rec.Code, msg)
	}

	kinds := f.sink.kinds()
	if len(kinds) != 2 || kinds[0] != types.EventEcho {
		t.Fatalf("events = %v", kinds)
	}
}

func TestBatchTest(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/tests", `{"clients":["alice","bob"],"test_count":5}`)
	var results []types.TestResult
	decode(t, rec, &results)
	if rec.Code != http.StatusOK || len(results) != 2 || results[1].ResponseCount != 5 {
		t.Fatalf("batch = %d %+v", rec.Code, results)
	}
	if len(f.prober.floods) != 1 || f.prober.floods[0].ID == "" || f.prober.floods[0].Count != 5 {
		t.Fatalf("floods = %+v", f.prober.floods)
	}
	if kinds := f.sink.kinds(); len(kinds) != 1 || kinds[0] != types.EventFlood {
		t.Fatalf("events = %v", kinds)
	}
}

func TestBatchTestRejected(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no clients", `{"clients":[],"test_count":5}`, "No clients provided to test"},
		{"zero count", `{"clients":["alice"],"test_count":0}`, "No clients provided to test"},
		{"missing count", `{"clients":["alice"]}`, "No clients provided to test"},
		{"too many clients", `{"clients":["a","b","c","d"],"test_count":1}`, ""},
		{"count over max", `{"clients":["alice"],"test_count":101}`, ""},
		{"invalid client", `{"clients":["alice","bad>"],"test_count":1}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/tests", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var msg types.ErrorMessage
			decode(t, rec, &msg)
			if msg.Message == "" || (tt.want != "" && msg.Message != tt.want) {
				t.Fatalf("message = %q", msg.Message)
			}
		})
	}
	if len(f.prober.floods) != 0 {
		t.Fatalf("rejected tests reached the prober: %+v", f.prober.floods)
	}

	if rec := f.do(http.MethodPost, "/tests", `not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/tests", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("text/plain = %d, want 415", rec.Code)
	}
}

func TestMPSTests(t *testing.T) {
	f := newFixture(t)

	var one types.ThroughputResult
	decode(t, f.do(http.MethodGet, "/tests/alice/mps", ""), &one)
	if one.Client != "alice" || one.MPS != 50 {
		t.Fatalf("client mps = %+v", one)
	}

	var stats types.StatsCollection
	rec := f.do(http.MethodGet, "/tests/mps", "")
	decode(t, rec, &stats)
	if rec.Code != http.StatusOK || len(stats.Results) != 2 {
		t.Fatalf("stats = %d %+v", rec.Code, stats)
	}
	if stats.Min != 10 || stats.Max != 20 || stats.Average != 15 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Results[0].Client != "bob" {
		t.Fatalf("results not sorted by mps: %+v", stats.Results)
	}
	if kinds := f.sink.kinds(); len(kinds) != 2 || kinds[1] != types.EventStats {
		t.Fatalf("events = %v", kinds)
	}
}

func TestMPSWithEmptyDirectory(t *testing.T) {
	f := newFixture(t)
	f.dir.clients = nil
	var stats types.StatsCollection
	rec := f.do(http.MethodGet, "/tests/mps", "")
	decode(t, rec, &stats)
	if rec.Code != http.StatusOK || stats.Results == nil || len(stats.Results) != 0 || stats.Average != 0 {
		t.Fatalf("empty stats = %d %s", rec.Code, rec.Body.String())
	}
}

func TestMPSSkipsInvalidDirectoryClients(t *testing.T) {
	f := newFixture(t)
	f.dir.clients = []string{"alice", "bad.name", "*", "bob", ""}

	var stats types.StatsCollection
	rec := f.do(http.MethodGet, "/tests/mps", "")
	decode(t, rec, &stats)
	if rec.Code != http.StatusOK || len(stats.Results) != 2 {
		t.Fatalf("stats = %d %+v", rec.Code, stats)
	}

	f.prober.mu.Lock()
	measured := append([]string(nil), f.prober.mps...)
	f.prober.mu.Unlock()
	if len(measured) != 2 || measured[0] != "alice" || measured[1] != "bob" {
		t.Fatalf("measured clients = %v, want [alice bob]", measured)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/tests", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://dash.example" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/tests", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign preflight = %d, want 403", rec.Code)
	}
}

func TestRequestObserverSeesRoutePattern(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/tests/alice", "")
	f.do(http.MethodGet, "/missing/thing", "")

	f.observer.mu.Lock()
	defer f.observer.mu.Unlock()
	if len(f.observer.routes) != 2 {
		t.Fatalf("routes = %v", f.observer.routes)
	}
	if f.observer.routes[0] != "GET /tests/{client}" {
		t.Fatalf("route = %q", f.observer.routes[0])
	}
	if f.observer.routes[1] != "unmatched" {
		t.Fatalf("route = %q", f.observer.routes[1])
	}
}
