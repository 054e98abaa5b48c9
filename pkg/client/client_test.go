package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/natssync/mstress/pkg/client"
	"github.com/natssync/mstress/pkg/types"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.HealthResponse{Status: "ok", NATS: "connected"})
	})
	mux.HandleFunc("GET /clients", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.ClientCollection{Clients: []string{"alice"}, Count: 1})
	})
	mux.HandleFunc("DELETE /clients/{client}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("client") != "alice" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /tests/{client}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.TestResult{Client: r.PathValue("client"), Success: true, ResponseCount: 1})
	})
	mux.HandleFunc("POST /tests", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		var req types.NewTest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Clients) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(types.ErrorMessage{Message: "No clients provided to test"})
			return
		}
		out := []types.TestResult{}
		for _, c := range req.Clients {
			out = append(out, types.TestResult{Client: c, Success: true, ResponseCount: req.TestCount})
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("GET /tests/mps", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.StatsCollection{
			Results: []types.ThroughputResult{{Client: "alice", Count: 10, MPS: 50}},
			Min:     50, Max: 50, Average: 50,
		})
	})
	mux.HandleFunc("GET /tests/{client}/mps", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.ThroughputResult{Client: r.PathValue("client"), Count: 4, MPS: 20})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrips(t *testing.T) {
	srv := newServer(t)
	c := client.New(srv.URL + "/")
	ctx := context.Background()

	if c.ServerURL() != srv.URL {
		t.Fatalf("server url = %q", c.ServerURL())
	}
	if err := c.Healthy(ctx); err != nil {
		t.Fatalf("healthy: %v", err)
	}

	clients, err := c.Clients(ctx)
	if err != nil || clients.Count != 1 || clients.Clients[0] != "alice" {
		t.Fatalf("clients = %+v, %v", clients, err)
	}

	echo, err := c.Echo(ctx, "alice")
	if err != nil || !echo.Success || echo.Client != "alice" {
		t.Fatalf("echo = %+v, %v", echo, err)
	}

	flood, err := c.Flood(ctx, []string{"alice", "bob"}, 7)
	if err != nil || len(flood) != 2 || flood[1].ResponseCount != 7 {
		t.Fatalf("flood = %+v, %v", flood, err)
	}

	one, err := c.Throughput(ctx, "bob")
	if err != nil || one.Client != "bob" || one.MPS != 20 {
		t.Fatalf("throughput = %+v, %v", one, err)
	}

	stats, err := c.ThroughputAll(ctx)
	if err != nil || stats.Average != 50 || len(stats.Results) != 1 {
		t.Fatalf("stats = %+v, %v", stats, err)
	}
}

func TestClientErrors(t *testing.T) {
	srv := newServer(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	_, err := c.Flood(ctx, nil, 1)
	var se *client.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest || se.Message != "No clients provided to test" {
		t.Fatalf("flood err = %v", err)
	}

	if err := c.RemoveClient(ctx, "alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := c.RemoveClient(ctx, "zed"); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("remove unknown = %v, want ErrNotFound", err)
	}

	if _, err := c.Version(ctx); err == nil {
		t.Fatal("expected error for unrouted /version")
	}

	dead := client.New("http://127.0.0.1:1")
	if err := dead.Healthy(ctx); err == nil {
		t.Fatal("expected unreachable server error")
	}
}
