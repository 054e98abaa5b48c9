package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/natssync/mstress/pkg/types"
)

func callRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: args},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %#v, want text", res.Content[0])
	}
	return text.Text
}

func TestEchoTestUsesAPIKeyArgument(t *testing.T) {
	const key = "secret-token"
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tests/{client}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+key {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(types.TestResult{Client: r.PathValue("client"), Success: true, ResponseCount: 1})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := handleEchoTest(context.Background(), callRequest(map[string]any{
		"server_url": srv.URL, "client": "alice",
	}))
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error without api_key")
	}

	res, err = handleEchoTest(context.Background(), callRequest(map[string]any{
		"server_url": srv.URL, "client": "alice", "api_key": key,
	}))
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("expected success with api_key, got %#v", res.Content)
	}
	var out types.TestResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Client != "alice" {
		t.Fatalf("result = %+v", out)
	}
}

func TestBatchTestForwardsClients(t *testing.T) {
	var got types.NewTest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tests", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode([]types.TestResult{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := handleBatchTest(context.Background(), callRequest(map[string]any{
		"server_url": srv.URL,
		"clients":    []any{"alice", "bob"},
		"test_count": 25,
	}))
	if err != nil || res.IsError {
		t.Fatalf("batch_test = %#v, %v", res, err)
	}
	if len(got.Clients) != 2 || got.Clients[1] != "bob" || got.TestCount != 25 {
		t.Fatalf("forwarded = %+v", got)
	}

	res, _ = handleBatchTest(context.Background(), callRequest(map[string]any{"server_url": srv.URL}))
	if !res.IsError {
		t.Fatal("expected error without clients")
	}
}

func TestMPSTestAllClients(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tests/mps", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.StatsCollection{Results: []types.ThroughputResult{}, Average: 0})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := handleMPSTest(context.Background(), callRequest(map[string]any{"server_url": srv.URL}))
	if err != nil || res.IsError {
		t.Fatalf("mps_test = %#v, %v", res, err)
	}
	if !strings.Contains(resultText(t, res), `"results": []`) {
		t.Fatalf("text = %q", resultText(t, res))
	}
}

func TestClientFromRequestTrimsAPIKey(t *testing.T) {
	c := clientFromRequest(defaultServerURL, callRequest(map[string]any{"api_key": "  token  "}))
	if c == nil {
		t.Fatal("expected client")
	}
	c = clientFromRequest(defaultServerURL, callRequest(map[string]any{"server_url": "  "}))
	if c.ServerURL() != defaultServerURL {
		t.Fatalf("server url = %q, want default", c.ServerURL())
	}
}

func TestToolDefinitionsExposeAPIKeyArgument(t *testing.T) {
	tools := ToolDefinitions()
	want := map[string]bool{"list_clients": true, "echo_test": true, "batch_test": true, "mps_test": true}
	if len(tools) != len(want) {
		t.Fatalf("tools = %d, want %d", len(tools), len(want))
	}
	for _, tool := range tools {
		if !want[tool.Name] {
			t.Fatalf("unexpected tool %s", tool.Name)
		}
		if _, ok := tool.InputSchema.Properties["api_key"]; !ok {
			t.Fatalf("tool %s missing api_key property", tool.Name)
		}
		if strings.TrimSpace(tool.Description) == "" {
			t.Fatalf("tool %s missing description", tool.Name)
		}
	}
}
