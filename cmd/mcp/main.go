// Package mcp implements the `mstress mcp` subcommand: an MCP (Model Context
// Protocol) server over stdio. Agents spawn this process and call the
// liveness probes as tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/natssync/mstress/pkg/client"
)

const defaultServerURL = "http://localhost:8080"

// Run starts the MCP stdio server. Blocks until stdin closes or signal received.
func Run(version string) int {
	s := server.NewMCPServer(
		"mstress",
		version,
		server.WithToolCapabilities(true),
	)
	for _, t := range tools() {
		s.AddTool(t.tool, t.handler)
	}

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "mstress mcp: error: %v\n", err)
		return 1
	}
	return 0
}

type toolEntry struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

func commonOptions(extra ...mcp.ToolOption) []mcp.ToolOption {
	opts := []mcp.ToolOption{
		mcp.WithString("server_url",
			mcp.Description("mstress server URL (default: "+defaultServerURL+")"),
		),
		mcp.WithString("api_key",
			mcp.Description("Bearer token, if the server requires one"),
		),
	}
	return append(opts, extra...)
}

func tools() []toolEntry {
	return []toolEntry{
		{
			tool: mcp.NewTool("list_clients", append(commonOptions(),
				mcp.WithDescription("List the client identifiers registered in the server's directory."),
			)...),
			handler: handleListClients,
		},
		{
			tool: mcp.NewTool("echo_test", append(commonOptions(
				mcp.WithString("client", mcp.Required(),
					mcp.Description("Client identifier to probe"),
				),
			), mcp.WithDescription("Single round-trip probe: publishes one request to the client's echo subject and waits up to 5s for the echo. Returns {client, success, response_count}."))...),
			handler: handleEchoTest,
		},
		{
			tool: mcp.NewTool("batch_test", append(commonOptions(
				mcp.WithArray("clients", mcp.Required(),
					mcp.Description("Client identifiers to flood"),
					mcp.WithStringItems(),
				),
				mcp.WithNumber("test_count",
					mcp.Description("Requests per client (default: 10)"),
				),
			), mcp.WithDescription("Flood several clients with test_count requests each and report how many replies came back per client. A client succeeds only if every request was echoed."))...),
			handler: handleBatchTest,
		},
		{
			tool: mcp.NewTool("mps_test", append(commonOptions(
				mcp.WithString("client",
					mcp.Description("Client to measure; omit to measure every directory client"),
				),
			), mcp.WithDescription("Sequential round-trip throughput (messages per second) for one client, or min/max/average across every client in the directory."))...),
			handler: handleMPSTest,
		},
	}
}

// ToolDefinitions returns the tools exposed by Run.
func ToolDefinitions() []mcp.Tool {
	entries := tools()
	out := make([]mcp.Tool, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.tool)
	}
	return out
}

func clientFromRequest(defaultURL string, req mcp.CallToolRequest) *client.Client {
	serverURL := strings.TrimSpace(req.GetString("server_url", defaultURL))
	if serverURL == "" {
		serverURL = defaultURL
	}
	key := strings.TrimSpace(req.GetString("api_key", ""))
	if key == "" {
		return client.New(serverURL)
	}
	return client.New(serverURL, client.WithAPIKey(key))
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON encoding failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleListClients(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	list, err := clientFromRequest(defaultServerURL, req).Clients(callCtx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Listing clients failed: %v", err)), nil
	}
	return jsonResult(list)
}

func handleEchoTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target := strings.TrimSpace(req.GetString("client", ""))
	if target == "" {
		return mcp.NewToolResultError("client is required"), nil
	}
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	res, err := clientFromRequest(defaultServerURL, req).Echo(callCtx, target)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Echo test failed: %v", err)), nil
	}
	return jsonResult(res)
}

func handleBatchTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	clients := req.GetStringSlice("clients", nil)
	if len(clients) == 0 {
		return mcp.NewToolResultError("clients must name at least one client"), nil
	}
	count := req.GetInt("test_count", 10)
	if count < 1 {
		count = 1
	}
	callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	results, err := clientFromRequest(defaultServerURL, req).Flood(callCtx, clients, count)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Batch test failed: %v", err)), nil
	}
	return jsonResult(results)
}

func handleMPSTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target := strings.TrimSpace(req.GetString("client", ""))
	callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	c := clientFromRequest(defaultServerURL, req)
	if target != "" {
		res, err := c.Throughput(callCtx, target)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("MPS test failed: %v", err)), nil
		}
		return jsonResult(res)
	}
	stats, err := c.ThroughputAll(callCtx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("MPS test failed: %v", err)), nil
	}
	return jsonResult(stats)
}
