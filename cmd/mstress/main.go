package main

import (
	"fmt"
	"os"
	"strings"

	check "github.com/natssync/mstress/cmd/check"
	client "github.com/natssync/mstress/cmd/client"
	echolet "github.com/natssync/mstress/cmd/echolet"
	mcpcmd "github.com/natssync/mstress/cmd/mcp"
	server "github.com/natssync/mstress/cmd/server"
)

var version = "dev"

func main() {
	os.Exit(dispatch(os.Args[1:]))
}

func dispatch(args []string) int {
	if len(args) == 0 {
		return server.Run(nil, version)
	}

	switch args[0] {
	case "server":
		return server.Run(args[1:], version)
	case "client":
		return client.Run(args[1:], version)
	case "check":
		return check.Run(args[1:], version)
	case "echolet":
		return echolet.Run(args[1:], version)
	case "mcp":
		return mcpcmd.Run(version)
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version":
		fmt.Printf("mstress %s\n", version)
		return 0
	default:
		if strings.HasPrefix(args[0], "-") {
			return server.Run(args, version)
		}
		fmt.Fprintf(os.Stderr, "mstress: unknown command %q\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintf(os.Stdout, `Usage: mstress <command> [args]

Commands:
  server    Run the control plane (default when no command provided)
  client    Drive a running control plane from the shell
  check     Liveness sweep over every directory client
  echolet   Run a reference echo responder
  mcp       Run as MCP server (stdio transport, for AI agents)

Examples:
  mstress server --nats-url nats://localhost:4222 --directory static
  mstress echolet --clients alice,bob
  mstress client flood -n 100 alice bob
  mstress check --json http://localhost:8080
  mstress mcp
`)
}
