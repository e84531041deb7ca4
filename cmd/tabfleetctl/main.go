// Command tabfleetctl is the operator CLI for a running tabfleetd daemon,
// translating subcommands into JSON-RPC calls the same way the teacher's
// gasoline-cmd translates tool/action pairs into MCP tool calls.
//
// Exit codes:
//
//	0 = success
//	1 = command failed (connection error, server error, or tool isError)
//	2 = usage error (bad flag value, missing argument)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/brennhill/tabfleet/cmd/tabfleetctl/commands"
)

var version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	root := commands.NewRootCommand(version)
	err := root.Execute()
	if err == nil {
		return 0
	}

	if errors.Is(err, commands.ErrSilentFailure) {
		return 1
	}

	var opErr *commands.OperationalError
	if errors.As(err, &opErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 2
}
