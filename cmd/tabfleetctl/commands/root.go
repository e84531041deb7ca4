// Package commands implements tabfleetctl's cobra command tree: one
// subcommand per dispatcher RPC method, translating flags into JSON-RPC
// params and printing the response through the selected output.Formatter.
package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/brennhill/tabfleet/cmd/tabfleetctl/config"
	"github.com/brennhill/tabfleet/cmd/tabfleetctl/output"
	"github.com/brennhill/tabfleet/cmd/tabfleetctl/rpcclient"
	"github.com/brennhill/tabfleet/internal/bridge"
)

// NewRootCommand builds the full tabfleetctl command tree.
func NewRootCommand(version string) *cobra.Command {
	cfg := config.Load()

	root := &cobra.Command{
		Use:           "tabfleetctl",
		Short:         "Control a running tabfleetd daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfg.Addr, "addr", cfg.Addr, "tabfleetd websocket RPC address")
	root.PersistentFlags().StringVar(&cfg.Format, "format", cfg.Format, "output format: human, json, or csv")
	root.PersistentFlags().IntVar(&cfg.TimeoutMs, "timeout", cfg.TimeoutMs, "request timeout in milliseconds")

	root.AddCommand(
		newSessionCommand(&cfg),
		newWorkflowCommand(&cfg),
		newToolCommand(&cfg),
		newHealthCommand(&cfg),
	)
	return root
}

// newHealthCommand probes tabfleetd's HTTP /health endpoint, waiting up to
// --wait for the daemon to come up before giving up. Useful right after
// launching tabfleetd in the background, when the websocket RPC port isn't
// listening yet.
func newHealthCommand(cfg *config.Config) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check whether tabfleetd is accepting connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := cfg.HealthPort()
			if err != nil {
				return &OperationalError{err}
			}
			var up bool
			if wait > 0 {
				up = bridge.WaitForServer(port, wait)
			} else {
				up = bridge.IsServerRunning(port)
			}
			if !up {
				fmt.Fprintf(os.Stdout, "tabfleetd is not responding on port %d\n", port)
				return ErrSilentFailure
			}
			fmt.Fprintf(os.Stdout, "tabfleetd is healthy on port %d\n", port)
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "poll until tabfleetd responds or this duration elapses")
	return cmd
}

// dial connects to the daemon named by cfg.Addr, validating cfg.Format
// first since every subcommand needs a formatter before it can report
// even a connection failure. Failures here are operational (exit 1), not
// usage errors (exit 2), so they're wrapped in OperationalError.
func dial(cfg *config.Config) (*rpcclient.Client, output.Formatter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, &OperationalError{err}
	}
	formatter := output.GetFormatter(cfg.Format)
	client, err := rpcclient.Dial(cfg.Addr, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	if err != nil {
		if bridge.IsConnectionError(err) {
			return nil, formatter, &OperationalError{fmt.Errorf("tabfleetd is not reachable at %s (is it running?): %w", cfg.Addr, err)}
		}
		return nil, formatter, &OperationalError{err}
	}
	return client, formatter, nil
}

// report formats result and writes it to stdout, returning a non-nil error
// when the command itself should exit non-zero.
func report(formatter output.Formatter, result *output.Result) error {
	if err := formatter.Format(os.Stdout, result); err != nil {
		return &OperationalError{fmt.Errorf("format output: %w", err)}
	}
	if !result.Success {
		return ErrSilentFailure
	}
	return nil
}

// ErrSilentFailure signals "exit 1, nothing more to print" — the failure
// itself was already written to stdout by the formatter.
var ErrSilentFailure = fmt.Errorf("command reported failure")

// OperationalError marks an error as a runtime failure (connection refused,
// server error, malformed response) rather than a cobra usage error (bad
// flags, wrong argument count), so main can choose exit code 1 over 2.
type OperationalError struct{ Err error }

func (e *OperationalError) Error() string { return e.Err.Error() }
func (e *OperationalError) Unwrap() error { return e.Err }
