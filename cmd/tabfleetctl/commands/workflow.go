package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/brennhill/tabfleet/cmd/tabfleetctl/config"
	"github.com/brennhill/tabfleet/cmd/tabfleetctl/output"
	"github.com/brennhill/tabfleet/cmd/tabfleetctl/rpcclient"
)

func newWorkflowCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Initialize, poll, and clean up parallel workflows",
	}
	cmd.AddCommand(
		newWorkflowInitCommand(cfg),
		newWorkflowStatusCommand(cfg),
		newWorkflowResultsCommand(cfg),
		newWorkflowCleanupCommand(cfg),
	)
	return cmd
}

// step is one "--step id:name:url" flag value.
type step struct {
	id, name, url string
}

func parseStep(raw string) (step, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return step{}, fmt.Errorf("--step must be id:name:url, got %q", raw)
	}
	return step{id: parts[0], name: parts[1], url: parts[2]}, nil
}

func newWorkflowInitCommand(cfg *config.Config) *cobra.Command {
	var sessionID, name string
	var rawSteps []string
	var timeoutMs, globalTimeoutMs int64
	var stream bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Start a parallel workflow of workers, one per --step",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(rawSteps) == 0 {
				return fmt.Errorf("at least one --step id:name:url is required")
			}
			steps := make([]map[string]any, 0, len(rawSteps))
			for _, raw := range rawSteps {
				s, err := parseStep(raw)
				if err != nil {
					return err
				}
				steps = append(steps, map[string]any{
					"workerId":   s.id,
					"workerName": s.name,
					"url":        s.url,
				})
			}

			client, formatter, err := dial(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			params := map[string]any{
				"sessionId":       sessionID,
				"name":            name,
				"steps":           steps,
				"timeoutMs":       timeoutMs,
				"globalTimeoutMs": globalTimeoutMs,
			}
			resp, callErr := client.Call("workflow/init", params)
			result := &output.Result{Command: "workflow", Action: "init"}
			if callErr != nil {
				result.Error = callErr.Error()
				return report(formatter, result)
			}
			var data map[string]any
			_ = json.Unmarshal(resp.Result, &data)
			result.Success = true
			result.Data = data

			if stream {
				orchestrationID, _ := data["orchestrationId"].(string)
				return streamWorkflowStatus(client, orchestrationID)
			}
			return report(formatter, result)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id the workers belong to (required)")
	cmd.Flags().StringVar(&name, "name", "", "workflow name")
	cmd.Flags().StringArrayVar(&rawSteps, "step", nil, "id:name:url, repeatable — one per worker")
	cmd.Flags().Int64Var(&timeoutMs, "worker-timeout-ms", 0, "per-worker timeout override")
	cmd.Flags().Int64Var(&globalTimeoutMs, "global-timeout-ms", 0, "whole-workflow timeout override")
	cmd.Flags().BoolVar(&stream, "stream", false, "poll workflow/status and print newline-delimited JSON progress")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// streamWorkflowStatus polls workflow/status every 500ms, printing one
// newline-delimited JSON line per poll, until the orchestration reports
// allDone or the poll itself errors.
func streamWorkflowStatus(client *rpcclient.Client, orchestrationID string) error {
	for {
		resp, err := client.Call("workflow/status", nil)
		if err != nil {
			return err
		}

		var snapshot struct {
			OrchestrationID string `json:"orchestrationId"`
			Status          string `json:"status"`
			Completed       int    `json:"completed"`
			Failed          int    `json:"failed"`
			Total           int    `json:"total"`
			AllDone         bool   `json:"allDone"`
		}
		if err := json.Unmarshal(resp.Result, &snapshot); err != nil {
			return fmt.Errorf("decode workflow/status: %w", err)
		}

		line, _ := json.Marshal(snapshot)
		fmt.Fprintln(os.Stdout, string(line))

		if snapshot.AllDone {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func newWorkflowStatusCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the most recent workflow's aggregate status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, formatter, err := dial(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			resp, callErr := client.Call("workflow/status", nil)
			result := &output.Result{Command: "workflow", Action: "status"}
			if callErr != nil {
				result.Error = callErr.Error()
			} else {
				result.Success = true
				var data map[string]any
				_ = json.Unmarshal(resp.Result, &data)
				result.Data = data
			}
			return report(formatter, result)
		},
	}
}

func newWorkflowResultsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results <orchestration-id>",
		Short: "Collect per-worker results for a completed or in-flight workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, formatter, err := dial(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			resp, callErr := client.Call("workflow/results", map[string]any{"orchestrationId": args[0]})
			result := &output.Result{Command: "workflow", Action: "results"}
			if callErr != nil {
				result.Error = callErr.Error()
			} else {
				result.Success = true
				var data map[string]any
				_ = json.Unmarshal(resp.Result, &data)
				result.Data = data
			}
			return report(formatter, result)
		},
	}
	return cmd
}

func newWorkflowCleanupCommand(cfg *config.Config) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Tear down a session's workflow workers and scratchpad state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, formatter, err := dial(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			resp, callErr := client.Call("workflow/cleanup", map[string]any{"sessionId": sessionID})
			result := &output.Result{Command: "workflow", Action: "cleanup"}
			if callErr != nil {
				result.Error = callErr.Error()
			} else {
				result.Success = true
				var data map[string]any
				_ = json.Unmarshal(resp.Result, &data)
				result.Data = data
			}
			return report(formatter, result)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id whose workflow to clean up (required)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
