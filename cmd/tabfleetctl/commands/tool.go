package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brennhill/tabfleet/cmd/tabfleetctl/config"
	"github.com/brennhill/tabfleet/cmd/tabfleetctl/output"
)

func newToolCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "List registered tools and call them directly",
	}
	cmd.AddCommand(newToolListCommand(cfg), newToolCallCommand(cfg))
	return cmd
}

func newToolListCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every tool the daemon has registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, formatter, err := dial(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			resp, callErr := client.Call("tools/list", nil)
			result := &output.Result{Command: "tool", Action: "list"}
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

func newToolCallCommand(cfg *config.Config) *cobra.Command {
	var sessionID, argsJSON string
	cmd := &cobra.Command{
		Use:   "call <tool-name>",
		Short: "Call one tool with a JSON arguments object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arguments map[string]any
			if strings.TrimSpace(argsJSON) != "" {
				if err := json.Unmarshal([]byte(argsJSON), &arguments); err != nil {
					return fmt.Errorf("--args must be a JSON object: %w", err)
				}
			}

			client, formatter, err := dial(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			toolResult, callErr := client.CallTool(sessionID, args[0], arguments)
			result := &output.Result{Command: "tool", Action: args[0]}
			if callErr != nil {
				result.Error = callErr.Error()
				return report(formatter, result)
			}

			result.Success = !toolResult.IsError
			var parts []string
			for _, block := range toolResult.Content {
				parts = append(parts, block.Text)
			}
			result.TextContent = strings.Join(parts, "\n")
			if toolResult.IsError {
				result.Error = result.TextContent
			}
			return report(formatter, result)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to run the tool against")
	cmd.Flags().StringVar(&argsJSON, "args", "", "JSON object of tool arguments")
	return cmd
}
