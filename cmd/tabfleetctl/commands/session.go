package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/brennhill/tabfleet/cmd/tabfleetctl/config"
	"github.com/brennhill/tabfleet/cmd/tabfleetctl/output"
)

func newSessionCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, list, and delete sessions",
	}
	cmd.AddCommand(newSessionCreateCommand(cfg), newSessionListCommand(cfg), newSessionDeleteCommand(cfg))
	return cmd
}

func newSessionCreateCommand(cfg *config.Config) *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, formatter, err := dial(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			resp, callErr := client.Call("sessions/create", map[string]any{"id": id, "name": name})
			result := &output.Result{Command: "session", Action: "create"}
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
	cmd.Flags().StringVar(&id, "id", "", "explicit session id (random if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "human-readable session name")
	return cmd
}

func newSessionListCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, formatter, err := dial(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			resp, callErr := client.Call("sessions/list", nil)
			result := &output.Result{Command: "session", Action: "list"}
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

func newSessionDeleteCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, formatter, err := dial(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			resp, callErr := client.Call("sessions/delete", map[string]any{"id": args[0]})
			result := &output.Result{Command: "session", Action: "delete"}
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
