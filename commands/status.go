package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// StatusCmd reports daemon health and counters.
func StatusCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status json.RawMessage
			if err := call(*socketPath, "status", nil, &status); err != nil {
				return err
			}
			var v any
			if err := json.Unmarshal(status, &v); err != nil {
				return err
			}
			return printJSON(v)
		},
	}
}
