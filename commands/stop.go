package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// StopCmd asks the daemon to shut down. An in-flight pipeline finishes
// before the process exits.
func StopCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call(*socketPath, "shutdown", nil, nil); err != nil {
				return err
			}
			fmt.Println("daemon stopping")
			return nil
		},
	}
}
