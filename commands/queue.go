package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/overseer/queue"
)

// QueueCmd lists the deferred work queue.
func QueueCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List queued work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []queue.Item
			if err := call(*socketPath, "queue-list", nil, &items); err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("queue is empty")
				return nil
			}
			for i, item := range items {
				fmt.Printf("%2d. %-25s %-15s %s (%s)\n",
					i+1, item.TriggerName, item.Agent, item.ProjectPath, item.Mode)
			}
			return nil
		},
	}
}
