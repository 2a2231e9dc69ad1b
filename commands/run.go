package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/overseer/ipc"
)

// RunCmd queues an ad-hoc agent run.
func RunCmd(socketPath *string) *cobra.Command {
	var (
		agentName string
		project   string
		task      string
		mode      string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Queue an agent run against a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ra := ipc.RunArgs{Agent: agentName, Project: project, Task: task, Mode: mode}
			if err := call(*socketPath, "run", ra, nil); err != nil {
				return err
			}
			fmt.Printf("queued %s against %s\n", agentName, project)
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "team-lead", "agent label to run")
	cmd.Flags().StringVarP(&project, "project", "p", "", "project name or path")
	cmd.Flags().StringVarP(&task, "task", "t", "", "task prompt")
	cmd.Flags().StringVarP(&mode, "mode", "m", "standalone", "execution mode (standalone, team)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}
