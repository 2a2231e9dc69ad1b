package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/c360studio/overseer/ipc"
	"github.com/c360studio/overseer/project"
)

// ProjectsCmd manages the project registry.
func ProjectsCmd(socketPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage registered projects",
	}
	cmd.AddCommand(projectsListCmd(socketPath))
	cmd.AddCommand(projectsAddCmd(socketPath))
	cmd.AddCommand(projectsRemoveCmd(socketPath))
	return cmd
}

func projectsListCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			var projects []project.Project
			if err := call(*socketPath, "projects-list", nil, &projects); err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Println("no projects registered")
				return nil
			}
			for _, p := range projects {
				name := p.Name
				if name == "" {
					name = "-"
				}
				last := "never"
				if p.LastSession != nil {
					last = p.LastSession.Format("2006-01-02 15:04")
				}
				fmt.Printf("%-20s %-50s last session: %s\n", name, p.Path, last)
			}
			return nil
		},
	}
}

func projectsAddCmd(socketPath *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Register a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if err := call(*socketPath, "projects-add", ipc.ProjectArgs{Path: path, Name: name}, nil); err != nil {
				return err
			}
			fmt.Printf("registered %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "short project name")
	return cmd
}

func projectsRemoveCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name-or-path>",
		Short: "Unregister a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call(*socketPath, "projects-remove", ipc.ProjectArgs{Name: args[0]}, nil); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
}
