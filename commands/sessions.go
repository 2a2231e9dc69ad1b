package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/overseer/session"
)

// SessionsCmd lists recorded or active pipeline sessions.
func SessionsCmd(socketPath *string) *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List pipeline sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if active {
				var payload json.RawMessage
				if err := call(*socketPath, "sessions-active", nil, &payload); err != nil {
					return err
				}
				var v any
				if err := json.Unmarshal(payload, &v); err != nil {
					return err
				}
				return printJSON(v)
			}

			var records []session.Record
			if err := call(*socketPath, "sessions-list", nil, &records); err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no sessions recorded")
				return nil
			}
			for _, r := range records {
				outcome := r.FinalVerdict
				if r.Error != "" {
					outcome = "error: " + r.Error
				}
				fmt.Printf("%s  %-25s %-15s stages=%d retries=%d %s\n",
					r.StartedAt.Format("2006-01-02 15:04"),
					r.TriggerName, r.Agent, r.StagesRun, r.Retries, outcome)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "show only currently running pipelines")
	return cmd
}
