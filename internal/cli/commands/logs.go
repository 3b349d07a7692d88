package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/reportcast/internal/api/client"
	"github.com/spf13/cobra"
)

func NewLogsCommand() *cobra.Command {
	var (
		scheduleID uint
		limit      int
	)

	cmd := &cobra.Command{
		Use:     "logs",
		Short:   "Show execution logs, newest first",
		Aliases: []string{"log", "l"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			entries, err := c.ListLogs(scheduleID, limit)
			if err != nil {
				return fmt.Errorf("failed to list logs: %w", err)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"ID", "Schedule", "Status", "Kind", "Recipients", "Duration", "Time", "Error"})
			for _, e := range entries {
				tw.AppendRow(table.Row{
					e.ID,
					e.ScheduleID,
					e.Status,
					e.ErrorKind,
					e.RecipientCount,
					(time.Duration(e.DurationMs) * time.Millisecond).String(),
					e.CreatedAt.Local().Format(time.RFC3339),
					e.Error,
				})
			}
			tw.Render()
			return nil
		},
	}

	cmd.Flags().UintVar(&scheduleID, "schedule", 0, "Only show logs for this schedule")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries")
	return cmd
}
