package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/reportcast/internal/api/client"
	"github.com/reportcast/internal/models"
	"github.com/spf13/cobra"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Short:   "Schedule management commands",
		Aliases: []string{"schedules", "s"},
	}

	cmd.AddCommand(newScheduleListCommand())
	cmd.AddCommand(newScheduleGetCommand())
	cmd.AddCommand(newScheduleCreateCommand())
	cmd.AddCommand(newScheduleDeleteCommand())
	cmd.AddCommand(newScheduleToggleCommand("enable", true))
	cmd.AddCommand(newScheduleToggleCommand("disable", false))
	cmd.AddCommand(newScheduleRunCommand())

	return cmd
}

func newScheduleListCommand() *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List schedules",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			var active *bool
			if activeOnly {
				active = &activeOnly
			}
			schedules, err := c.ListSchedules(active)
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"ID", "Report", "Cadence", "Recipients", "Active", "Next Run", "Last Sent"})
			for _, s := range schedules {
				tw.AppendRow(table.Row{
					s.ID,
					s.ReportID,
					cadence(&s),
					strings.Join(s.Recipients, ", "),
					s.Active,
					s.NextRun.Local().Format(time.RFC3339),
					formatOptional(s.LastSentAt),
				})
			}
			tw.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only show active schedules")
	return cmd
}

func newScheduleGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [schedule_id]",
		Short: "Show a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			s, err := c.GetSchedule(id)
			if err != nil {
				return fmt.Errorf("failed to get schedule: %w", err)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendRows([]table.Row{
				{"ID", s.ID},
				{"Report", s.ReportID},
				{"Cadence", cadence(s)},
				{"Timezone", s.Timezone},
				{"Recipients", strings.Join(s.Recipients, "\n")},
				{"Active", s.Active},
				{"Next Run", s.NextRun.Local().Format(time.RFC3339)},
				{"Last Sent", formatOptional(s.LastSentAt)},
			})
			tw.Render()
			return nil
		},
	}
}

func newScheduleCreateCommand() *cobra.Command {
	var (
		in       client.ScheduleInput
		freq     string
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			in.Frequency = models.Frequency(strings.ToLower(freq))
			if inactive {
				active := false
				in.Active = &active
			}
			s, err := c.CreateSchedule(in)
			if err != nil {
				return fmt.Errorf("failed to create schedule: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d created, next run at %s\n", s.ID, s.NextRun.Local().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().UintVar(&in.ReportID, "report", 0, "Report definition ID")
	cmd.Flags().StringVar(&freq, "frequency", "daily", "Cadence (daily/weekly/monthly)")
	cmd.Flags().StringVar(&in.TimeOfDay, "at", "09:00", "Time of day (HH:MM)")
	cmd.Flags().IntVar(&in.DayOfWeek, "day-of-week", 0, "Day of week for weekly schedules (1=Monday ... 7=Sunday)")
	cmd.Flags().IntVar(&in.DayOfMonth, "day-of-month", 0, "Day of month for monthly schedules (1-31)")
	cmd.Flags().StringVar(&in.Timezone, "timezone", "", "IANA timezone, defaults to the server's")
	cmd.Flags().StringSliceVar(&in.Recipients, "to", nil, "Recipient email address (repeatable)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Create the schedule disabled")
	_ = cmd.MarkFlagRequired("report")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func newScheduleDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete [schedule_id]",
		Short:   "Delete a schedule",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			if err := c.DeleteSchedule(id); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d deleted\n", id)
			return nil
		},
	}
}

func newScheduleToggleCommand(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [schedule_id]",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			if err := c.SetScheduleActive(id, active); err != nil {
				return fmt.Errorf("failed to %s schedule: %w", use, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d %sd\n", id, use)
			return nil
		},
	}
}

func newScheduleRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run [schedule_id]",
		Short: "Run a schedule now and advance it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			res, err := c.RunSchedule(id)
			if err != nil {
				return fmt.Errorf("failed to run schedule: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s finished in %s: %s\n", res.RunID, res.Duration, res.State)
			if res.Error != "" {
				fmt.Fprintf(out, "  failed while %s: %s\n", res.FailedAt, res.Error)
			}
			if res.AdvanceError != "" {
				fmt.Fprintf(out, "  advance failed: %s\n", res.AdvanceError)
			}
			if !res.NextRun.IsZero() {
				fmt.Fprintf(out, "  next run at %s\n", res.NextRun.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func cadence(s *models.Schedule) string {
	switch s.Frequency {
	case models.FrequencyWeekly:
		return fmt.Sprintf("weekly on %s at %s", time.Weekday(s.DayOfWeek%7), s.TimeOfDay)
	case models.FrequencyMonthly:
		return fmt.Sprintf("monthly on day %d at %s", s.DayOfMonth, s.TimeOfDay)
	default:
		return fmt.Sprintf("%s at %s", s.Frequency, s.TimeOfDay)
	}
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q", arg)
	}
	return uint(id), nil
}
