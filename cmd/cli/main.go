package main

import (
	"fmt"
	"os"

	"github.com/reportcast/internal/cli/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reportcast",
	Short: "ReportCast CLI - manage scheduled report deliveries",
	Long: `ReportCast CLI talks to the reportcast daemon's API.
It manages delivery schedules and report definitions and shows execution logs.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(commands.NewScheduleCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
	rootCmd.AddCommand(commands.NewLogsCommand())
	rootCmd.AddCommand(commands.NewTokenCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
