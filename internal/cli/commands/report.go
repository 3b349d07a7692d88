package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/reportcast/internal/api/client"
	"github.com/reportcast/internal/models"
	"github.com/spf13/cobra"
)

func NewReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "report",
		Short:   "Report definition commands",
		Aliases: []string{"reports", "r"},
	}

	cmd.AddCommand(newReportListCommand())
	cmd.AddCommand(newReportCreateCommand())

	return cmd
}

func newReportListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List report definitions",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			defs, err := c.ListReports()
			if err != nil {
				return fmt.Errorf("failed to list reports: %w", err)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"ID", "Name", "Source", "Columns", "Conditions"})
			for _, d := range defs {
				tw.AppendRow(table.Row{
					d.ID,
					d.Name,
					d.Filter.Source,
					strings.Join(d.Filter.Columns, ", "),
					len(d.Filter.Conditions),
				})
			}
			tw.Render()
			return nil
		},
	}
}

// newReportCreateCommand reads a definition as JSON from --file.
func newReportCreateCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a report definition from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read definition: %w", err)
			}
			var def models.ReportDefinition
			if err := json.Unmarshal(data, &def); err != nil {
				return fmt.Errorf("failed to parse definition: %w", err)
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			created, err := c.CreateReport(def)
			if err != nil {
				return fmt.Errorf("failed to create report: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Report %d (%s) created\n", created.ID, created.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the JSON definition")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
