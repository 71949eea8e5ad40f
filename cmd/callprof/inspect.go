package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fllarpy/callprof/infrastructure/sink"
)

func newInspectCmd() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "inspect <report.csv>",
		Short: "Print a CSV report as an aligned table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open report: %w", err)
			}
			defer f.Close()

			rows, err := sink.ReadCSV(f)
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}
			if top > 0 && len(rows) > top {
				rows = rows[:top]
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), sink.FormatTable(rows))
			return err
		},
	}

	cmd.Flags().IntVar(&top, "top", 0, "show only the first N rows (0 shows all)")
	return cmd
}
