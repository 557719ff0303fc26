package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"streamscan/internal/report"
)

func newReportCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report FILE",
		Short: "Print the stream URLs stored in a saved JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rep, err := report.Load(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if asJSON {
				return report.Save(cmd.OutOrStdout(), rep)
			}
			if rep.Partial {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: report was cut short by the scan deadline")
			}
			return report.WriteText(cmd.OutOrStdout(), rep.URLs())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "re-emit the report as JSON")
	return cmd
}
