package main

import (
	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print processing statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			stats, err := app.pipe.Stats(cmd.Context())
			if err != nil {
				return err
			}

			cmd.Printf("runs:                 %d\n", stats.TotalRuns)
			cmd.Printf("validated:            %d\n", stats.Successful)
			cmd.Printf("avg ocr reliability:  %.2f\n", stats.AvgOCRReliability)
			cmd.Printf("avg confidence:       %.2f\n", stats.AvgParsingConfidence)
			for prov, ps := range stats.ByProvider {
				cmd.Printf("  %-24s %d ok / %d runs, avg confidence %.2f\n",
					prov, ps.Successful, ps.Total, ps.AvgConfidence)
			}
			return nil
		},
	}
}
