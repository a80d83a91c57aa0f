package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/utilitrack/invoice-pipeline/internal/async"
)

func batchCmd() *cobra.Command {
	var (
		provider    string
		serviceType string
	)

	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Parse every PDF in a directory",
		Long:  "Queue every *.pdf in the directory onto the worker pool and report aggregate counts.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			st, err := parseServiceFlag(serviceType)
			if err != nil {
				return err
			}

			entries, err := os.ReadDir(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			var jobs []async.Job
			for _, e := range entries {
				if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
					continue
				}
				doc, err := os.ReadFile(filepath.Join(args[0], e.Name()))
				if err != nil {
					return fmt.Errorf("read %s: %w", e.Name(), err)
				}
				jobs = append(jobs, async.Job{
					SourceRef:   e.Name(),
					Doc:         doc,
					Provider:    provider,
					ServiceType: st,
				})
			}
			if len(jobs) == 0 {
				return fmt.Errorf("no PDF files in %s", args[0])
			}

			batch, err := async.RunBatch(ctx, app.pipe, jobs,
				app.cfg.Pipeline.Workers, app.cfg.Pipeline.ExtractTimeout*2, app.logger)
			if err != nil {
				return err
			}

			cmd.Printf("batch %s: %d documents in %s\n",
				batch.ID, batch.Counts.Total(), batch.FinishedAt.Sub(batch.StartedAt).Round(time.Millisecond))
			cmd.Printf("  validated:    %d\n", batch.Counts.Succeeded)
			cmd.Printf("  needs review: %d\n", batch.Counts.NeedsReview)
			cmd.Printf("  duplicates:   %d\n", batch.Counts.Duplicates)
			cmd.Printf("  failed:       %d\n", batch.Counts.Failed)
			for prov, c := range batch.ByProvider {
				cmd.Printf("  %s: %d ok / %d total\n", prov, c.Succeeded, c.Total())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "provider hint applied to every document (required)")
	cmd.Flags().StringVar(&serviceType, "service", "", "service type hint: electricity | gas | water")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}
