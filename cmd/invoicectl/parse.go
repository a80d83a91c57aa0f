package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/pipeline"
)

func parseCmd() *cobra.Command {
	var (
		provider    string
		serviceType string
		sourceRef   string
	)

	cmd := &cobra.Command{
		Use:   "parse <file.pdf>",
		Short: "Parse one invoice document",
		Long:  "Run a single PDF through extraction, template matching, validation, and persistence.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			st, err := parseServiceFlag(serviceType)
			if err != nil {
				return err
			}
			if sourceRef == "" {
				sourceRef = filepath.Base(args[0])
			}

			res, err := app.pipe.Parse(ctx, doc, pipeline.Hint{
				Provider:    provider,
				ServiceType: st,
				SourceRef:   sourceRef,
			})
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "provider hint, e.g. \"AGL\" (required)")
	cmd.Flags().StringVar(&serviceType, "service", "", "service type hint: electricity | gas | water")
	cmd.Flags().StringVar(&sourceRef, "source-ref", "", "stable reference for the document (default: file name)")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func parseServiceFlag(s string) (constants.ServiceType, error) {
	if s == "" {
		return "", nil
	}
	st, ok := constants.ParseServiceType(s)
	if !ok {
		return "", fmt.Errorf("unknown service type %q (want electricity, gas, or water)", s)
	}
	return st, nil
}

func printResult(cmd *cobra.Command, res *pipeline.Result) {
	if res.Duplicate {
		cmd.Printf("duplicate: already processed (run %s)\n", res.RunID)
		return
	}
	inv := res.Invoice
	cmd.Printf("status:      %s\n", inv.Status)
	cmd.Printf("provider:    %s (%s)\n", inv.Provider, inv.ServiceType)
	cmd.Printf("confidence:  %.2f\n", inv.Confidence)
	cmd.Printf("ocr method:  %s (reliability %.2f)\n", res.Text.Method, res.Text.Reliability)
	for _, f := range res.Record.Fields {
		mark := " "
		switch {
		case !f.Found:
			mark = "-"
		case !f.Parsed || !f.Valid:
			mark = "!"
		}
		cmd.Printf("  %s %-22s %s\n", mark, f.Name, f.Display)
	}
	for _, issue := range res.Record.Issues {
		cmd.Printf("issue: %s\n", issue)
	}
}
