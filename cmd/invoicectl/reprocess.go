package main

import (
	"github.com/spf13/cobra"
)

func reprocessCmd() *cobra.Command {
	var (
		provider    string
		serviceType string
	)

	cmd := &cobra.Command{
		Use:   "reprocess <source-ref>",
		Short: "Re-run the pipeline against a stored document",
		Long: `Re-run extraction against the original bytes of an earlier submission,
typically after a template fix. Hints stored with the source are used
unless overridden.`,
		Args: cobra.ExactArgs(1),
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

			res, err := app.pipe.Reprocess(ctx, args[0], provider, st)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "override the stored provider hint")
	cmd.Flags().StringVar(&serviceType, "service", "", "override the stored service type hint")
	return cmd
}
