package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/utilitrack/invoice-pipeline/internal/common"
	"github.com/utilitrack/invoice-pipeline/internal/template"
)

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect provider templates",
	}
	cmd.AddCommand(templatesListCmd())
	cmd.AddCommand(templatesValidateCmd())
	return cmd
}

func templatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded templates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			for _, t := range app.registry.Templates() {
				required := 0
				for _, f := range t.Fields {
					if f.Required {
						required++
					}
				}
				cmd.Printf("%-24s %-12s v%-6s %d fields (%d required)\n",
					t.Provider, t.ServiceType, t.Version, len(t.Fields), required)
			}
			return nil
		},
	}
}

// templatesValidateCmd parses template files without touching the store, so
// a template author can check work before dropping it into the live dir.
func templatesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.json>...",
		Short: "Validate template files without loading them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			common.SetupLogger(slog.LevelWarn, "text")

			failed := 0
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					cmd.Printf("FAIL %s: %v\n", path, err)
					failed++
					continue
				}
				t, err := template.Parse(raw)
				if err != nil {
					cmd.Printf("FAIL %s: %v\n", path, err)
					failed++
					continue
				}
				cmd.Printf("ok   %s: %s %s, %d fields\n", path, t.Provider, t.ServiceType, len(t.Fields))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d templates invalid", failed, len(args))
			}
			return nil
		},
	}
}
