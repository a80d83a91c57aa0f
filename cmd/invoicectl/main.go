// invoicectl drives the invoice extraction pipeline from the command line:
// parse a single document, run a directory as a batch, reprocess a stored
// submission, inspect templates, or print processing stats.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "invoicectl",
		Short:         "Utility invoice extraction pipeline",
		Long:          "invoicectl ingests utility invoice PDFs, extracts billing fields with provider templates, and persists structured records.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(reprocessCmd())
	rootCmd.AddCommand(templatesCmd())
	rootCmd.AddCommand(statsCmd())

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
