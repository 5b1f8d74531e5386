package main

import (
	"context"

	"github.com/spf13/cobra"
)

// Execute runs the tradegate CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "tradegate",
		Short: "Signal ingestion and order-lifecycle engine",
	}
	root.AddCommand(serveCmd())
	return root.ExecuteContext(ctx)
}
