package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/lightrag/internal/cli"
	"github.com/cloo-solutions/lightrag/internal/cli/daemon"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lightragd",
		Short: "LightRAG document service",
		Long:  "lightragd indexes uploaded documents and answers questions about them over HTTP.",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(daemon.ServeCmd())
	rootCmd.AddCommand(daemon.HealthCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
