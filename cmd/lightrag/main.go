package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/lightrag/internal/cli"
	"github.com/cloo-solutions/lightrag/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "lightrag",
		Short: "LightRAG CLI - upload documents and ask questions about them",
		Long: `lightrag talks to a running lightragd server.

Environment variables:
  LIGHTRAG_API_URL     API base URL (default: http://localhost:8080)
  LIGHTRAG_API_TOKEN   Bearer token, when the server requires one`,
		Version:      version,
		SilenceUsage: true,
	}

	client.RootFlags(rootCmd)
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.UploadCmd())
	rootCmd.AddCommand(client.ListCmd())
	rootCmd.AddCommand(client.QueryCmd())
	rootCmd.AddCommand(client.DeleteCmd())
	rootCmd.AddCommand(client.ModelCmd())
	rootCmd.AddCommand(client.ConfigCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
