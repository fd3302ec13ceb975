package main

import (
	"fmt"
	"os"

	"github.com/ethos-works/ethosgraph/internal/cli"
	"github.com/ethos-works/ethosgraph/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ethosgraph",
		Short: "EthosGraph CLI - Concept annotation for ethics case narratives",
		Long: `EthosGraph CLI provides commands to ingest case documents, run concept
extraction, and review the resulting annotations.

Environment variables:
  ETHOSGRAPH_API_KEY   API key for authentication (required)
  ETHOSGRAPH_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.AuthCmd())
	rootCmd.AddCommand(client.DocumentCmd())
	rootCmd.AddCommand(client.ExtractCmd())
	rootCmd.AddCommand(client.QueueCmd())
	rootCmd.AddCommand(client.VersionsCmd())
	rootCmd.AddCommand(client.ApproveCmd())
	rootCmd.AddCommand(client.RejectCmd())
	rootCmd.AddCommand(client.ReopenCmd())
	rootCmd.AddCommand(client.EditCmd())
	rootCmd.AddCommand(client.CommitCmd())
	rootCmd.AddCommand(client.RefreshCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
