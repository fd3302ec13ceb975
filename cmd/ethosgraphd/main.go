package main

import (
	"fmt"
	"os"

	"github.com/ethos-works/ethosgraph/internal/cli"
	"github.com/ethos-works/ethosgraph/internal/cli/admin"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ethosgraphd",
		Short: "EthosGraph daemon and admin CLI",
		Long:  "EthosGraph daemon for running the annotation API server and managing the ontology entity cache",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.SyncHierarchyCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
