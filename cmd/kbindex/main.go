package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cloo-solutions/kbindex/internal/cli"
	"github.com/cloo-solutions/kbindex/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "kbindex",
		Short: "kbindex CLI - dataset training and search",
		Long: `kbindex CLI queues content for training, manages datasets and searches them.

Environment variables:
  KBINDEX_API_KEY   API key for authentication (required)
  KBINDEX_API_URL   API base URL (default: http://localhost:8080)`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	client.AddRootFlags(rootCmd)
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.DatasetCmd())
	rootCmd.AddCommand(client.PushCmd())
	rootCmd.AddCommand(client.SearchCmd())
	rootCmd.AddCommand(client.RebuildCmd())
	rootCmd.AddCommand(client.StatusCmd())
	rootCmd.AddCommand(client.DeleteCmd())

	cli.CheckHelpJSON(rootCmd, os.Args[1:])
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
