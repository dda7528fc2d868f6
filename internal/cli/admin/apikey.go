package admin

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/service"
	"github.com/spf13/cobra"
)

func APIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "Generate API keys and inspect the keys loaded from KBINDEX_API_KEYS",
	}

	cmd.AddCommand(APIKeyGenerateCmd())
	cmd.AddCommand(APIKeyListCmd())

	return cmd
}

func APIKeyGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new API key for a team",
		Long: `Generate a random API key and print the KBINDEX_API_KEYS entry that binds it to a team.
Keys are not stored anywhere: add the entry to the daemon environment and restart it.`,
		RunE: runAPIKeyGenerate,
	}

	cmd.Flags().StringP("team", "t", "", "Team ID the key authenticates as (required)")
	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("team")

	return cmd
}

func runAPIKeyGenerate(cmd *cobra.Command, args []string) error {
	team, _ := cmd.Flags().GetString("team")
	outputFormat, _ := cmd.Flags().GetString("output")

	team = strings.TrimSpace(team)
	if team == "" || strings.ContainsAny(team, ":,") {
		return fmt.Errorf("team must be non-empty and must not contain ':' or ','")
	}

	token, err := service.GenerateAPIToken()
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"team":  team,
			"token": token,
			"entry": token + ":" + team,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(jsonBytes))
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API key generated for team %s\n", team)
	fmt.Fprintf(out, "Token: %s\n", token)
	fmt.Fprintf(out, "\nAdd this entry to KBINDEX_API_KEYS (comma separated):\n  %s:%s\n", token, team)
	return nil
}

func APIKeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the teams that have API keys configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			outputFormat, _ := cmd.Flags().GetString("output")
			return printKeyTeams(cmd, cfg.APIKeys, outputFormat)
		},
	}

	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	return cmd
}

// printKeyTeams shows each team with its key count and a masked token prefix.
func printKeyTeams(cmd *cobra.Command, keys map[string]string, outputFormat string) error {
	teams := map[string][]string{}
	for token, team := range keys {
		teams[team] = append(teams[team], maskToken(token))
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		jsonBytes, _ := json.MarshalIndent(teams, "", "  ")
		fmt.Fprintln(out, string(jsonBytes))
		return nil
	}
	if len(teams) == 0 {
		fmt.Fprintln(out, "No API keys configured")
		return nil
	}
	for team, tokens := range teams {
		fmt.Fprintf(out, "%s\t%d key(s)\t%s\n", team, len(tokens), strings.Join(tokens, ", "))
	}
	return nil
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:8] + "…"
}
