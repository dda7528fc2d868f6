package client

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/spf13/cobra"
)

type searchRequest struct {
	DatasetIDs    []string `json:"datasetIds"`
	CollectionIDs []string `json:"collectionIds,omitempty"`
	Text          string   `json:"text"`
	Similarity    float64  `json:"similarity,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	MaxTokens     int      `json:"maxTokens,omitempty"`
}

// SearchCmd creates the search command.
func SearchCmd() *cobra.Command {
	var (
		req        searchRequest
		promptOnly bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search datasets",
		Long:  "Runs a similarity search over one or more datasets and prints the matches that fit the token budget.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			req.Text = strings.Join(args, " ")

			resp, err := call[domain.SearchResponse](cmd.Context(), api, http.MethodPost, "/search", req)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			out := cmd.OutOrStdout()
			switch {
			case wantsJSON(cmd):
				return printJSON(out, resp)
			case promptOnly:
				fmt.Fprintln(out, resp.QuotePrompt)
				return nil
			}
			printMatches(cmd, resp)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&req.DatasetIDs, "dataset", "d", nil, "Dataset ID to search (repeatable, required)")
	cmd.Flags().StringSliceVarP(&req.CollectionIDs, "collection", "c", nil, "Restrict to these collections (repeatable)")
	cmd.Flags().Float64Var(&req.Similarity, "similarity", 0, "Minimum score in [-1, 1]")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 0, "Maximum number of matches (server default when 0)")
	cmd.Flags().IntVar(&req.MaxTokens, "max-tokens", 0, "Token budget of the quote prompt (server default when 0)")
	cmd.Flags().BoolVar(&promptOnly, "prompt", false, "Print only the quote prompt")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

func printMatches(cmd *cobra.Command, resp *domain.SearchResponse) {
	out := cmd.OutOrStdout()
	if resp.IsEmpty || len(resp.Matches) == 0 {
		fmt.Fprintln(out, "No results found.")
		return
	}

	fmt.Fprintf(out, "Found %d results (%d tokens):\n\n", len(resp.Matches), resp.TokensUsed)
	for i, m := range resp.Matches {
		fmt.Fprintf(out, "%d. %s (%.3f)\n", i+1, truncate(m.Q, 100), m.Score)
		if m.A != "" {
			fmt.Fprintf(out, "   %s\n", truncate(m.A, 100))
		}
		if m.Source != "" {
			fmt.Fprintf(out, "   Source: %s\n", m.Source)
		}
		fmt.Fprintf(out, "   ID: %s  Collection: %s\n", m.ID, m.CollectionID)
		if i < len(resp.Matches)-1 {
			fmt.Fprintln(out, strings.Repeat("-", 40))
		}
	}
}
