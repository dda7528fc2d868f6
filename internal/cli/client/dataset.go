package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/spf13/cobra"
)

type createDatasetRequest struct {
	Name        string `json:"name"`
	VectorModel string `json:"vectorModel,omitempty"`
	QAModel     string `json:"qaModel,omitempty"`
}

type datasetList struct {
	Items   []*domain.Dataset `json:"items"`
	Cursor  string            `json:"cursor,omitempty"`
	HasMore bool              `json:"hasMore"`
}

// DatasetCmd groups dataset management commands.
func DatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dataset",
		Aliases: []string{"datasets"},
		Short:   "Create and inspect datasets",
	}

	cmd.AddCommand(datasetCreateCmd())
	cmd.AddCommand(datasetListCmd())
	cmd.AddCommand(datasetGetCmd())
	return cmd
}

func datasetCreateCmd() *cobra.Command {
	var req createDatasetRequest

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			req.Name = args[0]

			dataset, err := call[domain.Dataset](cmd.Context(), api, http.MethodPost, "/datasets", req)
			if err != nil {
				return fmt.Errorf("create failed: %w", err)
			}
			if wantsJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), dataset)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created dataset %s (%s)\n", dataset.Name, dataset.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Vector model: %s\n", dataset.VectorModel)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.VectorModel, "vector-model", "", "Embedding model (server default when empty)")
	cmd.Flags().StringVar(&req.QAModel, "qa-model", "", "Chat model used for question/answer synthesis")
	return cmd
}

func datasetListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the team's datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if cursor != "" {
				q.Set("cursor", cursor)
			}
			list, err := call[datasetList](cmd.Context(), api, http.MethodGet, "/datasets?"+q.Encode(), nil)
			if err != nil {
				return fmt.Errorf("list failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if wantsJSON(cmd) {
				return printJSON(out, list)
			}
			if len(list.Items) == 0 {
				fmt.Fprintln(out, "No datasets found.")
				return nil
			}
			for _, d := range list.Items {
				fmt.Fprintf(out, "%s\t%s\t%s\n", d.ID, d.Name, d.VectorModel)
			}
			if list.HasMore && list.Cursor != "" {
				fmt.Fprintf(out, "\nMore results available. Use --cursor %s\n", list.Cursor)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")
	return cmd
}

func datasetGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			dataset, err := call[domain.Dataset](cmd.Context(), api, http.MethodGet, "/datasets/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			if wantsJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), dataset)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:           %s\n", dataset.ID)
			fmt.Fprintf(out, "Name:         %s\n", dataset.Name)
			fmt.Fprintf(out, "Vector model: %s\n", dataset.VectorModel)
			if dataset.QAModel != "" {
				fmt.Fprintf(out, "QA model:     %s\n", dataset.QAModel)
			}
			return nil
		},
	}
}
