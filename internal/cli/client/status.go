package client

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/spf13/cobra"
)

type countResult struct {
	Count int64 `json:"count"`
}

// StatusCmd shows the training queue of a dataset.
func StatusCmd() *cobra.Command {
	var datasetID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the training status of a dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			path := "/datasets/" + url.PathEscape(datasetID) + "/training/status"
			status, err := call[domain.TrainingStatus](cmd.Context(), api, http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if wantsJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), status)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dataset:    %s (%s)\n", status.DatasetID, status.VectorModel)
			fmt.Fprintf(out, "Pending:    %d\n", status.Pending)
			fmt.Fprintf(out, "Running:    %d\n", status.Claimed)
			fmt.Fprintf(out, "Failed:     %d\n", status.Failed)
			fmt.Fprintf(out, "Chunks:     %d\n", status.DataCount)
			if status.Rebuilding > 0 {
				paused := ""
				if status.RebuildPaused {
					paused = " (paused)"
				}
				fmt.Fprintf(out, "Rebuilding: %d%s\n", status.Rebuilding, paused)
			}
			if status.LastError != "" {
				fmt.Fprintf(out, "Last error: %s\n", status.LastError)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&datasetID, "dataset", "d", "", "Dataset ID (required)")
	_ = cmd.MarkPersistentFlagRequired("dataset")

	cmd.AddCommand(queueActionCmd("retry", "Requeue failed jobs", http.MethodPost, "/training/retry", "requeued", &datasetID))
	cmd.AddCommand(queueActionCmd("cancel", "Drop queued jobs no worker holds", http.MethodDelete, "/training", "cancelled", &datasetID))
	return cmd
}

func queueActionCmd(use, short, method, suffix, verb string, datasetID *string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			res, err := call[countResult](cmd.Context(), api, method, "/datasets/"+url.PathEscape(*datasetID)+suffix, nil)
			if err != nil {
				return fmt.Errorf("%s failed: %w", use, err)
			}
			if wantsJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d jobs %s\n", res.Count, verb)
			return nil
		},
	}
}
