package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

type rebuildResult struct {
	DatasetID     string `json:"datasetId"`
	PreviousModel string `json:"previousModel"`
	Model         string `json:"model"`
	Rebuilding    int64  `json:"rebuilding"`
}

type rebuildState struct {
	DatasetID     string `json:"datasetId"`
	RebuildPaused bool   `json:"rebuildPaused"`
}

// RebuildCmd switches a dataset to another embedding model.
func RebuildCmd() *cobra.Command {
	var datasetID, model string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed a dataset with another model",
		Long: `Switch a dataset to another embedding model. Every stored chunk is re-embedded in
the background; the request is refused while training or another rebuild is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			path := "/datasets/" + url.PathEscape(datasetID) + "/rebuild"
			res, err := call[rebuildResult](cmd.Context(), api, http.MethodPost, path, map[string]string{"model": model})
			if err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
					return fmt.Errorf("rebuild refused (%s): %s", apiErr.Reason, apiErr.Message)
				}
				return fmt.Errorf("rebuild failed: %w", err)
			}

			if wantsJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rebuilding %d chunks of %s: %s -> %s\n",
				res.Rebuilding, res.DatasetID, res.PreviousModel, res.Model)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&datasetID, "dataset", "d", "", "Dataset ID (required)")
	_ = cmd.MarkPersistentFlagRequired("dataset")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Target embedding model (required)")
	_ = cmd.MarkFlagRequired("model")

	cmd.AddCommand(rebuildToggleCmd("pause", "Stop queuing rebuild jobs", &datasetID))
	cmd.AddCommand(rebuildToggleCmd("resume", "Continue a paused rebuild", &datasetID))
	return cmd
}

func rebuildToggleCmd(action, short string, datasetID *string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			path := "/datasets/" + url.PathEscape(*datasetID) + "/rebuild/" + action
			state, err := call[rebuildState](cmd.Context(), api, http.MethodPost, path, nil)
			if err != nil {
				return fmt.Errorf("%s failed: %w", action, err)
			}
			if wantsJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), state)
			}
			if state.RebuildPaused {
				fmt.Fprintf(cmd.OutOrStdout(), "Rebuild of %s paused\n", state.DatasetID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Rebuild of %s resumed\n", state.DatasetID)
			}
			return nil
		},
	}
}
