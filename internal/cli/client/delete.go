package client

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

type deleteResult struct {
	DatasetID string `json:"datasetId"`
	Data      int64  `json:"data"`
	Vectors   int64  `json:"vectors"`
	Jobs      int64  `json:"jobs"`
}

// DeleteCmd removes trained chunks from a dataset.
func DeleteCmd() *cobra.Command {
	var datasetID, collectionID string
	var dataIDs []string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete chunks or a whole collection from a dataset",
		Long: `Delete trained chunks by id, or every chunk of a collection. Deleting a collection
also drops its queued training jobs; jobs a worker is running finish first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			base := "/datasets/" + url.PathEscape(datasetID)

			var paths []string
			if collectionID != "" {
				paths = append(paths, base+"/collections/"+url.PathEscape(collectionID))
			}
			for _, id := range dataIDs {
				paths = append(paths, base+"/data/"+url.PathEscape(id))
			}

			total := deleteResult{DatasetID: datasetID}
			for _, path := range paths {
				res, err := call[deleteResult](cmd.Context(), api, http.MethodDelete, path, nil)
				if err != nil {
					return fmt.Errorf("delete failed: %w", err)
				}
				total.Data += res.Data
				total.Vectors += res.Vectors
				total.Jobs += res.Jobs
			}

			if wantsJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), total)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chunks and %d vectors from %s", total.Data, total.Vectors, total.DatasetID)
			if total.Jobs > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d queued jobs cancelled", total.Jobs)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVarP(&datasetID, "dataset", "d", "", "Dataset ID (required)")
	_ = cmd.MarkFlagRequired("dataset")
	cmd.Flags().StringSliceVar(&dataIDs, "data", nil, "Chunk ID to delete, repeatable")
	cmd.Flags().StringVarP(&collectionID, "collection", "c", "", "Collection to delete")
	cmd.MarkFlagsOneRequired("data", "collection")
	cmd.MarkFlagsMutuallyExclusive("data", "collection")
	return cmd
}
