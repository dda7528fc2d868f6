package admin

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func RebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Operate on dataset rebuilds",
	}

	cmd.AddCommand(rebuildDrainCmd())
	return cmd
}

func rebuildDrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Turn every flagged row into a training job now",
		Long: `Run one synchronous drain pass: flagged rows of each rebuilding dataset are
claimed in batches and queued as embedding jobs. Paused datasets are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			datasetID, _ := cmd.Flags().GetString("dataset")

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			coordinator := a.rebuildCoordinator()

			ids := []string{datasetID}
			if datasetID == "" {
				datasets, err := a.datasets.ListRebuilding(ctx)
				if err != nil {
					return err
				}
				ids = ids[:0]
				for _, d := range datasets {
					ids = append(ids, d.ID)
				}
			}

			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "no datasets are rebuilding")
				return nil
			}
			for _, id := range ids {
				n, err := coordinator.Drain(ctx, id)
				if err != nil {
					return fmt.Errorf("drain of dataset %s failed after %d rows: %w", id, n, err)
				}
				fmt.Fprintf(out, "%s\t%d rows queued\n", id, n)
			}
			return nil
		},
	}

	cmd.Flags().String("dataset", "", "Dataset ID (default: every rebuilding dataset)")
	return cmd
}
