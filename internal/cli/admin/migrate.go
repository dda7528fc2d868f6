package admin

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/kbindex/internal/database"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/spf13/cobra"
)

func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply the SQL migrations and create the vector table and its index for the configured dimensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			version, err := database.Migrate(a.cfg.DatabaseURL, a.cfg.MigrationsSource, a.log)
			if err != nil {
				return err
			}
			if err := a.vectors.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("failed to prepare vector table: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database at version %d, vector table ready (%d dimensions)\n",
				version, a.vectors.Dimensions())
			return nil
		},
	}

	cmd.AddCommand(migrateColumnCmd())
	return cmd
}

// migrateColumnCmd moves a dataset's vectors between the full and half
// precision columns.
func migrateColumnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "column",
		Short: "Move a dataset's vectors to another precision column",
		RunE: func(cmd *cobra.Command, args []string) error {
			datasetID, _ := cmd.Flags().GetString("dataset")
			precisionFlag, _ := cmd.Flags().GetString("precision")
			batch, _ := cmd.Flags().GetInt("batch")

			target, err := domain.ParsePrecision(precisionFlag)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.datasets.GetByID(ctx, datasetID); err != nil {
				return err
			}

			total, err := a.vectors.RebuildColumn(ctx, datasetID, target, batch)
			if err != nil {
				return fmt.Errorf("column migration stopped after %d rows: %w", total, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %d vectors of dataset %s to the %s column\n", total, datasetID, target)
			return nil
		},
	}

	cmd.Flags().String("dataset", "", "Dataset ID (required)")
	cmd.Flags().String("precision", "half", "Target precision (full or half)")
	cmd.Flags().Int("batch", 500, "Rows moved per statement")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}
