package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/spf13/cobra"
)

func QueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the training queue of a dataset",
	}

	cmd.PersistentFlags().String("dataset", "", "Dataset ID (required)")
	_ = cmd.MarkPersistentFlagRequired("dataset")

	cmd.AddCommand(queueStatusCmd())
	cmd.AddCommand(queueRetryCmd())
	cmd.AddCommand(queueCancelCmd())

	return cmd
}

func queueStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue and data counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			datasetID, _ := cmd.Flags().GetString("dataset")
			outputFormat, _ := cmd.Flags().GetString("output")

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			dataset, err := a.datasets.GetByID(ctx, datasetID)
			if err != nil {
				return err
			}
			status, err := a.jobs.Status(ctx, dataset.ID)
			if err != nil {
				return err
			}
			status.VectorModel = dataset.VectorModel
			status.RebuildPaused = dataset.RebuildPaused

			return printStatus(cmd.OutOrStdout(), status, outputFormat)
		},
	}

	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	return cmd
}

func queueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Requeue terminally failed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			datasetID, _ := cmd.Flags().GetString("dataset")

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.jobs.RetryFailed(ctx, datasetID, a.cfg.JobRetryCount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d failed jobs requeued\n", n)
			return nil
		},
	}
}

func queueCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Delete every job no worker currently holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			datasetID, _ := cmd.Flags().GetString("dataset")

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.jobs.CancelPending(ctx, datasetID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d queued jobs cancelled\n", n)
			return nil
		},
	}
}

func printStatus(w io.Writer, s *domain.TrainingStatus, outputFormat string) error {
	if outputFormat == "json" {
		jsonBytes, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(jsonBytes))
		return nil
	}

	fmt.Fprintf(w, "Dataset:     %s\n", s.DatasetID)
	fmt.Fprintf(w, "Model:       %s\n", s.VectorModel)
	fmt.Fprintf(w, "Pending:     %d\n", s.Pending)
	fmt.Fprintf(w, "Claimed:     %d\n", s.Claimed)
	fmt.Fprintf(w, "Failed:      %d\n", s.Failed)
	fmt.Fprintf(w, "Data rows:   %d\n", s.DataCount)
	rebuild := fmt.Sprintf("%d", s.Rebuilding)
	if s.RebuildPaused {
		rebuild += " (paused)"
	}
	fmt.Fprintf(w, "Rebuilding:  %s\n", rebuild)
	if s.LastError != "" {
		fmt.Fprintf(w, "Last error:  %s (job %s)\n", s.LastError, s.LastFailedJobID)
	}
	return nil
}
