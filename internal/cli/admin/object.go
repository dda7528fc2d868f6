package admin

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/storage"
	"github.com/spf13/cobra"
)

// ObjectCmd stages documents in the import bucket.
func ObjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "Manage documents in the import bucket",
		Long:  "Upload, inspect and remove the text objects that POST /datasets/{id}/import/object reads",
	}

	cmd.AddCommand(objectPutCmd())
	cmd.AddCommand(objectStatCmd())
	cmd.AddCommand(objectRemoveCmd())
	return cmd
}

func objectPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <file>",
		Short: "Upload a UTF-8 text file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			contentType := mime.TypeByExtension(filepath.Ext(args[1]))
			if contentType == "" {
				contentType = "text/plain"
			}

			client, err := objectClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.PutObject(cmd.Context(), args[0], contentType, string(data)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%d bytes)\n", args[0], len(data))
			return nil
		},
	}
}

func objectStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <key>",
		Short: "Show object metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := objectClient(cmd.Context())
			if err != nil {
				return err
			}
			meta, err := client.HeadObject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key:    %s\n", args[0])
			fmt.Fprintf(out, "Size:   %d\n", meta.ContentLength)
			fmt.Fprintf(out, "Type:   %s\n", meta.ContentType)
			fmt.Fprintf(out, "ETag:   %s\n", meta.ETag)
			return nil
		},
	}
}

func objectRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>",
		Aliases: []string{"delete"},
		Short:   "Remove an object",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := objectClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.DeleteObject(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

// objectClient opens the import bucket without touching the database.
func objectClient(ctx context.Context) (*storage.S3Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.HasS3() {
		return nil, fmt.Errorf("object storage is not configured (set KBINDEX_S3_ENDPOINT and credentials)")
	}
	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return client, nil
}
