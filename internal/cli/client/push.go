package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/spf13/cobra"
)

type pushOptions struct {
	datasetID  string
	collection string
	mode       string
	model      string
	billID     string
	source     string
	chunkSize  int
	overlap    float64
	delimiters []string
	jsonl      bool
	object     string
}

type pushRequest struct {
	CollectionID string              `json:"collectionId"`
	Mode         string              `json:"mode,omitempty"`
	Model        string              `json:"model,omitempty"`
	BillID       string              `json:"billId,omitempty"`
	Source       string              `json:"source,omitempty"`
	Data         []domain.ChunkInput `json:"data"`
}

type importRequest struct {
	CollectionID string   `json:"collectionId"`
	Mode         string   `json:"mode,omitempty"`
	Model        string   `json:"model,omitempty"`
	BillID       string   `json:"billId,omitempty"`
	Source       string   `json:"source,omitempty"`
	Text         string   `json:"text,omitempty"`
	Key          string   `json:"key,omitempty"`
	ChunkSize    int      `json:"chunkSize,omitempty"`
	Overlap      float64  `json:"overlapRatio,omitempty"`
	Delimiters   []string `json:"customDelimiters,omitempty"`
}

type pushResult struct {
	Inserted int      `json:"inserted"`
	JobIDs   []string `json:"jobIds"`
}

// PushCmd sends content to a dataset's training queue.
func PushCmd() *cobra.Command {
	var opts pushOptions

	cmd := &cobra.Command{
		Use:   "push [file|-]",
		Short: "Queue content for training",
		Long: `Queue content for training in a dataset.

By default the file (or stdin) is sent as raw text and split server side.
With --jsonl every line is a {"q": "...", "a": "..."} object sent as one chunk.
With --object the server imports a text object from its storage bucket.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.datasetID, "dataset", "d", "", "Dataset ID (required)")
	cmd.Flags().StringVarP(&opts.collection, "collection", "c", "", "Collection ID (required)")
	cmd.Flags().StringVar(&opts.mode, "mode", string(domain.TrainingModeEmbedding), "Training mode (embedding or qaSynthesis)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model override (qaSynthesis only)")
	cmd.Flags().StringVar(&opts.billID, "bill-id", "", "Billing id shared by the queued jobs")
	cmd.Flags().StringVar(&opts.source, "source", "", "Source label stored with each chunk (default: file name)")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "Chunk size in tokens (server default when 0)")
	cmd.Flags().Float64Var(&opts.overlap, "overlap", 0, "Overlap ratio between chunks (server default when 0)")
	cmd.Flags().StringSliceVar(&opts.delimiters, "delimiter", nil, "Custom split delimiter, tried before the built-in rules (repeatable)")
	cmd.Flags().BoolVar(&opts.jsonl, "jsonl", false, "Input is JSON lines of pre-chunked q/a pairs")
	cmd.Flags().StringVar(&opts.object, "object", "", "Import this object key from the server's bucket")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func runPush(cmd *cobra.Command, args []string, opts pushOptions) error {
	if opts.object != "" && (len(args) > 0 || opts.jsonl) {
		return fmt.Errorf("--object cannot be combined with a file or --jsonl")
	}

	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	base := "/datasets/" + url.PathEscape(opts.datasetID)
	var result *pushResult

	switch {
	case opts.object != "":
		result, err = call[pushResult](cmd.Context(), api, http.MethodPost, base+"/import/object", importRequest{
			CollectionID: opts.collection,
			Mode:         opts.mode,
			Model:        opts.model,
			BillID:       opts.billID,
			Key:          opts.object,
			ChunkSize:    opts.chunkSize,
			Overlap:      opts.overlap,
			Delimiters:   opts.delimiters,
		})

	case opts.jsonl:
		var chunks []domain.ChunkInput
		chunks, err = readInput(cmd, args, readJSONLChunks)
		if err != nil {
			return err
		}
		result, err = call[pushResult](cmd.Context(), api, http.MethodPost, base+"/training", pushRequest{
			CollectionID: opts.collection,
			Mode:         opts.mode,
			Model:        opts.model,
			BillID:       opts.billID,
			Source:       sourceLabel(opts.source, args),
			Data:         chunks,
		})

	default:
		var text string
		text, err = readInput(cmd, args, readAllText)
		if err != nil {
			return err
		}
		result, err = call[pushResult](cmd.Context(), api, http.MethodPost, base+"/import/text", importRequest{
			CollectionID: opts.collection,
			Mode:         opts.mode,
			Model:        opts.model,
			BillID:       opts.billID,
			Source:       sourceLabel(opts.source, args),
			Text:         text,
			ChunkSize:    opts.chunkSize,
			Overlap:      opts.overlap,
			Delimiters:   opts.delimiters,
		})
	}
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	if wantsJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %d chunks for training\n", result.Inserted)
	return nil
}

// readInput opens the named file, or stdin for "-" and no argument.
func readInput[T any](cmd *cobra.Command, args []string, parse func(io.Reader) (T, error)) (T, error) {
	if len(args) == 0 || args[0] == "-" {
		return parse(cmd.InOrStdin())
	}
	f, err := os.Open(args[0])
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()
	return parse(f)
}

func readAllText(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", fmt.Errorf("input is empty")
	}
	return string(b), nil
}

func readJSONLChunks(r io.Reader) ([]domain.ChunkInput, error) {
	var chunks []domain.ChunkInput
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var c domain.ChunkInput
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c.ChunkIndex = len(chunks)
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("input has no chunks")
	}
	return chunks, nil
}

func sourceLabel(explicit string, args []string) string {
	if explicit != "" {
		return explicit
	}
	if len(args) == 0 || args[0] == "-" {
		return ""
	}
	return filepath.Base(args[0])
}
