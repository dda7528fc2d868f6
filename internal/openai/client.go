package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/model"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultRequestsPerSecond caps embedding calls when no limit is configured
	DefaultRequestsPerSecond = 20
	// DefaultConcurrency is the number of batches sent in parallel for one Embed call
	DefaultConcurrency = 4
)

// EmbeddingAPI is the part of the OpenAI client used for embeddings
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// ChatAPI is the part of the OpenAI client used for question/answer synthesis
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Config struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
	Concurrency       int
}

// Client calls embedding and chat models resolved through the model registry.
type Client struct {
	embeddings  EmbeddingAPI
	chat        ChatAPI
	models      *model.Registry
	limiter     *rate.Limiter
	concurrency int
}

// EmbedResult holds one vector per input text, in input order
type EmbedResult struct {
	Vectors [][]float32
	Tokens  int
}

// NewClient creates a client talking to the OpenAI API (or a compatible BaseURL).
func NewClient(cfg Config, models *model.Registry) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	api := openai.NewClientWithConfig(oc)
	return NewClientWithAPI(api, api, models, cfg)
}

// NewClientWithAPI creates a client over explicit API implementations.
func NewClientWithAPI(embeddings EmbeddingAPI, chat ChatAPI, models *model.Registry, cfg Config) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Client{
		embeddings:  embeddings,
		chat:        chat,
		models:      models,
		limiter:     rate.NewLimiter(rate.Limit(rps), max(1, int(rps))),
		concurrency: concurrency,
	}
}

// Embed returns one vector per text. Texts are sent in batches no larger than
// the model's MaxBatch; any failing batch fails the whole call.
func (c *Client) Embed(ctx context.Context, texts []string, modelName string) (*EmbedResult, error) {
	m, err := c.models.Embedding(modelName)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, domain.Wrap(domain.ErrInvalidInput, errors.New("no texts to embed"))
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, domain.Wrap(domain.ErrInvalidInput, fmt.Errorf("text %d is empty", i))
		}
	}

	vectors := make([][]float32, len(texts))
	batchCount := (len(texts) + m.MaxBatch - 1) / m.MaxBatch
	tokens := make([]int, batchCount)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for b := 0; b < batchCount; b++ {
		b := b
		start := b * m.MaxBatch
		end := min(start+m.MaxBatch, len(texts))
		g.Go(func() error {
			used, err := c.embedBatch(gctx, m, texts[start:end], vectors[start:end])
			if err != nil {
				return err
			}
			tokens[b] = used
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, t := range tokens {
		total += t
	}
	return &EmbedResult{Vectors: vectors, Tokens: total}, nil
}

func (c *Client) embedBatch(ctx context.Context, m model.EmbeddingModel, batch []string, out [][]float32) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	req := openai.EmbeddingRequest{
		Input: batch,
		Model: openai.EmbeddingModel(m.Name),
	}
	if m.RequestDimensions {
		req.Dimensions = m.Dimensions
	}

	resp, err := c.embeddings.CreateEmbeddings(ctx, req)
	if err != nil {
		return 0, classify(err)
	}
	if len(resp.Data) != len(batch) {
		return 0, domain.Wrap(domain.ErrUpstream, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Data)))
	}
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(batch) {
			return 0, domain.Wrap(domain.ErrUpstream, fmt.Errorf("embedding index %d out of range", d.Index))
		}
		if len(d.Embedding) != m.Dimensions {
			return 0, domain.Wrap(domain.ErrDimensionMismatch, fmt.Errorf("model %s returned %d dimensions, expected %d", m.Name, len(d.Embedding), m.Dimensions))
		}
		out[d.Index] = d.Embedding
	}

	if resp.Usage.TotalTokens > 0 {
		return resp.Usage.TotalTokens, nil
	}
	return resp.Usage.PromptTokens, nil
}

// classify maps provider errors onto the failure classes of the training queue.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		return classifyStatus(apiErr.HTTPStatusCode, code, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, "", err)
	}
	return domain.Wrap(domain.ErrUpstream, err)
}

func classifyStatus(status int, code string, err error) error {
	switch {
	case status == http.StatusTooManyRequests && code == "insufficient_quota":
		return domain.Wrap(domain.ErrQuotaExhausted, err)
	case status == http.StatusTooManyRequests:
		return domain.Wrap(domain.ErrRateLimited, err)
	case status == http.StatusBadRequest, status == http.StatusRequestEntityTooLarge, status == http.StatusUnprocessableEntity:
		return domain.Wrap(domain.ErrInvalidInput, err)
	default:
		return domain.Wrap(domain.ErrUpstream, err)
	}
}
