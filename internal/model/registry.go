// Package model describes the models the pipeline can call and what each one
// is capable of.
package model

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/cloo-solutions/kbindex/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultModels []byte

// Kind is the capability a model is registered under
type Kind string

const (
	KindEmbedding Kind = "embedding"
	KindChat      Kind = "chat"
)

// Model is implemented by every registered model type.
type Model interface {
	ModelName() string
	Kind() Kind
}

// EmbeddingModel turns text into vectors
type EmbeddingModel struct {
	Name               string `yaml:"name"`
	Dimensions         int    `yaml:"dimensions"`
	RequestDimensions  bool   `yaml:"requestDimensions"`
	MaxBatch           int    `yaml:"maxBatch"`
	MaxTokens          int    `yaml:"maxTokens"`
	DefaultChunkTokens int    `yaml:"defaultChunkTokens"`
}

func (m EmbeddingModel) ModelName() string { return m.Name }
func (m EmbeddingModel) Kind() Kind        { return KindEmbedding }

// ChatModel generates question/answer pairs from a chunk
type ChatModel struct {
	Name        string `yaml:"name"`
	MaxContext  int    `yaml:"maxContext"`
	MaxResponse int    `yaml:"maxResponse"`
}

func (m ChatModel) ModelName() string { return m.Name }
func (m ChatModel) Kind() Kind        { return KindChat }

type file struct {
	Embedding []EmbeddingModel `yaml:"embedding"`
	Chat      []ChatModel      `yaml:"chat"`
}

// Registry resolves model names to typed capabilities.
type Registry struct {
	embedding map[string]EmbeddingModel
	chat      map[string]ChatModel
}

// Default returns the built-in registry.
func Default() (*Registry, error) {
	return Parse(defaultModels)
}

// Load returns the built-in registry overlaid with the models in path.
// An empty path yields the built-in registry.
func Load(path string) (*Registry, error) {
	reg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}
	extra, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for name, m := range extra.embedding {
		reg.embedding[name] = m
	}
	for name, m := range extra.chat {
		reg.chat[name] = m
	}
	return reg, nil
}

// Parse decodes a YAML model list.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse models: %w", err)
	}

	reg := &Registry{
		embedding: make(map[string]EmbeddingModel, len(f.Embedding)),
		chat:      make(map[string]ChatModel, len(f.Chat)),
	}
	for _, m := range f.Embedding {
		if m.Name == "" || m.Dimensions <= 0 {
			return nil, fmt.Errorf("embedding model %q needs a name and positive dimensions", m.Name)
		}
		if m.MaxBatch <= 0 {
			m.MaxBatch = 1
		}
		if m.MaxTokens <= 0 {
			m.MaxTokens = 8000
		}
		if m.DefaultChunkTokens <= 0 || m.DefaultChunkTokens > m.MaxTokens {
			m.DefaultChunkTokens = min(512, m.MaxTokens)
		}
		reg.embedding[m.Name] = m
	}
	for _, m := range f.Chat {
		if m.Name == "" {
			return nil, fmt.Errorf("chat model needs a name")
		}
		if m.MaxResponse <= 0 {
			m.MaxResponse = 4000
		}
		reg.chat[m.Name] = m
	}
	return reg, nil
}

// Embedding resolves an embedding model by name.
func (r *Registry) Embedding(name string) (EmbeddingModel, error) {
	m, ok := r.embedding[name]
	if !ok {
		return EmbeddingModel{}, domain.Wrap(domain.ErrUnknownModel, fmt.Errorf("embedding model %q", name))
	}
	return m, nil
}

// Chat resolves a chat model by name.
func (r *Registry) Chat(name string) (ChatModel, error) {
	m, ok := r.chat[name]
	if !ok {
		return ChatModel{}, domain.Wrap(domain.ErrUnknownModel, fmt.Errorf("chat model %q", name))
	}
	return m, nil
}

// Lookup resolves any model; embedding models win on a name clash.
func (r *Registry) Lookup(name string) (Model, error) {
	if m, ok := r.embedding[name]; ok {
		return m, nil
	}
	if m, ok := r.chat[name]; ok {
		return m, nil
	}
	return nil, domain.Wrap(domain.ErrUnknownModel, fmt.Errorf("model %q", name))
}

// EmbeddingModels lists embedding models sorted by name.
func (r *Registry) EmbeddingModels() []EmbeddingModel {
	out := make([]EmbeddingModel, 0, len(r.embedding))
	for _, m := range r.embedding {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckDimensions rejects an embedding model whose vectors do not have dims
// components. dims <= 0 accepts every model.
func (m EmbeddingModel) CheckDimensions(dims int) error {
	if dims > 0 && m.Dimensions != dims {
		return domain.Wrap(domain.ErrDimensionMismatch, fmt.Errorf("model %s produces %d dimensions, the vector store holds %d", m.Name, m.Dimensions, dims))
	}
	return nil
}

// Unfit lists the embedding models, sorted by name, that cannot write into a
// vector store of dims dimensions.
func (r *Registry) Unfit(dims int) []string {
	var out []string
	for _, m := range r.EmbeddingModels() {
		if m.CheckDimensions(dims) != nil {
			out = append(out, m.Name)
		}
	}
	return out
}
