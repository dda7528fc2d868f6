package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode"

	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/telemetry"
	"github.com/cloo-solutions/kbindex/internal/textsplit"
)

const maxSearchLimit = 200

// SearchService answers a query with the nearest data rows of one or more
// datasets, packed into a token-bounded quote prompt.
type SearchService struct {
	datasets  DatasetRepositoryInterface
	embedder  Embedder
	vectors   VectorSearcher
	biller    UsageBiller
	tokenizer textsplit.Tokenizer
	cfg       config.SearchConfig
	log       *logger.Logger
	uuidGen   UUIDGenerator
}

func NewSearchService(
	datasets DatasetRepositoryInterface,
	embedder Embedder,
	vectors VectorSearcher,
	biller UsageBiller,
	cfg config.SearchConfig,
	log *logger.Logger,
) *SearchService {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 3000
	}
	return &SearchService{
		datasets:  datasets,
		embedder:  embedder,
		vectors:   vectors,
		biller:    biller,
		tokenizer: textsplit.EstimateTokenizer{},
		cfg:       cfg,
		log:       log,
		uuidGen:   &DefaultUUIDGenerator{},
	}
}

// SearchInput mirrors the search API body. Zero Limit, MaxTokens and
// ProbeCount fall back to configured defaults.
type SearchInput struct {
	TeamID        string
	DatasetIDs    []string
	CollectionIDs []string
	Query         string
	Similarity    float64
	Limit         int
	MaxTokens     int
	ProbeCount    int
	BillID        string
}

func (s *SearchService) Search(ctx context.Context, input SearchInput) (*domain.SearchResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "SearchService.Search", telemetry.SpanAttributes{
		TeamID:    input.TeamID,
		Operation: "search",
	})
	defer span.End()

	if err := s.validate(&input); err != nil {
		return nil, err
	}

	datasets, err := s.loadDatasets(ctx, input.TeamID, input.DatasetIDs)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if err := s.biller.CheckQuota(ctx, input.TeamID); err != nil {
		return nil, err
	}

	// Datasets embedded with different models need their own query vector.
	groups := make(map[string][]string)
	var order []string
	for _, d := range datasets {
		if _, ok := groups[d.VectorModel]; !ok {
			order = append(order, d.VectorModel)
		}
		groups[d.VectorModel] = append(groups[d.VectorModel], d.ID)
	}

	billID := input.BillID
	if billID == "" {
		billID = s.uuidGen.NewString()
	}

	var all []*domain.VectorMatch
	tokensUsed := 0
	for _, modelName := range order {
		ids := groups[modelName]
		res, err := s.embedder.Embed(ctx, []string{input.Query}, modelName)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		if len(res.Vectors) != 1 {
			return nil, domain.Wrap(domain.ErrUpstream, fmt.Errorf("expected 1 vector, got %d", len(res.Vectors)))
		}
		tokensUsed += res.Tokens
		if err := s.biller.Record(ctx, domain.Usage{
			TeamID:    input.TeamID,
			DatasetID: strings.Join(ids, ","),
			BillID:    billID,
			Model:     modelName,
			Tokens:    res.Tokens,
			Source:    domain.UsageSourceSearch,
		}); err != nil {
			s.log.Error("search usage not recorded", "bill_id", billID, "error", err)
		}

		matches, err := s.vectors.Query(ctx, domain.VectorQuery{
			DatasetIDs:    ids,
			CollectionIDs: input.CollectionIDs,
			Vector:        res.Vectors[0],
			Threshold:     input.Similarity,
			Limit:         input.Limit,
			ProbeCount:    input.ProbeCount,
		})
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		all = append(all, matches...)
	}

	ranked := dedupeMatches(domain.RankMatches(all, input.Similarity, 0))
	if len(ranked) > input.Limit {
		ranked = ranked[:input.Limit]
	}
	resp := s.buildResponse(ranked, input.MaxTokens)
	resp.TokensUsed = tokensUsed

	s.log.Debug("search done",
		"team_id", input.TeamID,
		"datasets", len(datasets),
		"candidates", len(ranked),
		"matches", len(resp.Matches),
		"prompt_tokens", resp.PromptTokens,
	)
	return resp, nil
}

func (s *SearchService) validate(input *SearchInput) error {
	if strings.TrimSpace(input.Query) == "" {
		return domain.Wrap(domain.ErrInvalidSearch, errors.New("query is required"))
	}
	if len(input.DatasetIDs) == 0 {
		return domain.Wrap(domain.ErrInvalidSearch, errors.New("at least one kbId is required"))
	}
	if input.Similarity < -1 || input.Similarity > 1 {
		return domain.Wrap(domain.ErrInvalidSearch, fmt.Errorf("similarity %v out of range", input.Similarity))
	}
	if input.Limit < 0 || input.MaxTokens < 0 || input.ProbeCount < 0 {
		return domain.Wrap(domain.ErrInvalidSearch, errors.New("limit, maxTokens and probeCount cannot be negative"))
	}
	if input.Limit == 0 {
		input.Limit = s.cfg.DefaultLimit
	}
	input.Limit = min(input.Limit, maxSearchLimit)
	if input.MaxTokens == 0 {
		input.MaxTokens = s.cfg.DefaultMaxTokens
	}
	if input.ProbeCount == 0 {
		input.ProbeCount = s.cfg.Probes
	}
	return nil
}

func (s *SearchService) loadDatasets(ctx context.Context, teamID string, ids []string) ([]*domain.Dataset, error) {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if !isUUID(id) {
			return nil, domain.Wrap(domain.ErrDatasetNotFound, fmt.Errorf("kbId %q", id))
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	datasets, err := s.datasets.GetMany(ctx, unique)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Dataset, len(datasets))
	for _, d := range datasets {
		byID[d.ID] = d
	}
	out := make([]*domain.Dataset, 0, len(unique))
	for _, id := range unique {
		d, ok := byID[id]
		if !ok {
			return nil, domain.Wrap(domain.ErrDatasetNotFound, fmt.Errorf("kbId %s", id))
		}
		if err := checkOwner(d, teamID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// buildResponse takes the longest prefix of matches whose quote blocks fit
// in maxTokens. The first block that does not fit ends the prompt.
func (s *SearchService) buildResponse(matches []*domain.VectorMatch, maxTokens int) *domain.SearchResponse {
	resp := &domain.SearchResponse{Matches: []*domain.SearchResult{}}
	var prompt strings.Builder
	for i, m := range matches {
		block := quoteBlock(i+1, m)
		candidate := block
		if prompt.Len() > 0 {
			candidate = prompt.String() + "\n\n" + block
		}
		tokens := s.tokenizer.Count(candidate)
		if tokens > maxTokens {
			break
		}
		prompt.Reset()
		prompt.WriteString(candidate)
		resp.PromptTokens = tokens
		resp.Matches = append(resp.Matches, &domain.SearchResult{
			KbID:         m.DatasetID,
			CollectionID: m.CollectionID,
			ID:           m.DataID,
			Q:            m.Q,
			A:            m.A,
			Source:       m.Source,
			ChunkIndex:   m.ChunkIndex,
			Score:        m.Score,
		})
	}
	resp.IsEmpty = len(resp.Matches) == 0
	if !resp.IsEmpty {
		resp.QuotePrompt = prompt.String()
	}
	return resp
}

func quoteBlock(index int, m *domain.VectorMatch) string {
	var b strings.Builder
	b.WriteString(`<Quote index="`)
	b.WriteString(strconv.Itoa(index))
	b.WriteString(`"`)
	if m.Source != "" {
		b.WriteString(` source="`)
		b.WriteString(html.EscapeString(m.Source))
		b.WriteString(`"`)
	}
	b.WriteString(">\n")
	b.WriteString(m.Q)
	if m.A != "" {
		b.WriteString("\n")
		b.WriteString(m.A)
	}
	b.WriteString("\n</Quote>")
	return b.String()
}

// dedupeMatches keeps the first of any matches whose q and a are equal once
// case, whitespace and punctuation are ignored.
func dedupeMatches(matches []*domain.VectorMatch) []*domain.VectorMatch {
	seen := make(map[string]struct{}, len(matches))
	out := make([]*domain.VectorMatch, 0, len(matches))
	for _, m := range matches {
		key := normalizeForDedupe(m.Q) + "\x00" + normalizeForDedupe(m.A)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

func normalizeForDedupe(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}
