package domain

// SearchResult is one match surfaced to the caller of a search
type SearchResult struct {
	KbID         string  `json:"kbId"`
	CollectionID string  `json:"collectionId"`
	ID           string  `json:"id"`
	Q            string  `json:"q"`
	A            string  `json:"a,omitempty"`
	Source       string  `json:"source,omitempty"`
	ChunkIndex   int     `json:"chunkIndex"`
	Score        float64 `json:"score"`
}

// SearchResponse holds the budgeted context block and the matches that made it in
type SearchResponse struct {
	QuotePrompt  string          `json:"quotePrompt,omitempty"`
	Matches      []*SearchResult `json:"matches"`
	IsEmpty      bool            `json:"isEmpty"`
	TokensUsed   int             `json:"tokensUsed"`
	PromptTokens int             `json:"promptTokens"`
}
