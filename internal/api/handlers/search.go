package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/kbindex/internal/api"
	"github.com/cloo-solutions/kbindex/internal/api/middleware"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, input service.SearchInput) (*domain.SearchResponse, error)
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type SearchRequest struct {
	DatasetIDs    []string `json:"datasetIds"`
	KbIDs         []string `json:"kbIds"` // alias of datasetIds
	CollectionIDs []string `json:"collectionIds"`
	Text          string   `json:"text"`
	Query         string   `json:"query"` // alias of text
	Similarity    float64  `json:"similarity"`
	Limit         int      `json:"limit"`
	MaxTokens     int      `json:"maxTokens"`
	ProbeCount    int      `json:"probeCount"`
	BillID        string   `json:"billId"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	teamID := middleware.GetTeamID(r.Context())
	if teamID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SearchRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	req.DatasetIDs = append(req.DatasetIDs, req.KbIDs...)
	if req.Text == "" {
		req.Text = req.Query
	}
	if req.Text == "" {
		api.Error(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(req.DatasetIDs) == 0 {
		api.Error(w, http.StatusBadRequest, "datasetIds is required")
		return
	}

	resp, err := h.svc.Search(r.Context(), service.SearchInput{
		TeamID:        teamID,
		DatasetIDs:    req.DatasetIDs,
		CollectionIDs: req.CollectionIDs,
		Query:         req.Text,
		Similarity:    req.Similarity,
		Limit:         req.Limit,
		MaxTokens:     req.MaxTokens,
		ProbeCount:    req.ProbeCount,
		BillID:        req.BillID,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if resp.Matches == nil {
		resp.Matches = []*domain.SearchResult{}
	}

	api.Success(w, http.StatusOK, resp)
}
