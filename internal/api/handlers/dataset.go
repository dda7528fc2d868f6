package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/kbindex/internal/api"
	"github.com/cloo-solutions/kbindex/internal/api/middleware"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/service"
	"github.com/go-chi/chi/v5"
)

type DatasetService interface {
	Create(ctx context.Context, input service.CreateDatasetInput) (*domain.Dataset, error)
	Get(ctx context.Context, teamID, id string) (*domain.Dataset, error)
	List(ctx context.Context, input service.ListDatasetsInput) (*service.ListDatasetsOutput, error)
}

type DatasetHandler struct {
	svc DatasetService
}

func NewDatasetHandler(svc DatasetService) *DatasetHandler {
	return &DatasetHandler{svc: svc}
}

type CreateDatasetRequest struct {
	Name        string `json:"name"`
	VectorModel string `json:"vectorModel"`
	QAModel     string `json:"qaModel"`
}

type DatasetListResponse struct {
	Items   []*domain.Dataset `json:"items"`
	Cursor  string            `json:"cursor,omitempty"`
	HasMore bool              `json:"hasMore"`
}

func (h *DatasetHandler) Create(w http.ResponseWriter, r *http.Request) {
	teamID := middleware.GetTeamID(r.Context())
	if teamID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateDatasetRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	dataset, err := h.svc.Create(r.Context(), service.CreateDatasetInput{
		TeamID:      teamID,
		Name:        req.Name,
		VectorModel: req.VectorModel,
		QAModel:     req.QAModel,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, dataset)
}

func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	teamID := middleware.GetTeamID(r.Context())
	if teamID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	dataset, err := h.svc.Get(r.Context(), teamID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, dataset)
}

func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	teamID := middleware.GetTeamID(r.Context())
	if teamID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	output, err := h.svc.List(r.Context(), service.ListDatasetsInput{
		TeamID: teamID,
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := output.Items
	if items == nil {
		items = []*domain.Dataset{}
	}
	api.Success(w, http.StatusOK, DatasetListResponse{
		Items:   items,
		Cursor:  output.Cursor,
		HasMore: output.HasMore,
	})
}
