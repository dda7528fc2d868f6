package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/kbindex/internal/api"
	"github.com/cloo-solutions/kbindex/internal/service"
	"github.com/go-chi/chi/v5"
)

type DataService interface {
	DeleteData(ctx context.Context, teamID, datasetID, dataID string) (*service.DeleteDataOutput, error)
	DeleteCollection(ctx context.Context, teamID, datasetID, collectionID string) (*service.DeleteDataOutput, error)
}

type DataHandler struct {
	svc DataService
}

func NewDataHandler(svc DataService) *DataHandler {
	return &DataHandler{svc: svc}
}

func (h *DataHandler) DeleteData(w http.ResponseWriter, r *http.Request) {
	teamID, datasetID, ok := datasetRequest(w, r)
	if !ok {
		return
	}
	dataID := chi.URLParam(r, "dataId")
	if dataID == "" {
		api.Error(w, http.StatusBadRequest, "dataId is required")
		return
	}

	out, err := h.svc.DeleteData(r.Context(), teamID, datasetID, dataID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, out)
}

func (h *DataHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	teamID, datasetID, ok := datasetRequest(w, r)
	if !ok {
		return
	}
	collectionID := chi.URLParam(r, "collectionId")
	if collectionID == "" {
		api.Error(w, http.StatusBadRequest, "collectionId is required")
		return
	}

	out, err := h.svc.DeleteCollection(r.Context(), teamID, datasetID, collectionID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, out)
}
