package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/kbindex/internal/api"
	"github.com/cloo-solutions/kbindex/internal/service"
)

type RebuildService interface {
	Rebuild(ctx context.Context, input service.RebuildInput) (*service.RebuildOutput, error)
	Pause(ctx context.Context, teamID, datasetID string) error
	Resume(ctx context.Context, teamID, datasetID string) error
}

type RebuildHandler struct {
	svc RebuildService
}

func NewRebuildHandler(svc RebuildService) *RebuildHandler {
	return &RebuildHandler{svc: svc}
}

type RebuildRequest struct {
	Model string `json:"model"`
}

type RebuildStateResponse struct {
	DatasetID     string `json:"datasetId"`
	RebuildPaused bool   `json:"rebuildPaused"`
}

func (h *RebuildHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	teamID, datasetID, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	var req RebuildRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.Model == "" {
		api.Error(w, http.StatusBadRequest, "model is required")
		return
	}

	out, err := h.svc.Rebuild(r.Context(), service.RebuildInput{
		TeamID:    teamID,
		DatasetID: datasetID,
		Model:     req.Model,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, out)
}

func (h *RebuildHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

func (h *RebuildHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *RebuildHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	teamID, datasetID, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	var err error
	if paused {
		err = h.svc.Pause(r.Context(), teamID, datasetID)
	} else {
		err = h.svc.Resume(r.Context(), teamID, datasetID)
	}
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, RebuildStateResponse{DatasetID: datasetID, RebuildPaused: paused})
}
