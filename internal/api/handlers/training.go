package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/kbindex/internal/api"
	"github.com/cloo-solutions/kbindex/internal/api/middleware"
	"github.com/cloo-solutions/kbindex/internal/domain"
	"github.com/cloo-solutions/kbindex/internal/service"
	"github.com/go-chi/chi/v5"
)

type TrainingService interface {
	Push(ctx context.Context, input service.PushInput) (*service.PushOutput, error)
	ImportText(ctx context.Context, input service.ImportTextInput) (*service.PushOutput, error)
	ImportObject(ctx context.Context, input service.ImportObjectInput) (*service.PushOutput, error)
	Status(ctx context.Context, teamID, datasetID string) (*domain.TrainingStatus, error)
	Retry(ctx context.Context, teamID, datasetID string) (int64, error)
	Cancel(ctx context.Context, teamID, datasetID string) (int64, error)
}

type TrainingHandler struct {
	svc TrainingService
}

func NewTrainingHandler(svc TrainingService) *TrainingHandler {
	return &TrainingHandler{svc: svc}
}

type PushRequest struct {
	CollectionID string              `json:"collectionId"`
	Mode         string              `json:"mode"`
	Model        string              `json:"model"`
	BillID       string              `json:"billId"`
	Source       string              `json:"source"`
	Data         []domain.ChunkInput `json:"data"`
	Chunks       []domain.ChunkInput `json:"chunks"` // alias of data
}

type ImportTextRequest struct {
	CollectionID string   `json:"collectionId"`
	Mode         string   `json:"mode"`
	Model        string   `json:"model"`
	BillID       string   `json:"billId"`
	Source       string   `json:"source"`
	Text         string   `json:"text"`
	ChunkSize    int      `json:"chunkSize"`
	Overlap      float64  `json:"overlapRatio"`
	Delimiters   []string `json:"customDelimiters"`
}

type ImportObjectRequest struct {
	CollectionID string   `json:"collectionId"`
	Mode         string   `json:"mode"`
	Model        string   `json:"model"`
	BillID       string   `json:"billId"`
	Key          string   `json:"key"`
	ChunkSize    int      `json:"chunkSize"`
	Overlap      float64  `json:"overlapRatio"`
	Delimiters   []string `json:"customDelimiters"`
}

type PushResponse struct {
	Inserted int      `json:"inserted"`
	JobIDs   []string `json:"jobIds"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

func (h *TrainingHandler) Push(w http.ResponseWriter, r *http.Request) {
	teamID, datasetID, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	var req PushRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.CollectionID == "" {
		api.Error(w, http.StatusBadRequest, "collectionId is required")
		return
	}

	out, err := h.svc.Push(r.Context(), service.PushInput{
		TeamID:       teamID,
		DatasetID:    datasetID,
		CollectionID: req.CollectionID,
		Mode:         domain.TrainingMode(req.Mode),
		Model:        req.Model,
		BillID:       req.BillID,
		Source:       req.Source,
		Chunks:       append(req.Data, req.Chunks...),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, pushResponse(out))
}

func (h *TrainingHandler) ImportText(w http.ResponseWriter, r *http.Request) {
	teamID, datasetID, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	var req ImportTextRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.CollectionID == "" {
		api.Error(w, http.StatusBadRequest, "collectionId is required")
		return
	}
	if req.Text == "" {
		api.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	out, err := h.svc.ImportText(r.Context(), service.ImportTextInput{
		TeamID:           teamID,
		DatasetID:        datasetID,
		CollectionID:     req.CollectionID,
		Mode:             domain.TrainingMode(req.Mode),
		Model:            req.Model,
		BillID:           req.BillID,
		Source:           req.Source,
		Text:             req.Text,
		ChunkSize:        req.ChunkSize,
		OverlapRatio:     req.Overlap,
		CustomDelimiters: req.Delimiters,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, pushResponse(out))
}

func (h *TrainingHandler) ImportObject(w http.ResponseWriter, r *http.Request) {
	teamID, datasetID, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	var req ImportObjectRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.CollectionID == "" {
		api.Error(w, http.StatusBadRequest, "collectionId is required")
		return
	}

	out, err := h.svc.ImportObject(r.Context(), service.ImportObjectInput{
		TeamID:           teamID,
		DatasetID:        datasetID,
		CollectionID:     req.CollectionID,
		Mode:             domain.TrainingMode(req.Mode),
		Model:            req.Model,
		BillID:           req.BillID,
		Key:              req.Key,
		ChunkSize:        req.ChunkSize,
		OverlapRatio:     req.Overlap,
		CustomDelimiters: req.Delimiters,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, pushResponse(out))
}

func (h *TrainingHandler) Status(w http.ResponseWriter, r *http.Request) {
	teamID, datasetID, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	status, err := h.svc.Status(r.Context(), teamID, datasetID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, status)
}

func (h *TrainingHandler) Retry(w http.ResponseWriter, r *http.Request) {
	teamID, datasetID, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	n, err := h.svc.Retry(r.Context(), teamID, datasetID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, CountResponse{Count: n})
}

func (h *TrainingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	teamID, datasetID, ok := datasetRequest(w, r)
	if !ok {
		return
	}

	n, err := h.svc.Cancel(r.Context(), teamID, datasetID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, CountResponse{Count: n})
}

// datasetRequest pulls the caller's team and the {id} URL parameter, writing
// the error response itself when either is missing.
func datasetRequest(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	teamID := middleware.GetTeamID(r.Context())
	if teamID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return "", "", false
	}
	return teamID, id, true
}

func pushResponse(out *service.PushOutput) PushResponse {
	ids := out.JobIDs
	if ids == nil {
		ids = []string{}
	}
	return PushResponse{Inserted: len(ids), JobIDs: ids}
}
