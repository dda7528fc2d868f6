package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/cloo-solutions/kbindex/internal/api"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// PauseReporter is implemented by the training dispatcher.
type PauseReporter interface {
	Paused() bool
}

type HealthHandler struct {
	db         Pinger
	dispatcher PauseReporter
}

// NewHealthHandler accepts nil dependencies; a nil dispatcher is reported as
// not running in this process.
func NewHealthHandler(db Pinger, dispatcher PauseReporter) *HealthHandler {
	return &HealthHandler{db: db, dispatcher: dispatcher}
}

type HealthResponse struct {
	Status     string `json:"status"`
	Database   string `json:"database"`
	Dispatcher string `json:"dispatcher"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok", Dispatcher: "disabled"}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	if h.dispatcher != nil {
		resp.Dispatcher = "running"
		if h.dispatcher.Paused() {
			resp.Dispatcher = "paused"
		}
	}

	api.Success(w, status, resp)
}
