package server

import (
	"net/http"

	"github.com/cloo-solutions/kbindex/internal/api/handlers"
	"github.com/cloo-solutions/kbindex/internal/api/middleware"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/metrics"
	"github.com/go-chi/chi/v5"
)

const defaultMaxBodyBytes int64 = 8 * 1024 * 1024

type RouterConfig struct {
	Logger          *logger.Logger
	AuthValidator   middleware.AuthValidator
	MaxBodyBytes    int64
	Metrics         *metrics.Metrics
	HealthHandler   *handlers.HealthHandler
	DatasetHandler  *handlers.DatasetHandler
	TrainingHandler *handlers.TrainingHandler
	DataHandler     *handlers.DataHandler
	RebuildHandler  *handlers.RebuildHandler
	SearchHandler   *handlers.SearchHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(middleware.BodyLimit(maxBody))

	health := cfg.HealthHandler
	if health == nil {
		health = handlers.NewHealthHandler(nil, nil)
	}
	r.Get("/health", health.Health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Route("/datasets", func(r chi.Router) {
			r.Post("/", cfg.DatasetHandler.Create)
			r.Get("/", cfg.DatasetHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.DatasetHandler.Get)

				r.Post("/training", cfg.TrainingHandler.Push)
				r.Delete("/training", cfg.TrainingHandler.Cancel)
				r.Get("/training/status", cfg.TrainingHandler.Status)
				r.Post("/training/retry", cfg.TrainingHandler.Retry)
				r.Post("/import/text", cfg.TrainingHandler.ImportText)
				r.Post("/import/object", cfg.TrainingHandler.ImportObject)

				r.Delete("/data/{dataId}", cfg.DataHandler.DeleteData)
				r.Delete("/collections/{collectionId}", cfg.DataHandler.DeleteCollection)

				r.Post("/rebuild", cfg.RebuildHandler.Rebuild)
				r.Post("/rebuild/pause", cfg.RebuildHandler.Pause)
				r.Post("/rebuild/resume", cfg.RebuildHandler.Resume)
			})
		})

		r.Post("/search", cfg.SearchHandler.Search)
	})

	return r
}
