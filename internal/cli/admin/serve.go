package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/kbindex/internal/api/handlers"
	"github.com/cloo-solutions/kbindex/internal/database"
	"github.com/cloo-solutions/kbindex/internal/jobs"
	"github.com/cloo-solutions/kbindex/internal/server"
	"github.com/cloo-solutions/kbindex/internal/service"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the training pipeline",
		Long:  "Start the kbindex API server together with the training dispatcher and the rebuild drainer",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides KBINDEX_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("api-only", false, "Serve the API without running training workers")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		a.cfg.Port = port
	}

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		if err := migrateAll(ctx, a); err != nil {
			return err
		}
	}

	if err := a.connectStorage(ctx); err != nil {
		return err
	}
	biller, err := a.biller(ctx)
	if err != nil {
		return err
	}
	client, err := a.modelClient()
	if err != nil {
		return err
	}

	var objects service.ObjectReader
	if a.objects != nil {
		objects = a.objects
	}

	datasetSvc := service.NewDatasetService(a.datasets, a.models, a.cfg.DefaultVectorModel, a.cfg.DefaultQAModel).
		WithVectorDimensions(a.cfg.VectorDimensions)
	trainingSvc := service.NewTrainingService(a.datasets, a.jobs, a.models, objects, a.cfg.TrainingConfig(), a.log)
	dataSvc := service.NewDataService(a.txRunner, a.log)
	rebuildSvc := a.rebuildCoordinator()
	searchSvc := service.NewSearchService(a.datasets, client, a.vectors, biller, a.cfg.SearchConfig(), a.log)
	authSvc := service.NewAuthService(a.cfg.APIKeys)
	if authSvc.KeyCount() == 0 {
		a.log.Warn("no API keys configured, every authenticated request will be rejected")
	}

	var dispatcher *jobs.Dispatcher
	var drainer *jobs.Poller
	var health *handlers.HealthHandler
	if apiOnly, _ := cmd.Flags().GetBool("api-only"); apiOnly {
		health = handlers.NewHealthHandler(a.pool, nil)
	} else {
		dispatcher, drainer = a.pipeline(client, biller)
		go dispatcher.Start(ctx)
		go drainer.Start(ctx)
		health = handlers.NewHealthHandler(a.pool, dispatcher)
	}

	router := server.NewRouter(server.RouterConfig{
		Logger:          a.log,
		AuthValidator:   authSvc,
		Metrics:         a.stats,
		HealthHandler:   health,
		DatasetHandler:  handlers.NewDatasetHandler(datasetSvc),
		TrainingHandler: handlers.NewTrainingHandler(trainingSvc),
		DataHandler:     handlers.NewDataHandler(dataSvc),
		RebuildHandler:  handlers.NewRebuildHandler(rebuildSvc),
		SearchHandler:   handlers.NewSearchHandler(searchSvc),
	})

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("starting server", "port", a.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	if dispatcher != nil {
		dispatcher.Stop()
		drainer.Stop()
	}

	if runErr != nil {
		return fmt.Errorf("server failed: %w", runErr)
	}
	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}
	a.log.Info("server exited")
	return nil
}

// migrateAll applies the SQL migrations and then the vector table whose
// column types depend on configuration.
func migrateAll(ctx context.Context, a *app) error {
	if _, err := database.Migrate(a.cfg.DatabaseURL, a.cfg.MigrationsSource, a.log); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := a.vectors.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare vector table: %w", err)
	}
	return nil
}
