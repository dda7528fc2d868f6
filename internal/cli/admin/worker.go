package admin

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// WorkerCmd runs the training pipeline without the HTTP API.
func WorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the training dispatcher and rebuild drainer",
		Long:  "Run the training dispatcher and the rebuild drainer without serving the API. Several worker processes may share one database.",
		RunE:  runWorker,
	}

	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		if err := migrateAll(ctx, a); err != nil {
			return err
		}
	}

	biller, err := a.biller(ctx)
	if err != nil {
		return err
	}
	client, err := a.modelClient()
	if err != nil {
		return err
	}

	dispatcher, drainer := a.pipeline(client, biller)
	go drainer.Start(ctx)
	go dispatcher.Start(ctx)

	var metricsSrv *http.Server
	if a.stats != nil && a.cfg.MetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.stats.Handler())
		metricsSrv = &http.Server{
			Addr:              ":" + a.cfg.MetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.log.Info("serving metrics", "port", a.cfg.MetricsPort)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	a.log.Info("shutting down workers")
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	dispatcher.Stop()
	drainer.Stop()
	return nil
}
