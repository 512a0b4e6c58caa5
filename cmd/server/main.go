package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kjannette/bullion-backend/internal/app"
	"github.com/kjannette/bullion-backend/internal/config"
	"github.com/kjannette/bullion-backend/internal/ingest"
	"github.com/kjannette/bullion-backend/internal/logging"
	"github.com/kjannette/bullion-backend/internal/scheduler"
)

const banner = `
╔══════════════════════════════════════╗
║      Bullion Price Service v1.0      ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg.Print()

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer func() {
		svc.Close()
		log.Info("connections closed")
	}()

	// 1. API server
	srv := svc.Server()
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("api server stopped")
			stop()
		}
	}()

	// 2. Ingestion scheduler
	sched, err := scheduler.New("ingest", ingestTask(svc.Job), scheduler.Config{
		Spec:       cfg.IngestSchedule,
		RunOnStart: true,
		Location:   cfg.Location(),
	}, log)
	if err != nil {
		log.WithError(err).Fatal("invalid INGEST_SCHEDULE")
	}
	sched.Start(ctx)

	log.WithField("next_run", sched.Next()).Info("all services started")

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("shutting down gracefully")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("api shutdown")
	}
	log.Info("shutdown complete")
}

// ingestTask adapts the job to the scheduler. A run that stored nothing is
// reported as a failure; partial runs are already logged by the job.
func ingestTask(job *ingest.Job) scheduler.Task {
	return func(ctx context.Context) error {
		res, err := job.Run(ctx)
		if err != nil {
			return err
		}
		if res.Status >= http.StatusInternalServerError {
			return errors.New(res.FirstError)
		}
		return nil
	}
}
