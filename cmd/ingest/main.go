// Command ingest runs one ingestion cycle and prints the summary as JSON.
// It exits non-zero when no metal could be stored.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kjannette/bullion-backend/internal/app"
	"github.com/kjannette/bullion-backend/internal/config"
	"github.com/kjannette/bullion-backend/internal/ingest"
	"github.com/kjannette/bullion-backend/internal/logging"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cfg, log))
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) int {
	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("startup failed")
		return 1
	}
	defer svc.Close()

	res, err := svc.Job.Run(ctx)
	if err != nil && !errors.Is(err, ingest.ErrAlreadyRunning) {
		log.WithError(err).Error("ingestion failed")
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.WithError(err).Error("encode summary")
		return 1
	}
	if res.Status >= http.StatusInternalServerError {
		return 2
	}
	return 0
}
