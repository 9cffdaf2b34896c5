package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"messenger/internal/app"
	"messenger/internal/config"
	"messenger/internal/logging"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	// ---- Store, service and handler ----
	a, err := app.Build(ctx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal("failed to build messaging service", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer a.Close() //nolint:errcheck

	log.Info("starting lambda handler", zap.String("backend", cfg.StoreBackend))
	lambda.Start(a.Handler.Handle)
}
