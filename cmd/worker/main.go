// The worker binary drains the request queue, generates responses, and
// publishes them back with the original correlation id. Multiple instances
// may run side by side; the broker delivers each request to exactly one.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaylabs/chatbridge/internal/broker"
	"github.com/relaylabs/chatbridge/internal/config"
	"github.com/relaylabs/chatbridge/internal/logging"
	"github.com/relaylabs/chatbridge/internal/metrics"
	"github.com/relaylabs/chatbridge/internal/worker"
)

func main() {
	logger := logging.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	conf := config.FromEnv()
	if err := conf.Validate(); err != nil {
		logger.Error("invalid configuration", err, nil)
		os.Exit(1)
	}
	logger.Info("starting chat worker", logging.LogFields{"config": conf.String()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Prefetch of one keeps a single request in flight per worker instance.
	manager := broker.NewManager(conf.AMQPURL(), 1, logging.NewWatermillAdapter(logger))
	defer manager.Close()

	workerMetrics := metrics.NewWorker(prometheus.DefaultRegisterer)
	if conf.MetricsEnabled {
		go serveMetrics(conf.MetricsPort, logger)
	}

	loop := worker.NewLoop(manager, worker.Canned{}, worker.Config{
		RequestQueue:  conf.RequestQueue,
		ResponseQueue: conf.ResponseQueue,
		PoisonQueue:   conf.PoisonQueue,
		MaxAttempts:   conf.WorkerMaxAttempts,
	}, logger, workerMetrics)

	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker loop terminated", err, nil)
		os.Exit(1)
	}
	logger.Info("worker stopped", nil)
}

func serveMetrics(port int, logger logging.ServiceLogger) {
	addr := fmt.Sprintf(":%d", port)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info("serving metrics", logging.LogFields{"address": addr})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", err, nil)
	}
}
