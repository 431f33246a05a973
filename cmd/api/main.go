// The api binary runs the stateless front-end: the HTTP shell, the request
// publisher, the pending ledger, and the supervised response consumer.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaylabs/chatbridge/internal/bridge"
	"github.com/relaylabs/chatbridge/internal/broker"
	"github.com/relaylabs/chatbridge/internal/config"
	"github.com/relaylabs/chatbridge/internal/httpapi"
	"github.com/relaylabs/chatbridge/internal/logging"
	"github.com/relaylabs/chatbridge/internal/metrics"
)

func main() {
	logger := logging.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	conf := config.FromEnv()
	if err := conf.Validate(); err != nil {
		logger.Error("invalid configuration", err, nil)
		os.Exit(1)
	}
	logger.Info("starting chat API", logging.LogFields{"config": conf.String()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := broker.NewManager(conf.AMQPURL(), 0, logging.NewWatermillAdapter(logger))
	defer manager.Close()

	bridgeMetrics := metrics.NewBridge(prometheus.DefaultRegisterer)
	ledger := bridge.NewLedger()
	metrics.RegisterPendingGauge(prometheus.DefaultRegisterer, func() float64 {
		return float64(ledger.Len())
	})

	publisher := bridge.NewPublisher(manager, ledger, conf.RequestQueue, logger, bridgeMetrics)
	consumer := bridge.NewConsumer(manager, ledger, conf.ResponseQueue, logger, bridgeMetrics, conf.ConsumerBackoff)

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		bridge.Supervise(ctx, "response-consumer", logger, bridgeMetrics, consumer.Run)
	}()

	if conf.MetricsEnabled {
		go serveMetrics(conf.MetricsPort, logger)
	}

	server := httpapi.New(publisher, ledger, logger, conf.CORSAllowedOrigins)
	go func() {
		if err := server.Start(conf.HTTPAddress); err != nil {
			logger.Error("HTTP server failed", err, nil)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", err, nil)
	}
	publisher.Wait()
	waitBounded(&background, conf.ShutdownTimeout, logger)
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

// waitBounded joins background tasks but refuses to hang shutdown forever on
// a stuck loop.
func waitBounded(wg *sync.WaitGroup, timeout time.Duration, logger logging.ServiceLogger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Error("background tasks did not stop in time", nil, logging.LogFields{
			"timeout": timeout.String(),
		})
	}
}
