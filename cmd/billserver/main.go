// cmd/billserver/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/azogue/pvpcbill/internal/config"
	"github.com/azogue/pvpcbill/internal/esios"
	"github.com/azogue/pvpcbill/internal/metrics"
	"github.com/azogue/pvpcbill/internal/publisher"
	"github.com/azogue/pvpcbill/internal/server"
	"github.com/azogue/pvpcbill/internal/service"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs", "Path to the configuration directory")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // Flushes any buffered log entries

	logger.Info("Configuration loaded", zap.String("file", cfg.File), zap.Bool("kafka_enabled", cfg.Kafka.Enabled))

	tables, err := cfg.Billing.Tables()
	if err != nil {
		logger.Fatal("Failed to load regulatory tables", zap.Error(err), zap.String("path", cfg.Billing.TablesPath))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	client := esios.NewClient(esios.ClientConfig{
		BaseURL:           cfg.ESIOS.BaseURL,
		Timeout:           cfg.ESIOS.Timeout,
		RequestsPerSecond: cfg.ESIOS.RequestsPerSecond,
		Burst:             cfg.ESIOS.Burst,
		MaxRetries:        cfg.ESIOS.MaxRetries,
		RetryInterval:     cfg.ESIOS.RetryInterval,
		Concurrency:       cfg.ESIOS.Concurrency,
	}, logger)
	var store *esios.Store
	if cfg.Store.Path != "" {
		store = esios.NewStore(cfg.Store.Path)
	}
	source := esios.NewSource(client, store, logger, m)

	opts := []service.Option{service.WithBatchConcurrency(cfg.Billing.BatchConcurrency)}
	serverOpts := []server.Option{server.WithMetrics(m, reg)}

	var pub *publisher.Publisher
	if cfg.Kafka.Enabled {
		pub, err = publisher.New(cfg.Kafka, cfg.Publisher, logger, m)
		if err != nil {
			logger.Fatal("Failed to create bill publisher", zap.Error(err))
		}
		pub.Start()
		opts = append(opts, service.WithPublisher(pub))
		serverOpts = append(serverOpts, server.WithPublisherStats(pub))
	}

	bills := service.NewBillService(source, tables, logger, m, opts...)

	httpServer, err := server.NewHTTPServer(cfg, bills, tables, logger, serverOpts...)
	if err != nil {
		logger.Fatal("Failed to create HTTP server", zap.Error(err))
	}
	httpServer.Start()
	logger.Info("Bill server started", zap.Ints("tariff_years", tables.Years()))

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Shutting down server...", zap.String("signal", sig.String()))
	case err := <-httpServer.Err():
		logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout+5*time.Second)
	defer shutdownCancel()

	// Stop accepting requests first, then drain the publisher.
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error during HTTP server shutdown", zap.Error(err))
	}
	if pub != nil {
		pub.Stop()
	}
	logger.Info("Server exited")
}
