// Command router runs the packet-forwarding router's control plane:
// port registry, worker lifecycle, queue assignment engine, and the
// INFRA gRPC API, plus a health/metrics HTTP endpoint.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"marchproxy-router/internal/assign"
	"marchproxy-router/internal/config"
	"marchproxy-router/internal/driver"
	"marchproxy-router/internal/logging"
	"marchproxy-router/internal/port"
	"marchproxy-router/internal/rpcapi"
	"marchproxy-router/internal/worker"
)

var (
	version   = "0.1.0"
	buildTime = "development"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "router",
		Short:   "Packet-forwarding router control plane",
		Version: fmt.Sprintf("%s (built: %s)", version, buildTime),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting router", "version", version, "build_time", buildTime)

	drv := driver.NewStub()
	ports := port.NewRegistry(drv)
	workers := worker.NewRegistry(cfg.CPUAllowlist, cfg.MainCPU)
	engine := assign.NewEngine(ports, workers)
	service := rpcapi.NewService(ports, engine)

	grpcServer := rpcapi.NewServer(cfg.GRPCAddr, cfg.GRPCPort, service, logger)
	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Error("rpcapi server error", "err", err)
		}
	}()
	logger.Info("rpcapi server started", "address", cfg.GRPCAddr, "port", cfg.GRPCPort)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"version":%q,"worker_count":%d,"port_count":%d}`,
			version, workers.Count(), len(ports.List()))
	})

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		logger.Info("starting metrics server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "err", err)
		}
	}()

	logger.Info("router started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("received shutdown signal, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "err", err)
	}
	if err := grpcServer.Stop(); err != nil {
		logger.Error("rpcapi server shutdown error", "err", err)
	}

	logger.Info("graceful shutdown complete")
	return nil
}
