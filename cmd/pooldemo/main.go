// Command pooldemo wires the connection pool core into a runnable
// process: load pool configuration, bind one pool per datasource, and
// serve Prometheus metrics plus a health endpoint until a shutdown
// signal arrives. It is a thin demonstration harness, not a proxy —
// callers wanting a pooled connection import internal/pool directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidelock/xapool/internal/config"
	"github.com/tidelock/xapool/internal/health"
	"github.com/tidelock/xapool/internal/mssqldriver"
	"github.com/tidelock/xapool/internal/pool"
	"github.com/tidelock/xapool/pkg/txn"
)

var (
	configPath  = flag.String("config", "configs/pools.yaml", "Path to pool configuration file")
	metricsAddr = flag.String("metrics-addr", ":9090", "Address to serve /metrics on")
	healthAddr  = flag.String("health-addr", ":9091", "Address to serve /healthz on")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[main] starting pool demo")

	cfgs, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] failed to load pool configuration: %v", err)
	}
	log.Printf("[main] configuration loaded: %d pools", len(cfgs))

	txMgr := txn.NewFakeManager()

	registry := pool.NewRegistry(txMgr)
	for _, c := range cfgs {
		driver := mssqldriver.New(dsn(c.DataSource))
		if _, err := registry.Bind(c.DataSource.Name, driver, c.Options); err != nil {
			log.Fatalf("[main] failed to bind pool %s: %v", c.DataSource.Name, err)
		}
	}

	defer func() {
		log.Println("[main] shutting down all pools...")
		registry.ShutdownAll()
	}()

	for _, name := range registry.Names() {
		p, _ := registry.Lookup(name)
		log.Printf("[main]   pool %s ready", p.Name())
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         *metricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] metrics server listening on %s/metrics", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] metrics server error: %v", err)
		}
	}()

	checker := health.NewChecker(registry, "SELECT 1")
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", checker.ServeHTTP)
	healthServer := &http.Server{
		Addr:         *healthAddr,
		Handler:      healthMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] health server listening on %s/healthz", *healthAddr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] health server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[main] ready, waiting for shutdown signal...")
	sig := <-sigCh
	log.Printf("[main] received signal %v, shutting down gracefully...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] health server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] metrics server shutdown error: %v", err)
	}

	log.Println("[main] shutdown complete")
}

func dsn(ds config.DataSource) string {
	return fmt.Sprintf("sqlserver://%s:%s@%s?database=%s", ds.Username, ds.Password, ds.Addr(), ds.Database)
}
