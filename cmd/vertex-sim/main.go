// Command vertex-sim simulates vertices, fits them with the Billoir fitter
// and reports pulls, convergence and fit metrics.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/vertexfit/internal/api"
	"github.com/banshee-data/vertexfit/internal/config"
	"github.com/banshee-data/vertexfit/internal/db"
	"github.com/banshee-data/vertexfit/internal/monitoring"
	"github.com/banshee-data/vertexfit/internal/storage/sqlite"
	"github.com/banshee-data/vertexfit/internal/version"
)

var (
	configPath  = flag.String("config", "", "Vertexing config (.json, .yaml); built-in defaults when empty")
	events      = flag.Int("events", 1000, "Number of simulated vertices")
	seed        = flag.Uint64("seed", 1, "Random seed")
	dbPath      = flag.String("db", "", "SQLite results database (skipped when empty)")
	plotsDir    = flag.String("plots", "", "Directory for pull histograms (skipped when empty)")
	htmlPath    = flag.String("html", "", "Convergence chart HTML file (skipped when empty)")
	listen      = flag.String("serve", "", "After fitting, serve /metrics, /convergence, /api and /debug on this address")
	workers     = flag.Int("workers", 0, "Fit workers; overrides batch_workers when positive")
	constrained = flag.Bool("constraint", false, "Apply a beam-spot constraint at the origin")
	migrateCmd  = flag.String("migrate", "", "Run a schema migration action (up, down, status) on -db and exit")
	debug       = flag.Bool("debug", false, "Log per-fit diagnostics")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("vertex-sim"))
		return
	}
	monitoring.SetDebug(*debug)
	log.Print(version.String("vertex-sim"))

	if *migrateCmd != "" {
		if *dbPath == "" {
			log.Fatal("-migrate requires -db")
		}
		if err := db.RunMigrateCommand(os.Stdout, *migrateCmd, *dbPath); err != nil {
			log.Fatalf("migrate %s: %v", *migrateCmd, err)
		}
		return
	}

	cfg := config.DefaultVertexingConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadVertexingConfig(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := monitoring.NewFitMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	out, err := runPipeline(ctx, cfg, options{
		Events:      *events,
		Seed:        *seed,
		Workers:     *workers,
		Constrained: *constrained,
		DBPath:      *dbPath,
		PlotsDir:    *plotsDir,
		HTMLPath:    *htmlPath,
	}, metrics)
	if err != nil {
		log.Printf("vertex-sim failed: %v", err)
		os.Exit(1)
	}
	defer out.close()
	log.Printf("fitted %d candidates in %s", out.Stats.Total, time.Since(start).Round(time.Millisecond))

	if *listen == "" {
		return
	}

	mux, err := newServeMux(reg, out)
	if err != nil {
		log.Printf("failed to mount routes: %v", err)
		return
	}
	server := &http.Server{Addr: *listen, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
			stop()
		}
	}()
	log.Printf("serving results on %s", *listen)

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// newServeMux mounts the metrics endpoint, the convergence chart and, when
// results were stored, the results API and the database admin routes.
func newServeMux(reg *prometheus.Registry, out *outcome) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/convergence", out.Convergence)
	if out.DB != nil {
		api.NewResultsAPI(sqlite.NewVertexStore(out.DB.DB)).RegisterRoutes(mux)
		if err := out.DB.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}
