// Command realitycamd runs the RealityCam verification core: the HTTP API
// that issues device challenges, registers attested devices, accepts
// capture uploads, and answers verify-file queries (spec.md §§4-7). It
// owns the store, challenge cache, attestation configuration and the
// background maintenance that keeps the challenge cache bounded.
package main

import (
	"context"
	"crypto/x509"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LucaDeLeo/realitycam/internal/challenge"
	"github.com/LucaDeLeo/realitycam/internal/config"
	"github.com/LucaDeLeo/realitycam/internal/health"
	"github.com/LucaDeLeo/realitycam/internal/httpapi"
	"github.com/LucaDeLeo/realitycam/internal/logging"
	"github.com/LucaDeLeo/realitycam/internal/metrics"
	"github.com/LucaDeLeo/realitycam/internal/signer"
	"github.com/LucaDeLeo/realitycam/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Version, Commit and BuildTime are overridden at link time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// daemon wires the store, challenge cache, HTTP server and metrics
// listener together and owns their start/stop lifecycle.
type daemon struct {
	cfg       *config.Config
	store     *store.Store
	challenge *challenge.Store
	logger    *logging.Logger

	httpServer    *http.Server
	metricsServer *http.Server

	stopCleanup chan struct{}
}

func newDaemon(cfg *config.Config) (*daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create data directories: %w", err)
	}

	logger, err := logging.New(loggingConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	challengeStore := challenge.New()

	checker := health.NewChecker()
	checker.RegisterFunc("database", true, health.FileExistsCheck(cfg.Database.Path))
	checker.SetReady(true)

	collector := metrics.NewCollector(cfg.Metrics.Namespace, cfg.Metrics.Subsystem, prometheus.NewRegistry())

	androidRoots, err := loadAndroidRoots(cfg.Attestation.AndroidRootPath)
	if err != nil {
		logger.Warn("failed to load android root certificates, android registrations will fail", "error", err)
		androidRoots = x509.NewCertPool()
	}

	server := httpapi.NewServer(cfg, st, challengeStore, logger, collector, checker, androidRoots)

	if cfg.Signing.KeyPath != "" {
		key, err := signer.LoadPrivateKey(cfg.Signing.KeyPath)
		if err != nil {
			logger.Warn("failed to load evidence signing key, capture lookups will be unsigned", "error", err, "path", cfg.Signing.KeyPath)
		} else {
			server.SetSigningKey(key)
		}
	}

	d := &daemon{
		cfg:       cfg,
		store:     st,
		challenge: challengeStore,
		logger:    logger,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      server.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		d.metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	}

	return d, nil
}

// Start launches the HTTP server, the metrics listener (if enabled) and
// the background challenge-cache sweep, all in their own goroutines.
func (d *daemon) Start() {
	go func() {
		d.logger.Info("http server listening", "addr", d.cfg.Server.Addr)
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error("http server exited", "error", err)
		}
	}()

	if d.metricsServer != nil {
		go func() {
			d.logger.Info("metrics server listening", "addr", d.cfg.Metrics.Addr)
			if err := d.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.Error("metrics server exited", "error", err)
			}
		}()
	}

	d.stopCleanup = make(chan struct{})
	go d.sweepExpiredChallenges()
}

func (d *daemon) sweepExpiredChallenges() {
	interval := d.cfg.Challenge.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := d.challenge.CleanupExpired(); n > 0 {
				d.logger.Debug("swept expired challenges", "count", n)
			}
		case <-d.stopCleanup:
			return
		}
	}
}

// Stop shuts down the HTTP and metrics listeners, stops the background
// sweep, and closes the store. It returns the first error encountered.
func (d *daemon) Stop(ctx context.Context) error {
	close(d.stopCleanup)

	var firstErr error
	if d.metricsServer != nil {
		if err := d.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func loggingConfig(cfg *config.Config) *logging.Config {
	c := logging.DefaultConfig()
	c.Component = "realitycamd"

	switch cfg.Logging.Level {
	case "debug":
		c.Level = logging.LevelDebug
	case "warn":
		c.Level = logging.LevelWarn
	case "error":
		c.Level = logging.LevelError
	default:
		c.Level = logging.LevelInfo
	}
	if cfg.Logging.Format == "json" {
		c.Format = logging.FormatJSON
	}
	if cfg.Logging.Path != "" {
		c.Output = "file"
		c.FilePath = cfg.Logging.Path
	}
	return c
}

func loadAndroidRoots(path string) (*x509.CertPool, error) {
	if path == "" {
		return x509.NewCertPool(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read android root bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates parsed from %s", path)
	}
	return pool, nil
}

func main() {
	configPath := flag.String("config", "", "path to the realitycamd config file (default: platform config directory)")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("realitycamd %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return
	}

	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}

	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := newDaemon(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize daemon: %v\n", err)
		os.Exit(1)
	}
	if created {
		d.logger.Info("wrote default configuration", "path", path)
	}

	d.Start()
	d.logger.Info("realitycamd started", "version", Version, "commit", Commit, "build_time", BuildTime, "config", path)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	d.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		d.logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	d.logger.Info("realitycamd stopped")
}
