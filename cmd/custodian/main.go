package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"custodian/internal/api"
	"custodian/internal/config"
	"custodian/internal/detect"
	"custodian/internal/logging"
	"custodian/internal/metrics"
	"custodian/internal/monitor"
	"custodian/internal/pipeline"
	"custodian/internal/publish"
	"custodian/internal/reasoner"
	"custodian/internal/snapshot"
	"custodian/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.HostID)
	logger.Info("starting custodian",
		"host_id", cfg.HostID,
		"vault_dir", cfg.VaultDir,
		"poll_interval", cfg.PollInterval,
		"queue_size", cfg.QueueSize)

	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Evidence vault and snapshot engine.
	vlt, err := vault.New(logger, m, cfg.VaultDir)
	if err != nil {
		logger.Error("failed to open evidence vault", "error", err)
		os.Exit(1)
	}

	engine, err := snapshot.New(logger, m, vlt.SnapshotsDir(), snapshot.Options{
		CaptureNetwork: cfg.CaptureNetwork,
		TaskTimeout:    cfg.TaskTimeout,
		ProcessCap:     cfg.ProcessCap,
		FSMetadataCap:  cfg.FSMetadataCap,
		FSRoots:        cfg.FSRoots,
	})
	if err != nil {
		logger.Error("failed to create snapshot engine", "error", err)
		os.Exit(1)
	}

	// Collaborators degrade, never block startup: detection and capture work
	// without the bus or the reasoner.
	var pub pipeline.Publisher
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("custodian-"+cfg.HostID))
	if err != nil {
		logger.Warn("NATS unavailable, incident publishing disabled", "url", cfg.NATSURL, "error", err)
	} else {
		defer nc.Close()
		p, err := publish.NewPublisher(nc, logger, cfg.HostID, cfg.IncidentSubject, cfg.AlertSubject)
		if err != nil {
			logger.Error("failed to create publisher", "error", err)
			os.Exit(1)
		}
		pub = p
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	var reason pipeline.Reasoner
	if cfg.ReasonerURL != "" {
		reason = reasoner.NewClient(cfg.ReasonerURL, cfg.ReasonerTimeout, logger)
		logger.Info("reasoning collaborator enabled", "url", cfg.ReasonerURL)
	}

	// Incident pipeline: single consumer, bounded queue.
	pipe := pipeline.New(logger, m, engine, vlt, reason, pub, pipeline.Options{
		QueueSize:       cfg.QueueSize,
		ReasonerTimeout: cfg.ReasonerTimeout,
	})
	go pipe.Run(ctx)

	// Detection fast path.
	var extra []detect.Signature
	if cfg.SignaturesFile != "" {
		extra, err = detect.LoadSignatureFile(cfg.SignaturesFile)
		if err != nil {
			logger.Error("failed to load signature file", "path", cfg.SignaturesFile, "error", err)
			os.Exit(1)
		}
		logger.Info("extra signatures loaded", "path", cfg.SignaturesFile, "count", len(extra))
	}

	matcher := detect.NewMatcher(runtime.GOOS, extra)
	dedup := detect.NewDeduplicator(cfg.DedupWindow, cfg.DedupCap)
	detector := detect.NewDetector(logger, m, matcher, dedup, pipe)

	// Process observation.
	sources := monitor.PlatformSources(logger, cfg.PollInterval, cfg.BPFObjectPath)
	mon := monitor.New(logger, sources, detector.HandleEvent)
	if err := mon.Start(ctx); err != nil {
		logger.Error("failed to start process monitoring", "error", err)
		os.Exit(1)
	}

	// Status API.
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(logger, cfg.HostID, mon, detector, pipe, engine, vlt).Handler(),
	}
	go func() {
		logger.Info("status API listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status API failed", "error", err)
		}
	}()

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())

	// Stop observing first, then drain queued incidents bounded, then stop
	// the API.
	mon.Stop()
	pipe.Stop(cfg.DrainTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status API shutdown failed", "error", err)
	}

	cancel()
	logger.Info("custodian stopped")
}
