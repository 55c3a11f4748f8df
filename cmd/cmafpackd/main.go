package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"cmafpack/internal/delivery"
	"cmafpack/internal/packetizer"
	"cmafpack/internal/platform/config"
	"cmafpack/internal/platform/logger"
	"cmafpack/internal/platform/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.LoadEnv()

	port := config.GetEnv("PORT", "8080")
	cfgPath := config.GetEnv("STREAM_CONFIG", "stream.yaml")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("config error", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	store := packetizer.NewMemoryStore(cfg.RetentionCount)
	sink := delivery.NewServer(cfg.AppID, cfg.StreamID, store, log)

	assembler, err := packetizer.NewSegmentAssembler(packetizer.Config{
		AppID:           cfg.AppID,
		StreamID:        cfg.StreamID,
		SegmentPrefix:   cfg.SegmentPrefix,
		SegmentDuration: cfg.SegmentDuration,
		RetentionCount:  cfg.RetentionCount,
		LowLatency:      cfg.LowLatency,
		Video:           cfg.Video,
		Audio:           cfg.Audio,
	}, store, sink, log, met)
	if err != nil {
		log.Error("assembler setup failed", "error", err)
		os.Exit(1)
	}
	sink.Bind(assembler)

	r := chi.NewRouter()
	r.Handle("/metrics", met.Handler())
	r.Mount("/", sink.Handler())

	srv := &http.Server{Addr: ":" + port, Handler: r}

	var eg errgroup.Group
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	log.Info("delivery server starting",
		"port", port,
		"app", cfg.AppID,
		"stream", cfg.StreamID,
		"segment_duration_s", cfg.SegmentDuration,
		"low_latency", cfg.LowLatency,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received")
	assembler.Close()
	store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := eg.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("stopped")
}
