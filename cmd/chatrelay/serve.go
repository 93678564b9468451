package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/answer"
	"github.com/MegaGrindStone/chatrelay/internal/handlers"
	"github.com/MegaGrindStone/chatrelay/internal/metrics"
	"github.com/MegaGrindStone/chatrelay/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type store interface {
	handlers.Store
	Close() error
}

func openStore(ctx context.Context, cfg storeConfig) (store, error) {
	switch cfg.Backend {
	case backendFirestore:
		return services.NewFirestore(ctx, cfg.ProjectID)
	default:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return services.NewBoltDB(cfg.Path)
	}
}

func runServe(ctx context.Context, cfgPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Moderation.APIKey == "" {
		return errors.New("moderation.apiKey is required")
	}

	logger, err := cfg.logger()
	if err != nil {
		return err
	}

	db, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	verifier, err := services.NewJWTVerifier(cfg.jwtConfig())
	if err != nil {
		return err
	}

	completer, err := cfg.LLM.completer(logger)
	if err != nil {
		return fmt.Errorf("error creating %s client: %w", cfg.LLM.provider(), err)
	}

	pipeline := answer.NewPipeline(cfg.moderator(logger), completer, services.NewMarkdown(cfg.MarkdownStyle), logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := handlers.NewMain(db, verifier, pipeline, metrics.New(reg), logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", m.Routes())

	// No write timeout: event streams stay open and answers wait on the language model.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	publishCtx, cancelPublish := context.WithCancel(ctx)
	defer cancelPublish()
	go m.PublishChats(publishCtx)

	srv.RegisterOnShutdown(func() {
		cancelPublish()
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("store", cfg.Store.Backend),
			slog.String("llm", cfg.LLM.provider()))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}

	return nil
}
