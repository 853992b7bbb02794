package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"graphledger-backend/application/ports"
	"graphledger-backend/domain/events"
	"graphledger-backend/infrastructure/config"
	"graphledger-backend/infrastructure/di"

	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Optional YAML override file, hot-reloaded while running
	var watcher *config.Watcher
	if path := os.Getenv("CONFIG_OVERRIDES"); path != "" {
		overlaid, err := config.ApplyOverrides(*cfg, path)
		if err != nil {
			log.Fatalf("Failed to apply configuration overrides: %v", err)
		}
		cfg = &overlaid

		watcher, err = config.NewWatcher(*cfg, path, nil)
		if err != nil {
			log.Fatalf("Failed to watch configuration overrides: %v", err)
		}
		defer watcher.Close()
	}

	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	logger := container.Logger

	if watcher != nil {
		watcher.OnChange(func(old, next config.Config) {
			logger.Info("configuration overrides reloaded; new settings apply on restart",
				zap.String("old_log_level", old.LogLevel),
				zap.String("log_level", next.LogLevel))
		})
	}

	var background sync.WaitGroup

	// Command workers behind the bridge
	background.Add(1)
	go func() {
		defer background.Done()
		container.Bridge.Run(ctx, 4)
	}()

	// Read-model projection over the full log
	background.Add(1)
	go func() {
		defer background.Done()
		if err := container.Projector.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("projector stopped", zap.Error(err))
		}
	}()

	// Live tail feeding the bridge's outbound buffer
	background.Add(1)
	go func() {
		defer background.Done()
		pumpEvents(ctx, container, logger)
	}()

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      container.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
			zap.String("event_store", cfg.EventStore),
			zap.String("publisher", cfg.Publisher),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	cancel()
	background.Wait()

	if err := logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}
	log.Println("Server stopped")
}

// pumpEvents tails the log from the moment of startup and hands every new
// event to the bridge buffer for synchronous consumers.
func pumpEvents(ctx context.Context, container *di.Container, logger *zap.Logger) {
	for ctx.Err() == nil {
		sub, err := container.EventLog.Subscribe(ctx, events.SubjectAll(),
			ports.StartPosition{Policy: ports.ReplayLatest})
		if err != nil {
			logger.Error("event tail subscription failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		for env := range sub.Events() {
			container.Bridge.OfferEvent(env)
		}
		sub.Close()

		if err := sub.Err(); err != nil && ctx.Err() == nil {
			logger.Warn("event tail ended, resubscribing", zap.Error(err))
		}
	}
}
