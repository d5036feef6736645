// cmd/doerhub-agent/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"doerhub-agent/internal/bus"
	"doerhub-agent/internal/common/config"
	"doerhub-agent/internal/common/logger"
	"doerhub-agent/internal/models"
	"doerhub-agent/internal/notify"
	"doerhub-agent/internal/session"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting doerhub agent...",
		zap.String("role", cfg.Credentials.Role),
		zap.String("backend", cfg.Backend.BaseURL),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := bus.New(log)
	logBusEvents(eventBus, log)

	// --- Open the session with retry ---
	var sess *session.Session
	err = retryWithBackoff(func() error {
		var err error
		sess, err = session.Open(ctx, cfg, eventBus, log)
		return err
	}, 10, 2*time.Second, zapLog, "session open")

	if err != nil {
		zapLog.Fatal("session open failed after retries", zap.Error(err))
	}
	zapLog.Info("Session opened",
		zap.String("user", sess.Profile().Username),
		zap.String("feed", sess.Feed().Key()),
	)

	// --- Health & Metrics Server ---
	if cfg.Metrics.Enabled {
		go func() {
			http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "healthy",
					"time":   time.Now().Format(time.RFC3339),
				})
			})
			http.Handle("/metrics", promhttp.Handler())
			zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.Address))
			if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
				zapLog.Error("Health/Metrics server failed", zap.Error(err))
			}
		}()
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, closing session...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	sess.Close(shutdownCtx)
	zapLog.Info("Agent stopped")
}

// logBusEvents surfaces the feed on the process log.
func logBusEvents(b *bus.Bus, log logger.Logger) {
	b.Subscribe(bus.TopicNotificationNew, func(_ string, payload interface{}) {
		if n, ok := payload.(models.Notification); ok {
			log.Info("new notification", map[string]interface{}{
				"id":      n.ID,
				"kind":    n.Kind,
				"message": n.Message,
			})
		}
	})
	b.Subscribe(bus.TopicNotificationUnread, func(_ string, payload interface{}) {
		if u, ok := payload.(notify.UnreadUpdate); ok && u.Delta > 0 {
			log.Info("unread notifications", map[string]interface{}{
				"count": u.Count,
				"delta": u.Delta,
			})
		}
	})
}
