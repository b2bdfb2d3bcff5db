package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/arborlabs/sigil/jetstream"
	"github.com/arborlabs/sigil/labeler"
	"github.com/arborlabs/sigil/store"
)

type Server struct {
	logger   *slog.Logger
	db       *gorm.DB
	cursors  *store.CursorStore
	consumer *jetstream.Consumer
	mod      *labeler.ModServiceClient

	checkpointEvery time.Duration
	shutdownTimeout time.Duration

	shutdownOnce sync.Once
	shutdownErr  error
}

// Run starts the metrics listener, session refresher, and feed consumer,
// then blocks checkpointing the cursor until a termination signal arrives.
func (s *Server) Run(ctx context.Context, metricsListen string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := s.RunMetrics(metricsListen); err != nil {
			s.logger.Error("metrics listener failed", "err", err)
		}
	}()
	go s.mod.RunRefreshSession(ctx)

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("starting feed consumer: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(s.checkpointEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkpoint(ctx)
		case v := <-sig:
			s.logger.Info("received signal, shutting down", "signal", v.String())
			return s.Shutdown()
		case <-ctx.Done():
			return s.Shutdown()
		}
	}
}

// checkpoint persists the consumer's low watermark. Skipped while
// disconnected so a stale in-memory cursor is not re-written during
// reconnect churn.
func (s *Server) checkpoint(ctx context.Context) {
	if !s.consumer.Connected() {
		return
	}
	cur := s.consumer.Cursor()
	if cur <= 0 {
		return
	}
	if err := s.cursors.Save(ctx, cur); err != nil {
		s.logger.Error("failed to persist cursor", "cursor", cur, "err", err)
	}
}

// Shutdown drains the consumer, flushes the final cursor position, and
// closes the database. Safe to call more than once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		if err := s.consumer.Shutdown(s.shutdownTimeout); err != nil {
			s.logger.Warn("feed consumer did not drain cleanly", "err", err)
		}

		if cur := s.consumer.Cursor(); cur > 0 {
			if err := s.cursors.Save(context.Background(), cur); err != nil {
				s.logger.Error("failed to flush final cursor", "cursor", cur, "err", err)
				s.shutdownErr = err
			} else {
				s.logger.Info("flushed final cursor", "cursor", cur)
			}
		}

		sqlDB, err := s.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				s.logger.Error("failed to close database", "err", err)
			}
		}
		s.logger.Info("shutdown complete")
	})
	return s.shutdownErr
}

func (s *Server) RunMetrics(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, mux)
}
