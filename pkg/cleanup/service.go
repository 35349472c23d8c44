// Package cleanup provides data retention for persisted sessions.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/insightlabs/marketscope/pkg/checkpoint"
	"github.com/insightlabs/marketscope/pkg/config"
)

// Service periodically deletes persisted sessions whose newest artifact is
// older than the retention window. Deletion is idempotent; running the
// sweep twice is harmless.
type Service struct {
	config *config.RetentionConfig
	store  *checkpoint.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service over the checkpoint store.
func NewService(cfg *config.RetentionConfig, store *checkpoint.Store) *Service {
	return &Service{config: cfg, store: store}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"session_retention_days", s.config.SessionRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) sweep() {
	age := time.Duration(s.config.SessionRetentionDays) * 24 * time.Hour
	count, err := s.store.DeleteOlderThan(age)
	if err != nil {
		slog.Error("Retention: session sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted expired sessions", "count", count)
	}
}
