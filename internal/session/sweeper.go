package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/mihretab/portfolio/internal/store"
)

// SweepConfig controls the idle sweeper.
type SweepConfig struct {
	Interval time.Duration
	IdleTTL  time.Duration
	// Retention bounds how long conversation records are kept. Zero keeps
	// them forever.
	Retention time.Duration
}

// RunSweeper periodically unmounts idle conversations and prunes old
// conversation records. It blocks until ctx is cancelled.
func RunSweeper(ctx context.Context, hub *Hub, repo store.Repository, cfg SweepConfig) error {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	slog.Info("Conversation sweeper started",
		"interval", cfg.Interval,
		"idle_ttl", cfg.IdleTTL,
		"retention", cfg.Retention)

	for {
		select {
		case now := <-ticker.C:
			sweepOnce(ctx, hub, repo, cfg, now)
		case <-ctx.Done():
			slog.Info("Conversation sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func sweepOnce(ctx context.Context, hub *Hub, repo store.Repository, cfg SweepConfig, now time.Time) {
	if closed := hub.Sweep(now, cfg.IdleTTL); closed > 0 {
		slog.Info("Sweeper closed idle conversations", "count", closed)
	}

	if repo == nil || cfg.Retention <= 0 {
		return
	}
	deleted, err := repo.DeleteConversationsBefore(ctx, now.Add(-cfg.Retention))
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Sweeper cancelled during record pruning", "error", err)
			return
		}
		slog.Error("Sweeper failed to prune conversation records", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Sweeper pruned conversation records", "count", deleted)
	}
}
