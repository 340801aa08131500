package main

import (
	"context"
	"time"

	"catmatch/internal/logger"
)

// maintain keeps a long-running process in step with the database: it picks
// up catalog imports made by other processes and re-queues uploads that are
// PROCESSING without a task, either from a previous run or a full queue.
func maintain(ctx context.Context, s *stack, interval time.Duration, log *logger.Logger) {
	log = log.With("component", "maintenance")
	for {
		if reloaded, err := s.catalog.ReloadIfChanged(ctx); err != nil {
			log.Warn("catalog reload check failed", "error", err)
		} else if reloaded {
			log.Info("catalog index reloaded after import")
		}
		if n, err := s.processing.ResumeInterrupted(ctx); err != nil {
			log.Warn("resume pass failed", "error", err)
		} else if n > 0 {
			log.Info("uploads queued again", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
