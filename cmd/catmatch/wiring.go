package main

import (
	"context"

	"catmatch/internal"
	"catmatch/internal/blobstore"
	"catmatch/internal/catalog"
	"catmatch/internal/config"
	"catmatch/internal/listener"
	"catmatch/internal/logger"
	"catmatch/internal/pipeline"
	"catmatch/internal/registry"
	"catmatch/internal/review"
	"catmatch/internal/storage"
)

// stack is every long-lived service a command may need.
type stack struct {
	blobs      blobstore.Store
	catalog    *catalog.Service
	registry   *registry.Service
	review     *review.Service
	runner     *pipeline.Runner
	processing *pipeline.ProcessingService
}

func buildStack(ctx context.Context, cfg config.Config, db *storage.DB, log *logger.Logger) (*stack, error) {
	blobs, err := blobstore.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cat := catalog.NewService(db, cfg, log)
	if _, err := cat.Reload(ctx); err != nil {
		return nil, err
	}
	reg := registry.NewService(db, blobs, log)
	runner := pipeline.NewRunner(cfg.ProcessWorkers, cfg.ProcessQueueSize, log)
	matcher := pipeline.NewTokenMatcher(cat, cfg.MatchMaxCandidates)

	return &stack{
		blobs:      blobs,
		catalog:    cat,
		registry:   reg,
		review:     review.NewService(db, log),
		runner:     runner,
		processing: pipeline.NewProcessingService(db, reg, blobs, matcher, runner, cfg, log),
	}, nil
}

func buildListener(ctx context.Context, cfg config.Config, db *storage.DB, s *stack, log *logger.Logger) (*listener.Service, error) {
	conn, err := listener.NewConnector(ctx, cfg)
	if err != nil {
		return nil, err
	}
	intake, err := listener.NewIntake(db, s.blobs, s.processing, cfg.MailIntakeOwnerID, internal.ColumnMapping{
		DescriptionColumn: cfg.MailDescriptionColumn,
		QuantityColumn:    cfg.MailQuantityColumn,
	}, log)
	if err != nil {
		return nil, err
	}
	return listener.NewService(cfg, db, s.blobs, conn, intake, log), nil
}
