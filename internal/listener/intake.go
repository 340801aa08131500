package listener

import (
	"context"
	"fmt"

	"catmatch/internal"
	"catmatch/internal/apperr"
	"catmatch/internal/blobstore"
	"catmatch/internal/connectors"
	"catmatch/internal/logger"
	"catmatch/internal/pipeline"
	"catmatch/internal/storage"
)

type MailStore interface {
	connectors.MailRecorder
	ListMailByStatus(ctx context.Context, status string, limit int) ([]internal.MailMessageRow, error)
	UpdateMailStatus(ctx context.Context, id int, status string) error
}

// Processor is the part of the processing service mail intake drives.
type Processor interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (internal.Upload, error)
	Start(ctx context.Context, uploadID, ownerID string, mapping internal.ColumnMapping) (pipeline.StartResult, error)
	Discard(ctx context.Context, uploadID, ownerID string) error
}

// Intake turns spreadsheet attachments of fetched messages into uploads owned
// by one configured user and starts them with one configured mapping.
type Intake struct {
	store     MailStore
	blobs     blobstore.Store
	processor Processor
	ownerID   string
	mapping   internal.ColumnMapping
	log       *logger.Logger
}

func NewIntake(store MailStore, blobs blobstore.Store, processor Processor, ownerID string, mapping internal.ColumnMapping, log *logger.Logger) (*Intake, error) {
	if ownerID == "" {
		return nil, apperr.Configuration("mail intake", "MAIL_INTAKE_OWNER_ID is required")
	}
	if mapping.DescriptionColumn == "" {
		return nil, apperr.Configuration("mail intake", "MAIL_DESCRIPTION_COLUMN is required")
	}
	return &Intake{
		store:     store,
		blobs:     blobs,
		processor: processor,
		ownerID:   ownerID,
		mapping:   mapping,
		log:       log.With("component", "mail-intake"),
	}, nil
}

type IntakeResult struct {
	Messages int
	Uploads  int
	Skipped  int
	Failed   int
}

// ProcessPending handles up to limit fetched messages. Each message ends
// submitted when at least one attachment started processing, skipped when it
// had no spreadsheet, failed otherwise.
func (in *Intake) ProcessPending(ctx context.Context, limit int) (IntakeResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := in.store.ListMailByStatus(ctx, storage.MailFetched, limit)
	if err != nil {
		return IntakeResult{}, err
	}

	var res IntakeResult
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Messages++
		started, status := in.processMessage(ctx, row)
		res.Uploads += started
		switch status {
		case storage.MailSkipped:
			res.Skipped++
		case storage.MailFailed:
			res.Failed++
		}
		if err := in.store.UpdateMailStatus(ctx, row.ID, status); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (in *Intake) processMessage(ctx context.Context, row internal.MailMessageRow) (int, string) {
	log := in.log.With("mail_id", row.ID, "message_id", row.MessageID)
	raw, err := in.blobs.Get(ctx, row.RawRef)
	if err != nil {
		log.Error("raw message unreadable", "key", row.RawRef, "error", err)
		return 0, storage.MailFailed
	}
	attachments, subject, err := connectors.SpreadsheetAttachments(raw)
	if err != nil {
		log.Error("message not parseable", "error", err)
		return 0, storage.MailFailed
	}
	if len(attachments) == 0 {
		log.Info("no spreadsheet attachment", "subject", subject)
		return 0, storage.MailSkipped
	}

	started := 0
	for _, att := range attachments {
		if err := in.submit(ctx, att); err != nil {
			log.Warn("attachment not processed", "file", att.FileName, "kind", apperr.KindOf(err), "error", err)
			continue
		}
		started++
	}
	if started == 0 {
		return 0, storage.MailFailed
	}
	log.Info("mail intake submitted", "subject", subject, "uploads", started, "attachments", len(attachments))
	return started, storage.MailSubmitted
}

func (in *Intake) submit(ctx context.Context, att connectors.Attachment) error {
	u, err := in.processor.Submit(ctx, pipeline.SubmitRequest{
		OwnerID:      in.ownerID,
		Content:      att.Content,
		OriginalName: att.FileName,
		MimeType:     att.ContentType,
	})
	if err != nil {
		return fmt.Errorf("submit %s: %w", att.FileName, err)
	}
	if _, err := in.processor.Start(ctx, u.ID, in.ownerID, in.mapping); err != nil {
		// nobody will retry a rejected attachment with another mapping
		if derr := in.processor.Discard(ctx, u.ID, in.ownerID); derr != nil && !apperr.Is(derr, apperr.KindValidation) {
			in.log.Warn("rejected upload not removed", "upload_id", u.ID, "error", derr)
		}
		return fmt.Errorf("start %s: %w", u.ID, err)
	}
	return nil
}
