package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"catmatch/internal"
	"catmatch/internal/apperr"
	"catmatch/internal/blobstore"
	"catmatch/internal/config"
	"catmatch/internal/logger"
	"catmatch/internal/registry"
	"catmatch/internal/sheet"
)

var errMatchTimeout = errors.New("matcher timed out")

type Store interface {
	CreateUpload(ctx context.Context, u internal.Upload, audit internal.AuditEntry) error
	GetUpload(ctx context.Context, id string) (internal.Upload, error)
	ListUploadsByStatus(ctx context.Context, status internal.UploadStatus) ([]internal.Upload, error)
	ListUnmatchedLineItems(ctx context.Context, uploadID string) ([]internal.LineItem, error)
	InsertMatch(ctx context.Context, m internal.MatchCandidate) (bool, error)
	IncrementProcessed(ctx context.Context, uploadID string, at time.Time) (internal.UploadStatus, int, error)
	SyncProgress(ctx context.Context, uploadID string) error
	ExportRows(ctx context.Context, uploadID string) ([]internal.MatchExportRow, error)
	AppendAudit(ctx context.Context, entry internal.AuditEntry) error
}

// Scheduler runs per-upload tasks in the background. *Runner satisfies it.
type Scheduler interface {
	Enqueue(ctx context.Context, uploadID string, task Task) (bool, error)
	Cancel(uploadID string) bool
}

type ProcessingService struct {
	store     Store
	registry  *registry.Service
	blobs     blobstore.Store
	matcher   Matcher
	scheduler Scheduler
	cfg       config.Config
	log       *logger.Logger
	now       func() time.Time
}

func NewProcessingService(store Store, reg *registry.Service, blobs blobstore.Store, matcher Matcher, scheduler Scheduler, cfg config.Config, log *logger.Logger) *ProcessingService {
	return &ProcessingService{
		store:     store,
		registry:  reg,
		blobs:     blobs,
		matcher:   matcher,
		scheduler: scheduler,
		cfg:       cfg,
		log:       log.With("component", "processing"),
		now:       time.Now,
	}
}

type SubmitRequest struct {
	OwnerID      string
	Content      []byte
	OriginalName string
	MimeType     string
	Size         int64
}

// Submit stores the file and registers a CREATED upload.
func (s *ProcessingService) Submit(ctx context.Context, req SubmitRequest) (internal.Upload, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return internal.Upload{}, apperr.Validation("submit upload", "owner id is required")
	}
	size := req.Size
	if size <= 0 {
		size = int64(len(req.Content))
	}
	if size <= 0 || len(req.Content) == 0 {
		return internal.Upload{}, apperr.Validation("submit upload", "file is empty")
	}
	if s.cfg.UploadMaxBytes > 0 && size > s.cfg.UploadMaxBytes {
		return internal.Upload{}, apperr.Validation("submit upload", "file exceeds %d bytes", s.cfg.UploadMaxBytes)
	}
	format, err := sheet.DetectFormat(req.MimeType, req.OriginalName, req.Content)
	if err != nil {
		return internal.Upload{}, err
	}

	id := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(req.OriginalName))
	if ext == "" {
		ext = "." + string(format)
	}
	key := fmt.Sprintf("uploads/%s/%s%s", req.OwnerID, id, ext)
	if err := s.blobs.Put(ctx, key, req.Content, req.MimeType); err != nil {
		return internal.Upload{}, err
	}

	now := s.now()
	u := internal.Upload{
		ID:           id,
		OwnerID:      req.OwnerID,
		OriginalName: req.OriginalName,
		StoredName:   key,
		Size:         size,
		MimeType:     req.MimeType,
		Status:       internal.UploadCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUpload(ctx, u, internal.AuditEntry{
		Actor:     req.OwnerID,
		Action:    internal.AuditUploadFile,
		Detail:    fmt.Sprintf("upload=%s file=%s size=%d", id, req.OriginalName, size),
		CreatedAt: now,
	}); err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.log.Warn("orphan blob left behind", "key", key, "error", delErr)
		}
		return internal.Upload{}, err
	}
	s.log.Info("upload submitted", "upload_id", id, "owner", req.OwnerID, "file", req.OriginalName, "size", size)
	return u, nil
}

// StartResult reports the parsed item count. Queued is false when the
// processing queue was full; the upload stays PROCESSING and is picked up by
// the next ResumeInterrupted pass.
type StartResult struct {
	UploadID   string `json:"uploadId"`
	TotalItems int    `json:"totalItems"`
	Queued     bool   `json:"queued"`
}

// Start parses a CREATED upload with mapping, stores its line items and hands
// the upload to the scheduler. Mapping and format errors leave the upload
// untouched so the caller can retry with a different mapping.
func (s *ProcessingService) Start(ctx context.Context, uploadID, ownerID string, mapping internal.ColumnMapping) (StartResult, error) {
	u, err := s.store.GetUpload(ctx, uploadID)
	if err != nil {
		return StartResult{}, err
	}
	if u.OwnerID != ownerID {
		return StartResult{}, apperr.NotFound("start processing", "upload %s not found", uploadID)
	}
	if u.Status != internal.UploadCreated {
		return StartResult{}, apperr.Validation("start processing", "upload %s is %s, not %s", uploadID, u.Status, internal.UploadCreated)
	}

	content, err := s.blobs.Get(ctx, u.StoredName)
	if err != nil {
		s.fail(ctx, uploadID, "stored file unreadable: "+apperr.Message(err))
		return StartResult{}, apperr.New(apperr.KindPersistence, "start processing", "stored file unreadable", err)
	}
	rows, err := ParseUpload(content, u.MimeType, u.OriginalName, mapping)
	if err != nil {
		return StartResult{}, err
	}

	items := make([]internal.LineItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, internal.LineItem{
			ID:          uuid.NewString(),
			UploadID:    uploadID,
			RowNumber:   row.RowNumber,
			Text:        row.Text,
			QuantityRaw: row.QuantityRaw,
			Quantity:    row.Quantity,
			Unit:        row.Unit,
		})
	}
	ok, err := s.registry.MarkProcessing(ctx, uploadID, items, ownerID)
	if err != nil {
		s.fail(ctx, uploadID, "line items not stored: "+apperr.Message(err))
		return StartResult{}, apperr.New(apperr.KindPersistence, "start processing", "line items not stored", err)
	}
	if !ok {
		return StartResult{}, apperr.Validation("start processing", "upload %s is no longer %s", uploadID, internal.UploadCreated)
	}

	s.log.Info("processing started", "upload_id", uploadID, "items", len(items))
	queued, _ := s.enqueue(ctx, uploadID)
	return StartResult{UploadID: uploadID, TotalItems: len(items), Queued: queued}, nil
}

func (s *ProcessingService) enqueue(ctx context.Context, uploadID string) (bool, error) {
	queued, err := s.scheduler.Enqueue(ctx, uploadID, func(taskCtx context.Context, h *Handle) error {
		return s.process(taskCtx, uploadID, h)
	})
	if err != nil {
		s.log.Warn("upload not queued, it stays PROCESSING until resumed", "upload_id", uploadID, "error", err)
	}
	return queued, err
}

// bounded runs one storage call under the store timeout. A timeout is a
// persistence error; cancellation of ctx itself passes through.
func (s *ProcessingService) bounded(ctx context.Context, op string, call func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout())
	defer cancel()
	err := call(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return apperr.New(apperr.KindPersistence, op, "storage did not answer in time", err)
	}
	return err
}

// ProcessUpload runs the matching loop for one upload to completion. It is
// safe to call again after an interruption: rows that already have a
// candidate are skipped.
func (s *ProcessingService) ProcessUpload(ctx context.Context, uploadID string) error {
	return s.process(ctx, uploadID, nil)
}

func (s *ProcessingService) process(ctx context.Context, uploadID string, h *Handle) error {
	log := s.log.With("upload_id", uploadID)
	var u internal.Upload
	if err := s.bounded(ctx, "load upload", func(ctx context.Context) error {
		var err error
		u, err = s.store.GetUpload(ctx, uploadID)
		return err
	}); err != nil {
		return err
	}
	if u.Status != internal.UploadProcessing {
		log.Debug("upload not processing, nothing to do", "status", u.Status)
		return nil
	}

	if err := s.bounded(ctx, "sync progress", func(ctx context.Context) error {
		return s.store.SyncProgress(ctx, uploadID)
	}); err != nil {
		return s.abort(ctx, uploadID, err)
	}
	var items []internal.LineItem
	if err := s.bounded(ctx, "list line items", func(ctx context.Context) error {
		var err error
		items, err = s.store.ListUnmatchedLineItems(ctx, uploadID)
		return err
	}); err != nil {
		return s.abort(ctx, uploadID, err)
	}

	for _, item := range items {
		if h.Cancelled() {
			log.Info("processing cancelled", "row", item.RowNumber)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var candidates []Candidate
		if item.Text != "" {
			var err error
			candidates, err = s.matchItem(ctx, item)
			switch {
			case errors.Is(err, errMatchTimeout):
				return s.abort(ctx, uploadID, fmt.Errorf("row %d: %w", item.RowNumber, err))
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				log.Warn("matcher failed, row marked not found", "row", item.RowNumber, "error", err)
				candidates = nil
			}
		}

		var inserted bool
		if err := s.bounded(ctx, "insert match", func(ctx context.Context) error {
			var err error
			inserted, err = s.store.InsertMatch(ctx, s.classify(item, candidates))
			return err
		}); err != nil {
			return s.abort(ctx, uploadID, err)
		}
		if !inserted {
			continue
		}
		var status internal.UploadStatus
		if err := s.bounded(ctx, "increment progress", func(ctx context.Context) error {
			var err error
			status, _, err = s.store.IncrementProcessed(ctx, uploadID, s.now())
			return err
		}); err != nil {
			return s.abort(ctx, uploadID, err)
		}
		if status != internal.UploadProcessing {
			log.Info("processing stopped", "status", status, "row", item.RowNumber)
			return nil
		}
	}

	if err := s.bounded(ctx, "sync progress", func(ctx context.Context) error {
		return s.store.SyncProgress(ctx, uploadID)
	}); err != nil {
		return s.abort(ctx, uploadID, err)
	}
	var completed bool
	if err := s.bounded(ctx, "complete upload", func(ctx context.Context) error {
		var err error
		completed, err = s.registry.MarkCompleted(ctx, uploadID)
		return err
	}); err != nil {
		return s.abort(ctx, uploadID, err)
	}
	if !completed {
		log.Warn("upload not completed, status or progress moved")
		return nil
	}
	log.Info("processing completed", "items", len(items))
	return nil
}

// matchItem calls the matcher under the per-item timeout. Panics surface as
// errors; a matcher that ignores its context still times out.
func (s *ProcessingService) matchItem(ctx context.Context, item internal.LineItem) ([]Candidate, error) {
	itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout())
	defer cancel()

	type outcome struct {
		candidates []Candidate
		err        error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- outcome{err: fmt.Errorf("matcher panic: %v", rec)}
			}
		}()
		c, err := s.matcher.Match(itemCtx, item.Text)
		ch <- outcome{candidates: c, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil && ctx.Err() == nil && errors.Is(out.err, context.DeadlineExceeded) {
			return nil, errMatchTimeout
		}
		return out.candidates, out.err
	case <-itemCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errMatchTimeout
	}
}

func (s *ProcessingService) classify(item internal.LineItem, candidates []Candidate) internal.MatchCandidate {
	m := internal.MatchCandidate{
		ID:           uuid.NewString(),
		UploadID:     item.UploadID,
		LineItemID:   item.ID,
		RowNumber:    item.RowNumber,
		Status:       internal.MatchNotFound,
		OriginalText: item.Text,
		CreatedAt:    s.now(),
	}
	if len(candidates) == 0 {
		return m
	}
	top := candidates[0]
	score := clampScore(top.Score)
	if score <= 0 {
		return m
	}
	m.Score = score
	m.MaterialID = &top.EntryID
	m.MatchedText = &top.Name
	if score >= s.approveThreshold() {
		m.Status = internal.MatchApproved
	} else {
		m.Status = internal.MatchPending
	}
	return m
}

func (s *ProcessingService) approveThreshold() float64 {
	if s.cfg.MatchApproveThreshold <= 0 {
		return 80
	}
	return s.cfg.MatchApproveThreshold
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// abort marks the upload FAILED with cause. When ctx itself was cancelled the
// upload is left PROCESSING for a later resume.
func (s *ProcessingService) abort(ctx context.Context, uploadID string, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.fail(ctx, uploadID, cause.Error())
	return cause
}

func (s *ProcessingService) fail(ctx context.Context, uploadID, message string) {
	if err := s.bounded(ctx, "mark failed", func(ctx context.Context) error {
		_, err := s.registry.MarkFailed(ctx, uploadID, message)
		return err
	}); err != nil {
		s.log.Error("could not mark upload failed", "upload_id", uploadID, "cause", message, "error", err)
	}
}

// Cancel stops a CREATED or PROCESSING upload. The running task notices at
// the next item boundary.
func (s *ProcessingService) Cancel(ctx context.Context, uploadID string, actor internal.Identity) (internal.Upload, error) {
	u, err := s.registry.Get(ctx, uploadID, actor)
	if err != nil {
		return internal.Upload{}, err
	}
	if u.Status.Terminal() {
		return internal.Upload{}, apperr.Validation("cancel upload", "upload %s is already %s", uploadID, u.Status)
	}
	ok, err := s.registry.MarkCancelled(ctx, uploadID, actor.UserID)
	if err != nil {
		return internal.Upload{}, err
	}
	if !ok {
		return internal.Upload{}, apperr.Validation("cancel upload", "upload %s changed state, try again", uploadID)
	}
	s.scheduler.Cancel(uploadID)
	s.log.Info("upload cancelled", "upload_id", uploadID, "by", actor.UserID)
	return s.store.GetUpload(ctx, uploadID)
}

// Discard removes an upload that was never started, together with its stored
// file. Uploads past CREATED are kept.
func (s *ProcessingService) Discard(ctx context.Context, uploadID, ownerID string) error {
	u, err := s.store.GetUpload(ctx, uploadID)
	if err != nil {
		return err
	}
	if u.OwnerID != ownerID {
		return apperr.NotFound("discard upload", "upload %s not found", uploadID)
	}
	if u.Status != internal.UploadCreated {
		return apperr.Validation("discard upload", "upload %s is %s, not %s", uploadID, u.Status, internal.UploadCreated)
	}
	return s.registry.Delete(ctx, uploadID, internal.Identity{UserID: ownerID})
}

// ResumeInterrupted re-queues uploads left PROCESSING by a previous run or
// by a full queue. It stops at the first upload the scheduler cannot take;
// the rest wait for the next pass.
func (s *ProcessingService) ResumeInterrupted(ctx context.Context) (int, error) {
	uploads, err := s.store.ListUploadsByStatus(ctx, internal.UploadProcessing)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, u := range uploads {
		queued, err := s.enqueue(ctx, u.ID)
		if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrRunnerClosed) || ctx.Err() != nil {
			break
		}
		if queued {
			resumed++
		}
	}
	if resumed > 0 {
		s.log.Info("resumed interrupted uploads", "count", resumed)
	}
	return resumed, nil
}
