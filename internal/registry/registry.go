package registry

import (
	"context"
	"fmt"
	"math"
	"time"

	"catmatch/internal"
	"catmatch/internal/apperr"
	"catmatch/internal/blobstore"
	"catmatch/internal/logger"
	"catmatch/internal/storage"
)

// SystemActor signs audit entries written by background work.
const SystemActor = "system"

const (
	statsWindow = 30 * 24 * time.Hour
	maxActivity = 200
)

type Store interface {
	GetUpload(ctx context.Context, id string) (internal.Upload, error)
	ListUploadsByOwner(ctx context.Context, ownerID string) ([]internal.Upload, error)
	BeginProcessing(ctx context.Context, uploadID string, items []internal.LineItem, at time.Time, audit internal.AuditEntry) (bool, error)
	UpdateUploadStatus(ctx context.Context, upd storage.StatusUpdate, audit *internal.AuditEntry) (bool, error)
	DeleteUpload(ctx context.Context, uploadID string, audit internal.AuditEntry) error
	OwnerCounts(ctx context.Context, ownerID string, since time.Time) (storage.OwnerCounts, error)
	ListAudit(ctx context.Context, actor string, limit int) ([]internal.AuditEntry, error)
}

var transitions = map[internal.UploadStatus][]internal.UploadStatus{
	internal.UploadCreated:    {internal.UploadProcessing, internal.UploadFailed, internal.UploadCancelled},
	internal.UploadProcessing: {internal.UploadCompleted, internal.UploadFailed, internal.UploadCancelled},
}

// CanTransition reports whether the upload lifecycle allows from -> to.
func CanTransition(from, to internal.UploadStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func sourcesOf(to internal.UploadStatus) []internal.UploadStatus {
	var out []internal.UploadStatus
	for _, from := range []internal.UploadStatus{internal.UploadCreated, internal.UploadProcessing} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Service owns upload records and their lifecycle.
type Service struct {
	store Store
	blobs blobstore.Store
	log   *logger.Logger
	now   func() time.Time
}

func NewService(store Store, blobs blobstore.Store, log *logger.Logger) *Service {
	return &Service{store: store, blobs: blobs, log: log.With("component", "registry"), now: time.Now}
}

// MarkProcessing stores the parsed line items and moves the upload out of
// CREATED. It reports false when another caller got there first.
func (s *Service) MarkProcessing(ctx context.Context, uploadID string, items []internal.LineItem, actor string) (bool, error) {
	now := s.now()
	return s.store.BeginProcessing(ctx, uploadID, items, now, internal.AuditEntry{
		Actor:     actor,
		Action:    internal.AuditProcessStart,
		Detail:    fmt.Sprintf("upload=%s items=%d", uploadID, len(items)),
		CreatedAt: now,
	})
}

// MarkCompleted succeeds only once every line item has been processed.
func (s *Service) MarkCompleted(ctx context.Context, uploadID string) (bool, error) {
	now := s.now()
	return s.store.UpdateUploadStatus(ctx, storage.StatusUpdate{
		UploadID:            uploadID,
		From:                sourcesOf(internal.UploadCompleted),
		To:                  internal.UploadCompleted,
		RequireAllProcessed: true,
		At:                  now,
	}, &internal.AuditEntry{Actor: SystemActor, Action: internal.AuditProcessComplete, Detail: "upload=" + uploadID, CreatedAt: now})
}

func (s *Service) MarkFailed(ctx context.Context, uploadID, message string) (bool, error) {
	now := s.now()
	ok, err := s.store.UpdateUploadStatus(ctx, storage.StatusUpdate{
		UploadID:     uploadID,
		From:         sourcesOf(internal.UploadFailed),
		To:           internal.UploadFailed,
		ErrorMessage: &message,
		At:           now,
	}, &internal.AuditEntry{Actor: SystemActor, Action: internal.AuditProcessFail, Detail: fmt.Sprintf("upload=%s error=%s", uploadID, message), CreatedAt: now})
	if ok {
		s.log.Warn("upload failed", "upload_id", uploadID, "error", message)
	}
	return ok, err
}

func (s *Service) MarkCancelled(ctx context.Context, uploadID, actor string) (bool, error) {
	now := s.now()
	return s.store.UpdateUploadStatus(ctx, storage.StatusUpdate{
		UploadID: uploadID,
		From:     sourcesOf(internal.UploadCancelled),
		To:       internal.UploadCancelled,
		At:       now,
	}, &internal.AuditEntry{Actor: actor, Action: internal.AuditProcessCancel, Detail: "upload=" + uploadID, CreatedAt: now})
}

// Get returns the upload when viewer may see it. Foreign uploads read as
// missing.
func (s *Service) Get(ctx context.Context, id string, viewer internal.Identity) (internal.Upload, error) {
	u, err := s.store.GetUpload(ctx, id)
	if err != nil {
		return internal.Upload{}, err
	}
	if !viewer.CanAccess(u.OwnerID) {
		return internal.Upload{}, apperr.NotFound("get upload", "upload %s not found", id)
	}
	return u, nil
}

// ListByOwner returns the owner's uploads, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]internal.Upload, error) {
	if ownerID == "" {
		return nil, apperr.Validation("list uploads", "owner id is required")
	}
	return s.store.ListUploadsByOwner(ctx, ownerID)
}

func (s *Service) Stats(ctx context.Context, ownerID string, now time.Time) (internal.OwnerStats, error) {
	counts, err := s.store.OwnerCounts(ctx, ownerID, now.Add(-statsWindow))
	if err != nil {
		return internal.OwnerStats{}, err
	}
	stats := internal.OwnerStats{
		MonthlyUploads: counts.MonthlyUploads,
		ProcessedItems: counts.ProcessedItems,
		PendingReview:  counts.PendingReview,
	}
	if counts.TotalCandidates > 0 {
		stats.MatchRate = int(math.Round(100 * float64(counts.Matched) / float64(counts.TotalCandidates)))
	}
	return stats, nil
}

// Activity lists recent audit entries, newest first. Admins see every actor.
func (s *Service) Activity(ctx context.Context, viewer internal.Identity, limit int) ([]internal.AuditEntry, error) {
	if viewer.UserID == "" {
		return nil, apperr.Validation("list activity", "viewer id is required")
	}
	if limit <= 0 || limit > maxActivity {
		limit = maxActivity
	}
	actor := viewer.UserID
	if viewer.IsAdmin() {
		actor = ""
	}
	entries, err := s.store.ListAudit(ctx, actor, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []internal.AuditEntry{}
	}
	return entries, nil
}

// Delete removes the upload, its items and candidates, then its blob. A
// running upload must be cancelled first.
func (s *Service) Delete(ctx context.Context, id string, viewer internal.Identity) error {
	u, err := s.Get(ctx, id, viewer)
	if err != nil {
		return err
	}
	if u.Status == internal.UploadProcessing {
		return apperr.Validation("delete upload", "upload %s is still processing, cancel it first", id)
	}
	if err := s.store.DeleteUpload(ctx, id, internal.AuditEntry{
		Actor:     viewer.UserID,
		Action:    internal.AuditUploadDelete,
		Detail:    fmt.Sprintf("upload=%s file=%s", id, u.OriginalName),
		CreatedAt: s.now(),
	}); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, u.StoredName); err != nil {
		s.log.Warn("blob delete failed", "upload_id", id, "key", u.StoredName, "error", err)
	}
	return nil
}
