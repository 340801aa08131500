package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"catmatch/internal"
	"catmatch/internal/apperr"
	"catmatch/internal/logger"
	"catmatch/internal/storage"
)

type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionManual  Action = "MANUAL"
)

// ParseAction accepts both the verb and the resulting status name.
func ParseAction(value string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "APPROVE", "APPROVED":
		return ActionApprove, nil
	case "REJECT", "REJECTED":
		return ActionReject, nil
	case "MANUAL":
		return ActionManual, nil
	default:
		return "", apperr.Validation("parse action", "unknown review action %q", value)
	}
}

// nextStatus is the review transition table. An empty result means the
// action is not allowed from that status.
func nextStatus(action Action, from internal.MatchStatus) internal.MatchStatus {
	switch action {
	case ActionApprove:
		switch from {
		case internal.MatchPending, internal.MatchRejected:
			return internal.MatchApproved
		case internal.MatchNotFound, internal.MatchApproved, internal.MatchManual:
			return ""
		}
	case ActionReject:
		switch from {
		case internal.MatchPending, internal.MatchApproved, internal.MatchManual:
			return internal.MatchRejected
		case internal.MatchRejected, internal.MatchNotFound:
			return ""
		}
	case ActionManual:
		switch from {
		case internal.MatchPending, internal.MatchNotFound, internal.MatchRejected:
			return internal.MatchManual
		case internal.MatchApproved, internal.MatchManual:
			return ""
		}
	}
	return ""
}

type Store interface {
	GetMatch(ctx context.Context, id string) (internal.MatchCandidate, error)
	GetUpload(ctx context.Context, id string) (internal.Upload, error)
	GetEntry(ctx context.Context, id string) (internal.CatalogEntry, error)
	ApplyReview(ctx context.Context, upd storage.ReviewUpdate, audit internal.AuditEntry) (bool, error)
	ListMatches(ctx context.Context, uploadID string, status *internal.MatchStatus) ([]internal.MatchView, error)
}

type Service struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

func NewService(store Store, log *logger.Logger) *Service {
	return &Service{store: store, log: log.With("component", "review"), now: time.Now}
}

type TransitionRequest struct {
	MatchID       string
	Action        Action
	Reviewer      internal.Identity
	TargetEntryID string
}

// Transition applies a reviewer decision to a match. Disallowed moves, missing
// or inactive catalog entries and concurrent edits are validation errors and
// leave the match unchanged.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (internal.MatchCandidate, error) {
	const op = "review transition"
	if strings.TrimSpace(req.Reviewer.UserID) == "" {
		return internal.MatchCandidate{}, apperr.Validation(op, "reviewer id is required")
	}
	m, err := s.store.GetMatch(ctx, req.MatchID)
	if err != nil {
		return internal.MatchCandidate{}, err
	}
	u, err := s.store.GetUpload(ctx, m.UploadID)
	if err != nil {
		return internal.MatchCandidate{}, err
	}
	if !req.Reviewer.CanAccess(u.OwnerID) {
		return internal.MatchCandidate{}, apperr.NotFound(op, "match %s not found", req.MatchID)
	}

	to := nextStatus(req.Action, m.Status)
	if to == "" {
		return internal.MatchCandidate{}, apperr.Validation(op, "cannot %s a %s match", strings.ToLower(string(req.Action)), m.Status)
	}

	upd := storage.ReviewUpdate{
		MatchID:     m.ID,
		From:        m.Status,
		To:          to,
		MaterialID:  m.MaterialID,
		MatchedText: m.MatchedText,
		ReviewedBy:  req.Reviewer.UserID,
		ReviewedAt:  s.now(),
	}
	switch req.Action {
	case ActionApprove:
		if m.MaterialID == nil {
			return internal.MatchCandidate{}, apperr.Validation(op, "match %s has no suggested entry to approve", m.ID)
		}
		if _, err := s.activeEntry(ctx, *m.MaterialID); err != nil {
			return internal.MatchCandidate{}, err
		}
	case ActionManual:
		if strings.TrimSpace(req.TargetEntryID) == "" {
			return internal.MatchCandidate{}, apperr.Validation(op, "a catalog entry is required for manual assignment")
		}
		entry, err := s.activeEntry(ctx, req.TargetEntryID)
		if err != nil {
			return internal.MatchCandidate{}, err
		}
		upd.MaterialID = &entry.ID
		upd.MatchedText = &entry.Name
	case ActionReject:
	}

	detail := fmt.Sprintf("match=%s upload=%s row=%d %s->%s", m.ID, m.UploadID, m.RowNumber, m.Status, to)
	if upd.MaterialID != nil {
		detail += " material=" + *upd.MaterialID
	}
	ok, err := s.store.ApplyReview(ctx, upd, internal.AuditEntry{
		Actor:     req.Reviewer.UserID,
		Action:    internal.AuditMatchReview,
		Detail:    detail,
		CreatedAt: upd.ReviewedAt,
	})
	if err != nil {
		return internal.MatchCandidate{}, err
	}
	if !ok {
		return internal.MatchCandidate{}, apperr.Validation(op, "match %s was changed by someone else, reload and retry", m.ID)
	}
	s.log.Info("match reviewed", "match_id", m.ID, "upload_id", m.UploadID, "row", m.RowNumber, "from", m.Status, "to", to, "by", req.Reviewer.UserID)
	return s.store.GetMatch(ctx, m.ID)
}

func (s *Service) activeEntry(ctx context.Context, id string) (internal.CatalogEntry, error) {
	entry, err := s.store.GetEntry(ctx, id)
	if apperr.Is(err, apperr.KindNotFound) {
		return internal.CatalogEntry{}, apperr.Validation("review transition", "catalog entry %s does not exist", id)
	}
	if err != nil {
		return internal.CatalogEntry{}, err
	}
	if !entry.Active {
		return internal.CatalogEntry{}, apperr.Validation("review transition", "catalog entry %s is inactive", id)
	}
	return entry, nil
}

// ListMatches returns the upload's candidates in row order. An empty filter
// returns every status.
func (s *Service) ListMatches(ctx context.Context, uploadID string, viewer internal.Identity, filter string) ([]internal.MatchView, error) {
	u, err := s.store.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if !viewer.CanAccess(u.OwnerID) {
		return nil, apperr.NotFound("list matches", "upload %s not found", uploadID)
	}
	var status *internal.MatchStatus
	if f := strings.ToUpper(strings.TrimSpace(filter)); f != "" {
		st := internal.MatchStatus(f)
		if !st.Valid() {
			return nil, apperr.Validation("list matches", "unknown status filter %q", filter)
		}
		status = &st
	}
	return s.store.ListMatches(ctx, uploadID, status)
}
