package review

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"catmatch/internal"
	"catmatch/internal/apperr"
	"catmatch/internal/logger"
	"catmatch/internal/storage"
)

func sp(v string) *string { return &v }

type fixture struct {
	db  *storage.DB
	svc *Service
}

var alice = internal.Identity{UserID: "alice"}

// newFixture stores one upload owned by alice with a candidate per status.
func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	if _, err := db.UpsertCategory(ctx, internal.Category{ID: "cat", Code: "EPI", Name: "EPI"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertEntries(ctx, []internal.CatalogEntry{
		{ID: "luva", Code: "MAT-1", Name: "Luva de raspa", Active: true, CategoryID: "cat"},
		{ID: "bota", Code: "MAT-2", Name: "Bota de seguranca", Active: true, CategoryID: "cat"},
		{ID: "velha", Code: "MAT-3", Name: "Mascara descontinuada", Active: false, CategoryID: "cat"},
	}); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if err := db.CreateUpload(ctx, internal.Upload{
		ID: "u1", OwnerID: "alice", OriginalName: "a.csv", StoredName: "uploads/alice/u1.csv", Size: 1,
		MimeType: "text/csv", Status: internal.UploadCreated, CreatedAt: now, UpdatedAt: now,
	}, internal.AuditEntry{Actor: "alice", Action: internal.AuditUploadFile}); err != nil {
		t.Fatal(err)
	}
	statuses := []internal.MatchStatus{internal.MatchPending, internal.MatchNotFound, internal.MatchApproved, internal.MatchPending}
	items := make([]internal.LineItem, len(statuses))
	for i := range statuses {
		items[i] = internal.LineItem{ID: "i" + string(rune('1'+i)), UploadID: "u1", RowNumber: i + 1, Text: "linha"}
	}
	if ok, err := db.BeginProcessing(ctx, "u1", items, now, internal.AuditEntry{Actor: "alice", Action: internal.AuditProcessStart}); err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	for i, st := range statuses {
		m := internal.MatchCandidate{
			ID: "m" + string(rune('1'+i)), UploadID: "u1", LineItemID: items[i].ID, RowNumber: i + 1,
			Status: st, OriginalText: "linha", CreatedAt: now,
		}
		if st != internal.MatchNotFound {
			m.Score = 60
			m.MaterialID = sp("luva")
			m.MatchedText = sp("Luva de raspa")
		}
		if i == 3 {
			m.MaterialID = sp("velha")
		}
		if _, err := db.InsertMatch(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	return fixture{db: db, svc: NewService(db, logger.NewNop())}
}

func (f fixture) status(t *testing.T, id string) internal.MatchStatus {
	t.Helper()
	m, err := f.db.GetMatch(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return m.Status
}

func TestParseAction(t *testing.T) {
	cases := map[string]Action{
		"approve": ActionApprove, "APPROVED": ActionApprove, "reject": ActionReject,
		"REJECTED": ActionReject, " manual ": ActionManual,
	}
	for in, want := range cases {
		got, err := ParseAction(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %s err=%v", in, got, err)
		}
	}
	if _, err := ParseAction("PENDING"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err=%v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	statuses := []internal.MatchStatus{internal.MatchPending, internal.MatchApproved, internal.MatchRejected, internal.MatchNotFound, internal.MatchManual}
	want := map[Action]map[internal.MatchStatus]internal.MatchStatus{
		ActionApprove: {internal.MatchPending: internal.MatchApproved, internal.MatchRejected: internal.MatchApproved},
		ActionReject:  {internal.MatchPending: internal.MatchRejected, internal.MatchApproved: internal.MatchRejected, internal.MatchManual: internal.MatchRejected},
		ActionManual:  {internal.MatchPending: internal.MatchManual, internal.MatchNotFound: internal.MatchManual, internal.MatchRejected: internal.MatchManual},
	}
	for action, allowed := range want {
		for _, from := range statuses {
			if got := nextStatus(action, from); got != allowed[from] {
				t.Fatalf("%s from %s: got %q want %q", action, from, got, allowed[from])
			}
		}
	}
}

func TestApprovePendingStampsReviewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Transition(ctx, TransitionRequest{MatchID: "m1", Action: ActionApprove, Reviewer: alice})
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != internal.MatchApproved || m.ReviewedBy == nil || *m.ReviewedBy != "alice" || m.ReviewedAt == nil {
		t.Fatalf("match=%+v", m)
	}
	if m.MaterialID == nil || *m.MaterialID != "luva" {
		t.Fatalf("material lost: %+v", m)
	}

	audit, err := f.db.ListAudit(ctx, "alice", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(audit) != 1 || audit[0].Action != internal.AuditMatchReview {
		t.Fatalf("audit=%+v", audit)
	}
}

func TestApproveNotFoundIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Transition(context.Background(), TransitionRequest{MatchID: "m2", Action: ActionApprove, Reviewer: alice})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err=%v", err)
	}
	if st := f.status(t, "m2"); st != internal.MatchNotFound {
		t.Fatalf("status=%s", st)
	}
}

func TestManualRequiresExistingActiveEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, target := range []string{"", "does-not-exist", "velha"} {
		_, err := f.svc.Transition(ctx, TransitionRequest{MatchID: "m2", Action: ActionManual, Reviewer: alice, TargetEntryID: target})
		if !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("target %q: err=%v", target, err)
		}
		if st := f.status(t, "m2"); st != internal.MatchNotFound {
			t.Fatalf("target %q changed status to %s", target, st)
		}
	}

	m, err := f.svc.Transition(ctx, TransitionRequest{MatchID: "m2", Action: ActionManual, Reviewer: alice, TargetEntryID: "bota"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != internal.MatchManual || *m.MaterialID != "bota" || *m.MatchedText != "Bota de seguranca" {
		t.Fatalf("match=%+v", m)
	}
}

func TestApprovedReachesManualOnlyThroughReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Transition(ctx, TransitionRequest{MatchID: "m3", Action: ActionManual, Reviewer: alice, TargetEntryID: "bota"}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("approved -> manual err=%v", err)
	}
	if _, err := f.svc.Transition(ctx, TransitionRequest{MatchID: "m3", Action: ActionReject, Reviewer: alice}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Transition(ctx, TransitionRequest{MatchID: "m3", Action: ActionReject, Reviewer: alice}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("double reject err=%v", err)
	}
	m, err := f.svc.Transition(ctx, TransitionRequest{MatchID: "m3", Action: ActionManual, Reviewer: alice, TargetEntryID: "bota"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != internal.MatchManual {
		t.Fatalf("status=%s", m.Status)
	}
}

func TestApproveInactiveSuggestionIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Transition(context.Background(), TransitionRequest{MatchID: "m4", Action: ActionApprove, Reviewer: alice})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err=%v", err)
	}
	if st := f.status(t, "m4"); st != internal.MatchPending {
		t.Fatalf("status=%s", st)
	}
}

func TestTransitionAccessChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Transition(ctx, TransitionRequest{MatchID: "m1", Action: ActionReject}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("no reviewer err=%v", err)
	}
	if _, err := f.svc.Transition(ctx, TransitionRequest{MatchID: "m1", Action: ActionReject, Reviewer: internal.Identity{UserID: "bob"}}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("foreign err=%v", err)
	}
	if _, err := f.svc.Transition(ctx, TransitionRequest{MatchID: "nope", Action: ActionReject, Reviewer: alice}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("missing err=%v", err)
	}
	admin := internal.Identity{UserID: "root", Role: internal.RoleAdmin}
	if _, err := f.svc.Transition(ctx, TransitionRequest{MatchID: "m1", Action: ActionReject, Reviewer: admin}); err != nil {
		t.Fatalf("admin err=%v", err)
	}
}

// racingStore moves the match to another status right before the guarded
// update runs.
type racingStore struct {
	*storage.DB
}

func (r racingStore) ApplyReview(ctx context.Context, upd storage.ReviewUpdate, audit internal.AuditEntry) (bool, error) {
	if _, err := r.DB.ApplyReview(ctx, storage.ReviewUpdate{
		MatchID: upd.MatchID, From: upd.From, To: internal.MatchRejected,
		MaterialID: upd.MaterialID, MatchedText: upd.MatchedText, ReviewedBy: "bob", ReviewedAt: time.Now(),
	}, internal.AuditEntry{Actor: "bob", Action: internal.AuditMatchReview}); err != nil {
		return false, err
	}
	return r.DB.ApplyReview(ctx, upd, audit)
}

func TestConcurrentChangeIsValidationError(t *testing.T) {
	f := newFixture(t)
	svc := NewService(racingStore{DB: f.db}, logger.NewNop())
	_, err := svc.Transition(context.Background(), TransitionRequest{MatchID: "m1", Action: ActionApprove, Reviewer: alice})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err=%v", err)
	}
	if st := f.status(t, "m1"); st != internal.MatchRejected {
		t.Fatalf("status=%s", st)
	}
}

func TestListMatchesFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	all, err := f.svc.ListMatches(ctx, "u1", alice, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].RowNumber != 1 || all[0].MaterialCode == nil || *all[0].MaterialCode != "MAT-1" {
		t.Fatalf("all=%+v", all)
	}
	pending, err := f.svc.ListMatches(ctx, "u1", alice, "pending")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending=%d", len(pending))
	}
	if _, err := f.svc.ListMatches(ctx, "u1", alice, "weird"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err=%v", err)
	}
	if _, err := f.svc.ListMatches(ctx, "u1", internal.Identity{UserID: "bob"}, ""); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err=%v", err)
	}
}
