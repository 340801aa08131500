package apperr

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := Validation("review", "reviewer id is required")
	wrapped := fmt.Errorf("handle patch: %w", base)

	if !Is(wrapped, KindValidation) {
		t.Fatalf("kind=%q", KindOf(wrapped))
	}
	if Message(wrapped) != "reviewer id is required" {
		t.Fatalf("message=%q", Message(wrapped))
	}
}

func TestPersistenceWrapsDriverErrors(t *testing.T) {
	err := Persistence("insert match", sql.ErrConnDone)
	if !Is(err, KindPersistence) {
		t.Fatalf("kind=%q", KindOf(err))
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("cause lost: %v", err)
	}
	if Persistence("noop", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}

	notFound := NotFound("get upload", "upload %s not found", "u1")
	if got := Persistence("get upload", notFound); !Is(got, KindNotFound) {
		t.Fatalf("typed error re-wrapped: %v", got)
	}
}
