package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"catmatch/internal"
	"catmatch/internal/catalog"
	"catmatch/internal/logger"
)

func TestRunnerOneTaskPerUpload(t *testing.T) {
	r := NewRunner(2, 4, logger.NewNop())
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan *Handle, 1)
	ok, err := r.Enqueue(ctx, "u1", func(ctx context.Context, h *Handle) error {
		started <- h
		<-release
		return nil
	})
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	h := <-started

	ok, err = r.Enqueue(ctx, "u1", func(context.Context, *Handle) error { return nil })
	if err != nil || ok {
		t.Fatalf("duplicate accepted ok=%v err=%v", ok, err)
	}
	if !r.Cancel("u1") || !h.Cancelled() {
		t.Fatal("cancel flag not set")
	}
	if r.Cancel("u2") {
		t.Fatal("cancelled unknown upload")
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for r.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("handle not released")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := r.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Enqueue(ctx, "u3", func(context.Context, *Handle) error { return nil }); err != ErrRunnerClosed {
		t.Fatalf("err=%v", err)
	}
}

func TestRunnerShutdownInterruptsTasks(t *testing.T) {
	r := NewRunner(1, 1, logger.NewNop())
	started := make(chan struct{})
	if _, err := r.Enqueue(context.Background(), "u1", func(ctx context.Context, h *Handle) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRunnerProcessesUploadsConcurrently(t *testing.T) {
	h := newHarness(t, NewIndexMatcher(catalog.BuildIndex(fixtureEntries()), 5), nil)
	runner := NewRunner(3, 8, logger.NewNop())
	h.svc.scheduler = runner
	ctx := context.Background()

	csv := "Descrição;Qtd\nParafuso sextavado M8 x 40;10\nluva de raspa;2\nparafuzo sextavado m10;5\nmartelo;1\n"
	ids := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		u := h.submit(t, fmt.Sprintf("user-%d", i%2), csv)
		if _, err := h.svc.Start(ctx, u.ID, u.OwnerID, descOnly); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, u.ID)
	}

	deadline := time.Now().Add(10 * time.Second)
	for _, id := range ids {
		for {
			u := h.upload(t, id)
			if u.Status.Terminal() {
				if u.Status != internal.UploadCompleted {
					t.Fatalf("%s ended %s: %v", id, u.Status, u.ErrorMessage)
				}
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("%s still %s after deadline", id, u.Status)
			}
			time.Sleep(10 * time.Millisecond)
		}
		checkInvariants(t, h, id)
	}
	if err := runner.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	m := h.matches(t, ids[0])
	if m[0].Status != internal.MatchApproved || m[0].MaterialID == nil || *m[0].MaterialID != "c1" {
		t.Fatalf("row 1=%+v", m[0].MatchCandidate)
	}
	if m[3].Status != internal.MatchNotFound {
		t.Fatalf("row 4=%+v", m[3].MatchCandidate)
	}
}

func TestRunnerEnqueueFailsFastWhenFull(t *testing.T) {
	r := NewRunner(1, 1, logger.NewNop())
	release := make(chan struct{})
	block := func(ctx context.Context, h *Handle) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	ctx := context.Background()
	accepted, full := 0, 0
	began := time.Now()
	for i := 0; i < 6; i++ {
		ok, err := r.Enqueue(ctx, fmt.Sprintf("u%d", i), block)
		switch {
		case errors.Is(err, ErrQueueFull):
			full++
		case err != nil:
			t.Fatal(err)
		case ok:
			accepted++
		}
	}
	if time.Since(began) > time.Second {
		t.Fatalf("enqueue waited for room: %v", time.Since(began))
	}
	// one running, one held by dispatch, one buffered at most
	if full == 0 || accepted < 1 || accepted > 3 {
		t.Fatalf("accepted=%d full=%d", accepted, full)
	}
	if r.Active() != accepted {
		t.Fatalf("active=%d accepted=%d", r.Active(), accepted)
	}

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.Shutdown(sctx); err != nil {
		t.Fatal(err)
	}
	if r.Active() != 0 {
		t.Fatalf("handles left after shutdown: %d", r.Active())
	}
	close(release)
}

func TestResumeInterruptedDoesNotWaitForQueue(t *testing.T) {
	gate := make(chan struct{})
	matcher := MatcherFunc(func(ctx context.Context, text string) ([]Candidate, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return scriptedMatcher().Match(ctx, text)
	})
	h := newHarness(t, matcher, nil)
	h.sched.hold = true
	ctx := context.Background()

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		u := h.submit(t, "alice", threeRows)
		if _, err := h.svc.Start(ctx, u.ID, "alice", descOnly); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, u.ID)
	}

	runner := NewRunner(1, 1, logger.NewNop())
	defer func() { _ = runner.Shutdown(context.Background()) }()
	h.svc.scheduler = runner

	began := time.Now()
	n, err := h.svc.ResumeInterrupted(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(began) > time.Second {
		t.Fatalf("resume blocked for %v", time.Since(began))
	}
	if n < 1 || n >= len(ids) {
		t.Fatalf("resumed=%d", n)
	}

	close(gate)
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, err := h.svc.ResumeInterrupted(ctx); err != nil {
			t.Fatal(err)
		}
		done := 0
		for _, id := range ids {
			if h.upload(t, id).Status == internal.UploadCompleted {
				done++
			}
		}
		if done == len(ids) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d of %d uploads completed", done, len(ids))
		}
		time.Sleep(20 * time.Millisecond)
	}
	for _, id := range ids {
		checkInvariants(t, h, id)
	}
}
