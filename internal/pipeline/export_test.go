package pipeline

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"catmatch/internal"
	"catmatch/internal/apperr"
	"catmatch/internal/catalog"
	"catmatch/internal/logger"
)

func TestWriteResultsXLSX(t *testing.T) {
	reviewed := time.Date(2026, 2, 8, 10, 0, 0, 0, time.UTC)
	qty := 3.0
	rows := []internal.MatchExportRow{
		{RowNumber: 1, OriginalText: "luva", QuantityRaw: sp("3"), Quantity: &qty, Status: "APPROVED", Score: 92.5,
			MaterialCode: sp("MAT-003"), MaterialName: sp("Luva de raspa"), MaterialUnit: sp("PAR"), ReviewedBy: sp("alice"), ReviewedAt: &reviewed},
		{RowNumber: 2, OriginalText: "???", Status: "NOT_FOUND"},
	}

	buf := bytes.NewBuffer(nil)
	if err := WriteResultsXLSX(rows, buf); err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("rows=%d", len(got))
	}
	if got[0][0] != "linha" || got[1][6] != "MAT-003" || got[1][10] != "2026-02-08T10:00:00Z" {
		t.Fatalf("rows=%v", got)
	}
	if got[2][4] != "NOT_FOUND" {
		t.Fatalf("row 2=%v", got[2])
	}
}

func TestMatchFileWritesWorkbook(t *testing.T) {
	matcher := NewIndexMatcher(catalog.BuildIndex(fixtureEntries()), 5)
	csv := []byte("Descrição;Qtd\nParafuso sextavado M8 x 40;10\nmartelo;1\n")
	rows, err := MatchFile(context.Background(), csv, "text/csv", "lista.csv", internal.ColumnMapping{DescriptionColumn: "Descrição", QuantityColumn: "Qtd"}, matcher, testConfig(), logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%+v", rows)
	}
	if rows[0].Status != string(internal.MatchApproved) || rows[0].MaterialCode == nil || *rows[0].MaterialCode != "MAT-001" {
		t.Fatalf("row 1=%+v", rows[0])
	}
	if rows[1].Status != string(internal.MatchNotFound) || rows[1].MaterialName != nil {
		t.Fatalf("row 2=%+v", rows[1])
	}

	out := filepath.Join(t.TempDir(), "out", "result.xlsx")
	if err := ExportResultsToXLSX(rows, out); err != nil {
		t.Fatal(err)
	}
	if _, err := excelize.OpenFile(out); err != nil {
		t.Fatal(err)
	}
}

func TestExportResultsChecksAccessAndAudits(t *testing.T) {
	h := newHarness(t, scriptedMatcher(), nil)
	ctx := context.Background()
	u := h.submit(t, "alice", threeRows)
	if _, err := h.svc.Start(ctx, u.ID, "alice", descOnly); err != nil {
		t.Fatal(err)
	}

	if err := h.svc.ExportResults(ctx, u.ID, internal.Identity{UserID: "bob"}, bytes.NewBuffer(nil)); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("foreign export err=%v", err)
	}

	buf := bytes.NewBuffer(nil)
	if err := h.svc.ExportResults(ctx, u.ID, internal.Identity{UserID: "alice"}, buf); err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(buf)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := f.GetRows(f.GetSheetName(0))
	if len(got) != 4 {
		t.Fatalf("rows=%d", len(got))
	}
	audit, err := h.db.ListAudit(ctx, "alice", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(audit) != 1 || audit[0].Action != internal.AuditDownloadResult {
		t.Fatalf("audit=%+v", audit)
	}
}
