package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"catmatch/internal"
)

// ExportResults writes the upload's current results as xlsx and records the
// download.
func (s *ProcessingService) ExportResults(ctx context.Context, uploadID string, viewer internal.Identity, w io.Writer) error {
	u, err := s.registry.Get(ctx, uploadID, viewer)
	if err != nil {
		return err
	}
	rows, err := s.store.ExportRows(ctx, u.ID)
	if err != nil {
		return err
	}
	if err := WriteResultsXLSX(rows, w); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	if err := s.store.AppendAudit(ctx, internal.AuditEntry{
		Actor:     viewer.UserID,
		Action:    internal.AuditDownloadResult,
		Detail:    fmt.Sprintf("upload=%s rows=%d", u.ID, len(rows)),
		CreatedAt: s.now(),
	}); err != nil {
		s.log.Warn("download not audited", "upload_id", u.ID, "error", err)
	}
	return nil
}

var exportHeaders = []string{
	"linha", "descricao_original", "quantidade_informada", "quantidade",
	"status", "score", "codigo_material", "material", "unidade",
	"revisado_por", "revisado_em",
}

// WriteResultsXLSX renders match results as a single-sheet workbook.
func WriteResultsXLSX(rows []internal.MatchExportRow, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, row.RowNumber)
		set(2, row.OriginalText)
		set(3, derefString(row.QuantityRaw))
		set(4, derefFloat(row.Quantity))
		set(5, row.Status)
		set(6, row.Score)
		set(7, derefString(row.MaterialCode))
		set(8, derefString(row.MaterialName))
		set(9, derefString(row.MaterialUnit))
		set(10, derefString(row.ReviewedBy))
		set(11, derefTime(row.ReviewedAt))
	}

	_, err := f.WriteTo(w)
	return err
}

func ExportResultsToXLSX(rows []internal.MatchExportRow, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	if err := WriteResultsXLSX(rows, out); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func derefTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
