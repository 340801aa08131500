package pipeline

import (
	"context"
	"time"

	"catmatch/internal"
	"catmatch/internal/config"
	"catmatch/internal/logger"
)

// MatchFile parses and matches a spreadsheet in memory and returns the rows
// as they would be exported. Nothing is persisted.
func MatchFile(ctx context.Context, content []byte, mimeType, filename string, mapping internal.ColumnMapping, matcher Matcher, cfg config.Config, log *logger.Logger) ([]internal.MatchExportRow, error) {
	rows, err := ParseUpload(content, mimeType, filename, mapping)
	if err != nil {
		return nil, err
	}
	s := &ProcessingService{matcher: matcher, cfg: cfg, log: log.With("component", "oneshot"), now: time.Now}

	out := make([]internal.MatchExportRow, 0, len(rows))
	for _, row := range rows {
		item := internal.LineItem{RowNumber: row.RowNumber, Text: row.Text, QuantityRaw: row.QuantityRaw, Quantity: row.Quantity, Unit: row.Unit}
		var candidates []Candidate
		if item.Text != "" {
			candidates, err = s.matchItem(ctx, item)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.log.Warn("matcher failed, row marked not found", "row", row.RowNumber, "error", err)
				candidates = nil
			}
		}
		m := s.classify(item, candidates)
		export := internal.MatchExportRow{
			RowNumber:    row.RowNumber,
			OriginalText: row.Text,
			QuantityRaw:  row.QuantityRaw,
			Quantity:     row.Quantity,
			Status:       string(m.Status),
			Score:        m.Score,
			MaterialName: m.MatchedText,
		}
		if len(candidates) > 0 && m.MaterialID != nil {
			export.MaterialCode = &candidates[0].Code
		}
		out = append(out, export)
	}
	return out, nil
}
