package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"catmatch/internal"
	"catmatch/internal/apperr"
)

func (d *DB) ListLineItems(ctx context.Context, uploadID string) ([]internal.LineItem, error) {
	return d.listLineItems(ctx, "list line items", `
SELECT i.id, i.upload_id, i.row_number, i.text, i.quantity_raw, i.quantity, i.unit
FROM upload_items i WHERE i.upload_id = ? ORDER BY i.row_number`, uploadID)
}

// ListUnmatchedLineItems returns items of the upload that have no candidate yet.
func (d *DB) ListUnmatchedLineItems(ctx context.Context, uploadID string) ([]internal.LineItem, error) {
	return d.listLineItems(ctx, "list unmatched line items", `
SELECT i.id, i.upload_id, i.row_number, i.text, i.quantity_raw, i.quantity, i.unit
FROM upload_items i
LEFT JOIN matched_items m ON m.upload_item_id = i.id
WHERE i.upload_id = ? AND m.id IS NULL
ORDER BY i.row_number`, uploadID)
}

func (d *DB) listLineItems(ctx context.Context, op, query, uploadID string) ([]internal.LineItem, error) {
	rows, err := d.conn.QueryContext(ctx, query, uploadID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	defer rows.Close()

	out := []internal.LineItem{}
	for rows.Next() {
		var item internal.LineItem
		if err := rows.Scan(&item.ID, &item.UploadID, &item.RowNumber, &item.Text, &item.QuantityRaw, &item.Quantity, &item.Unit); err != nil {
			return nil, apperr.Persistence(op, err)
		}
		out = append(out, item)
	}
	return out, apperr.Persistence(op, rows.Err())
}

// InsertMatch stores the candidate unless its line item already has one. It
// reports whether a row was written.
func (d *DB) InsertMatch(ctx context.Context, m internal.MatchCandidate) (bool, error) {
	res, err := d.conn.ExecContext(ctx, `
INSERT INTO matched_items (id, upload_id, upload_item_id, row_number, score, status, original_text, matched_text, material_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING
`, m.ID, m.UploadID, m.LineItemID, m.RowNumber, m.Score, string(m.Status), m.OriginalText, m.MatchedText, m.MaterialID, formatTime(m.CreatedAt))
	if err != nil {
		return false, apperr.Persistence("insert match", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const matchColumns = `m.id, m.upload_id, m.upload_item_id, m.row_number, m.score, m.status, m.original_text,
  m.matched_text, m.material_id, m.reviewed_at, m.reviewed_by, m.created_at`

func scanMatch(row rowScanner, extra ...any) (internal.MatchCandidate, error) {
	var m internal.MatchCandidate
	var reviewedAt *string
	var createdAt string
	dest := []any{
		&m.ID, &m.UploadID, &m.LineItemID, &m.RowNumber, &m.Score, &m.Status, &m.OriginalText,
		&m.MatchedText, &m.MaterialID, &reviewedAt, &m.ReviewedBy, &createdAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return internal.MatchCandidate{}, err
	}
	m.ReviewedAt = parseTimePtr(reviewedAt)
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

func (d *DB) GetMatch(ctx context.Context, id string) (internal.MatchCandidate, error) {
	m, err := scanMatch(d.conn.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matched_items m WHERE m.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return internal.MatchCandidate{}, apperr.NotFound("get match", "match %s not found", id)
	}
	return m, apperr.Persistence("get match", err)
}

// ListMatches returns the upload's candidates in row order. A nil status
// returns every candidate.
func (d *DB) ListMatches(ctx context.Context, uploadID string, status *internal.MatchStatus) ([]internal.MatchView, error) {
	query := `
SELECT ` + matchColumns + `, i.quantity_raw, i.quantity, e.code, e.name, e.unit, e.active
FROM matched_items m
JOIN upload_items i ON i.id = m.upload_item_id
LEFT JOIN materials e ON e.id = m.material_id
WHERE m.upload_id = ?`
	args := []any{uploadID}
	if status != nil {
		query += ` AND m.status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY m.row_number`

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence("list matches", err)
	}
	defer rows.Close()

	out := []internal.MatchView{}
	for rows.Next() {
		var v internal.MatchView
		m, err := scanMatch(rows, &v.QuantityRaw, &v.Quantity, &v.MaterialCode, &v.MaterialName, &v.MaterialUnit, &v.MaterialActive)
		if err != nil {
			return nil, apperr.Persistence("list matches", err)
		}
		v.MatchCandidate = m
		out = append(out, v)
	}
	return out, apperr.Persistence("list matches", rows.Err())
}

type ReviewUpdate struct {
	MatchID     string
	From        internal.MatchStatus
	To          internal.MatchStatus
	MaterialID  *string
	MatchedText *string
	ReviewedBy  string
	ReviewedAt  time.Time
}

// ApplyReview writes a review transition guarded by the prior status. It
// reports false, without writing the audit entry, when the status moved.
func (d *DB) ApplyReview(ctx context.Context, upd ReviewUpdate, audit internal.AuditEntry) (bool, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, apperr.Persistence("apply review", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE matched_items SET
  status = ?,
  material_id = ?,
  matched_text = ?,
  reviewed_by = ?,
  reviewed_at = ?
WHERE id = ? AND status = ?
`, string(upd.To), upd.MaterialID, upd.MatchedText, upd.ReviewedBy, formatTime(upd.ReviewedAt), upd.MatchID, string(upd.From))
	if err != nil {
		return false, apperr.Persistence("apply review", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if err := appendAudit(ctx, tx, audit); err != nil {
		return false, apperr.Persistence("apply review", err)
	}
	if err := tx.Commit(); err != nil {
		return false, apperr.Persistence("apply review", err)
	}
	return true, nil
}

func (d *DB) ExportRows(ctx context.Context, uploadID string) ([]internal.MatchExportRow, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT
  m.row_number,
  m.original_text,
  i.quantity_raw,
  i.quantity,
  m.status,
  m.score,
  e.code,
  e.name,
  e.unit,
  m.reviewed_by,
  m.reviewed_at
FROM matched_items m
JOIN upload_items i ON i.id = m.upload_item_id
LEFT JOIN materials e ON e.id = m.material_id
WHERE m.upload_id = ?
ORDER BY m.row_number ASC
`, uploadID)
	if err != nil {
		return nil, apperr.Persistence("export rows", err)
	}
	defer rows.Close()

	out := []internal.MatchExportRow{}
	for rows.Next() {
		var row internal.MatchExportRow
		var reviewedAt *string
		if err := rows.Scan(
			&row.RowNumber,
			&row.OriginalText,
			&row.QuantityRaw,
			&row.Quantity,
			&row.Status,
			&row.Score,
			&row.MaterialCode,
			&row.MaterialName,
			&row.MaterialUnit,
			&row.ReviewedBy,
			&reviewedAt,
		); err != nil {
			return nil, apperr.Persistence("export rows", err)
		}
		row.ReviewedAt = parseTimePtr(reviewedAt)
		out = append(out, row)
	}
	return out, apperr.Persistence("export rows", rows.Err())
}
