package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"catmatch/internal"
	"catmatch/internal/apperr"
)

const uploadColumns = `id, owner_id, original_name, stored_name, size, mime_type, status,
  total_items, processed_items, error_message, created_at, updated_at, completed_at`

func scanUpload(row rowScanner) (internal.Upload, error) {
	var u internal.Upload
	var createdAt, updatedAt string
	var completedAt *string
	if err := row.Scan(
		&u.ID, &u.OwnerID, &u.OriginalName, &u.StoredName, &u.Size, &u.MimeType, &u.Status,
		&u.TotalItems, &u.ProcessedItems, &u.ErrorMessage, &createdAt, &updatedAt, &completedAt,
	); err != nil {
		return internal.Upload{}, err
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	u.CompletedAt = parseTimePtr(completedAt)
	return u, nil
}

func (d *DB) CreateUpload(ctx context.Context, u internal.Upload, audit internal.AuditEntry) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Persistence("create upload", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO uploads (id, owner_id, original_name, stored_name, size, mime_type, status, total_items, processed_items, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, u.ID, u.OwnerID, u.OriginalName, u.StoredName, u.Size, u.MimeType, string(u.Status), u.TotalItems, u.ProcessedItems,
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt)); err != nil {
		return apperr.Persistence("create upload", err)
	}
	if err := appendAudit(ctx, tx, audit); err != nil {
		return apperr.Persistence("create upload", err)
	}
	return apperr.Persistence("create upload", tx.Commit())
}

func (d *DB) GetUpload(ctx context.Context, id string) (internal.Upload, error) {
	u, err := scanUpload(d.conn.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return internal.Upload{}, apperr.NotFound("get upload", "upload %s not found", id)
	}
	return u, apperr.Persistence("get upload", err)
}

func (d *DB) ListUploadsByOwner(ctx context.Context, ownerID string) ([]internal.Upload, error) {
	return d.listUploads(ctx, "list uploads", `WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
}

func (d *DB) ListUploadsByStatus(ctx context.Context, status internal.UploadStatus) ([]internal.Upload, error) {
	return d.listUploads(ctx, "list uploads by status", `WHERE status = ? ORDER BY created_at ASC, id ASC`, string(status))
}

func (d *DB) listUploads(ctx context.Context, op, where string, args ...any) ([]internal.Upload, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT `+uploadColumns+` FROM uploads `+where, args...)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	defer rows.Close()

	out := []internal.Upload{}
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, apperr.Persistence(op, err)
		}
		out = append(out, u)
	}
	return out, apperr.Persistence(op, rows.Err())
}

// BeginProcessing moves a CREATED upload to PROCESSING and stores its line
// items in the same transaction. It reports false when the upload was not in
// CREATED any more.
func (d *DB) BeginProcessing(ctx context.Context, uploadID string, items []internal.LineItem, at time.Time, audit internal.AuditEntry) (bool, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, apperr.Persistence("begin processing", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE uploads SET status = ?, total_items = ?, processed_items = 0, error_message = NULL, updated_at = ?
WHERE id = ? AND status = ?
`, string(internal.UploadProcessing), len(items), formatTime(at), uploadID, string(internal.UploadCreated))
	if err != nil {
		return false, apperr.Persistence("begin processing", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO upload_items (id, upload_id, row_number, text, quantity_raw, quantity, unit)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(upload_id, row_number) DO NOTHING
`)
	if err != nil {
		return false, apperr.Persistence("begin processing", err)
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, item.ID, uploadID, item.RowNumber, item.Text, item.QuantityRaw, item.Quantity, item.Unit); err != nil {
			return false, apperr.Persistence("begin processing", err)
		}
	}
	if err := appendAudit(ctx, tx, audit); err != nil {
		return false, apperr.Persistence("begin processing", err)
	}
	if err := tx.Commit(); err != nil {
		return false, apperr.Persistence("begin processing", err)
	}
	return true, nil
}

type StatusUpdate struct {
	UploadID string
	From     []internal.UploadStatus
	To       internal.UploadStatus
	// ErrorMessage is written when non-nil.
	ErrorMessage *string
	// RequireAllProcessed guards the update with processed_items = total_items.
	RequireAllProcessed bool
	At                  time.Time
}

// UpdateUploadStatus is a compare-and-set on the upload status. It reports
// whether a row changed; the audit entry is written only in that case.
func (d *DB) UpdateUploadStatus(ctx context.Context, upd StatusUpdate, audit *internal.AuditEntry) (bool, error) {
	if len(upd.From) == 0 {
		return false, apperr.Validation("update upload status", "no source status given")
	}
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, apperr.Persistence("update upload status", err)
	}
	defer func() { _ = tx.Rollback() }()

	var completedAt *string
	if upd.To == internal.UploadCompleted {
		completedAt = formatTimePtr(&upd.At)
	}

	query := `
UPDATE uploads SET
  status = ?,
  error_message = COALESCE(?, error_message),
  completed_at = COALESCE(?, completed_at),
  updated_at = ?
WHERE id = ? AND status IN (` + placeholders(len(upd.From)) + `)`
	args := []any{string(upd.To), upd.ErrorMessage, completedAt, formatTime(upd.At), upd.UploadID}
	for _, s := range upd.From {
		args = append(args, string(s))
	}
	if upd.RequireAllProcessed {
		query += ` AND total_items IS NOT NULL AND processed_items = total_items`
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, apperr.Persistence("update upload status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if audit != nil {
		if err := appendAudit(ctx, tx, *audit); err != nil {
			return false, apperr.Persistence("update upload status", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, apperr.Persistence("update upload status", err)
	}
	return true, nil
}

// IncrementProcessed bumps processed_items by one while the upload is still
// PROCESSING and returns the status and counter as read afterwards.
func (d *DB) IncrementProcessed(ctx context.Context, uploadID string, at time.Time) (internal.UploadStatus, int, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, apperr.Persistence("increment processed", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
UPDATE uploads SET processed_items = processed_items + 1, updated_at = ?
WHERE id = ? AND status = ? AND (total_items IS NULL OR processed_items < total_items)
`, formatTime(at), uploadID, string(internal.UploadProcessing)); err != nil {
		return "", 0, apperr.Persistence("increment processed", err)
	}

	var status internal.UploadStatus
	var processed int
	err = tx.QueryRowContext(ctx, `SELECT status, processed_items FROM uploads WHERE id = ?`, uploadID).Scan(&status, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, apperr.NotFound("increment processed", "upload %s not found", uploadID)
	}
	if err != nil {
		return "", 0, apperr.Persistence("increment processed", err)
	}
	if err := tx.Commit(); err != nil {
		return "", 0, apperr.Persistence("increment processed", err)
	}
	return status, processed, nil
}

// SyncProgress raises processed_items to the number of stored candidates. Used
// when a task resumes after an interruption between persist and increment.
func (d *DB) SyncProgress(ctx context.Context, uploadID string) error {
	_, err := d.conn.ExecContext(ctx, `
UPDATE uploads SET processed_items = MAX(processed_items, (SELECT COUNT(*) FROM matched_items WHERE upload_id = ?))
WHERE id = ? AND status = ?
`, uploadID, uploadID, string(internal.UploadProcessing))
	return apperr.Persistence("sync progress", err)
}

func (d *DB) DeleteUpload(ctx context.Context, uploadID string, audit internal.AuditEntry) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Persistence("delete upload", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, uploadID)
	if err != nil {
		return apperr.Persistence("delete upload", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("delete upload", "upload %s not found", uploadID)
	}
	if err := appendAudit(ctx, tx, audit); err != nil {
		return apperr.Persistence("delete upload", err)
	}
	return apperr.Persistence("delete upload", tx.Commit())
}

type OwnerCounts struct {
	MonthlyUploads  int
	ProcessedItems  int
	PendingReview   int
	Matched         int
	TotalCandidates int
}

func (d *DB) OwnerCounts(ctx context.Context, ownerID string, since time.Time) (OwnerCounts, error) {
	var c OwnerCounts
	if err := d.conn.QueryRowContext(ctx, `
SELECT
  COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(processed_items), 0)
FROM uploads WHERE owner_id = ?
`, formatTime(since), ownerID).Scan(&c.MonthlyUploads, &c.ProcessedItems); err != nil {
		return OwnerCounts{}, apperr.Persistence("owner counts", err)
	}

	if err := d.conn.QueryRowContext(ctx, `
SELECT
  COUNT(m.id),
  COALESCE(SUM(CASE WHEN m.status IN (?, ?) THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN m.status = ? THEN 1 ELSE 0 END), 0)
FROM matched_items m
JOIN uploads u ON u.id = m.upload_id
WHERE u.owner_id = ?
`, string(internal.MatchApproved), string(internal.MatchManual), string(internal.MatchPending), ownerID).Scan(&c.TotalCandidates, &c.Matched, &c.PendingReview); err != nil {
		return OwnerCounts{}, apperr.Persistence("owner counts", err)
	}
	return c, nil
}
