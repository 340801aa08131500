package storage

import (
	"context"
	"database/sql"
	"errors"

	"catmatch/internal"
	"catmatch/internal/apperr"
)

const (
	MailFetched   = "fetched"
	MailSubmitted = "submitted"
	MailSkipped   = "skipped"
	MailFailed    = "failed"
)

func (d *DB) UpsertMailMessage(ctx context.Context, provider, messageID, subject, sender, receivedAt, hash, rawRef string) (internal.MailMessageRow, error) {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO mail_messages (provider, message_id, subject, sender, received_at, hash, status, raw_ref)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, message_id) DO UPDATE SET
  subject = excluded.subject,
  sender = excluded.sender,
  received_at = excluded.received_at,
  hash = excluded.hash,
  raw_ref = excluded.raw_ref,
  updated_at = CURRENT_TIMESTAMP
`, provider, messageID, subject, sender, receivedAt, hash, MailFetched, rawRef)
	if err != nil {
		return internal.MailMessageRow{}, apperr.Persistence("upsert mail message", err)
	}

	var row internal.MailMessageRow
	err = d.conn.QueryRowContext(ctx, `
SELECT id, provider, message_id, subject, sender, received_at, hash, status, raw_ref
FROM mail_messages WHERE provider = ? AND message_id = ?
`, provider, messageID).Scan(
		&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.MailMessageRow{}, apperr.NotFound("upsert mail message", "mail message %s/%s vanished", provider, messageID)
	}
	return row, apperr.Persistence("upsert mail message", err)
}

func (d *DB) ListMailByStatus(ctx context.Context, status string, limit int) ([]internal.MailMessageRow, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, provider, message_id, subject, sender, received_at, hash, status, raw_ref
FROM mail_messages WHERE status = ? ORDER BY received_at ASC, id ASC LIMIT ?
`, status, limit)
	if err != nil {
		return nil, apperr.Persistence("list mail", err)
	}
	defer rows.Close()

	var out []internal.MailMessageRow
	for rows.Next() {
		var row internal.MailMessageRow
		if err := rows.Scan(&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef); err != nil {
			return nil, apperr.Persistence("list mail", err)
		}
		out = append(out, row)
	}
	return out, apperr.Persistence("list mail", rows.Err())
}

func (d *DB) UpdateMailStatus(ctx context.Context, id int, status string) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE mail_messages SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return apperr.Persistence("update mail status", err)
}
