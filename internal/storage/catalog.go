package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"catmatch/internal"
	"catmatch/internal/apperr"
)

// UpsertCategory inserts or updates by code and returns the stored id.
func (d *DB) UpsertCategory(ctx context.Context, c internal.Category) (string, error) {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO categories (id, code, name, description) VALUES (?, ?, ?, ?)
ON CONFLICT(code) DO UPDATE SET name = excluded.name, description = excluded.description
`, c.ID, c.Code, c.Name, c.Description)
	if err != nil {
		return "", apperr.Persistence("upsert category", err)
	}
	var id string
	if err := d.conn.QueryRowContext(ctx, `SELECT id FROM categories WHERE code = ?`, c.Code).Scan(&id); err != nil {
		return "", apperr.Persistence("upsert category", err)
	}
	return id, nil
}

func (d *DB) UpsertSubcategory(ctx context.Context, s internal.Subcategory) (string, error) {
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO subcategories (id, code, name, description, category_id) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(code) DO UPDATE SET name = excluded.name, description = excluded.description, category_id = excluded.category_id
`, s.ID, s.Code, s.Name, s.Description, s.CategoryID)
	if err != nil {
		return "", apperr.Persistence("upsert subcategory", err)
	}
	var id string
	if err := d.conn.QueryRowContext(ctx, `SELECT id FROM subcategories WHERE code = ?`, s.Code).Scan(&id); err != nil {
		return "", apperr.Persistence("upsert subcategory", err)
	}
	return id, nil
}

func (d *DB) UpsertEntries(ctx context.Context, entries []internal.CatalogEntry) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Persistence("upsert entries", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO materials (id, code, name, unit, active, category_id, subcategory_id, keywords)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(code) DO UPDATE SET
  name = excluded.name,
  unit = excluded.unit,
  active = excluded.active,
  category_id = excluded.category_id,
  subcategory_id = excluded.subcategory_id,
  keywords = excluded.keywords
`)
	if err != nil {
		return apperr.Persistence("upsert entries", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		keywords := e.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		keywordsJSON, _ := json.Marshal(keywords)
		if _, err := stmt.ExecContext(ctx, e.ID, e.Code, e.Name, e.Unit, e.Active, e.CategoryID, e.SubcategoryID, string(keywordsJSON)); err != nil {
			return apperr.Persistence("upsert entries", err)
		}
	}

	return apperr.Persistence("upsert entries", tx.Commit())
}

const entryColumns = `id, code, name, unit, active, category_id, subcategory_id, keywords`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (internal.CatalogEntry, error) {
	var e internal.CatalogEntry
	var keywordsJSON string
	if err := row.Scan(&e.ID, &e.Code, &e.Name, &e.Unit, &e.Active, &e.CategoryID, &e.SubcategoryID, &keywordsJSON); err != nil {
		return internal.CatalogEntry{}, err
	}
	_ = json.Unmarshal([]byte(keywordsJSON), &e.Keywords)
	return e, nil
}

func (d *DB) ListEntries(ctx context.Context) ([]internal.CatalogEntry, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT `+entryColumns+` FROM materials ORDER BY code`)
	if err != nil {
		return nil, apperr.Persistence("list entries", err)
	}
	defer rows.Close()

	var out []internal.CatalogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apperr.Persistence("list entries", err)
		}
		out = append(out, e)
	}
	return out, apperr.Persistence("list entries", rows.Err())
}

func (d *DB) GetEntry(ctx context.Context, id string) (internal.CatalogEntry, error) {
	e, err := scanEntry(d.conn.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM materials WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return internal.CatalogEntry{}, apperr.NotFound("get entry", "catalog entry %s not found", id)
	}
	return e, apperr.Persistence("get entry", err)
}

func (d *DB) GetEntryByCode(ctx context.Context, code string) (internal.CatalogEntry, error) {
	e, err := scanEntry(d.conn.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM materials WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return internal.CatalogEntry{}, apperr.NotFound("get entry", "catalog entry with code %s not found", code)
	}
	return e, apperr.Persistence("get entry", err)
}

func (d *DB) ListCategories(ctx context.Context) ([]internal.Category, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT id, code, name, description FROM categories ORDER BY name, code`)
	if err != nil {
		return nil, apperr.Persistence("list categories", err)
	}
	defer rows.Close()

	var out []internal.Category
	for rows.Next() {
		var c internal.Category
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Description); err != nil {
			return nil, apperr.Persistence("list categories", err)
		}
		out = append(out, c)
	}
	return out, apperr.Persistence("list categories", rows.Err())
}

// ListSubcategories returns every subcategory, or only those of categoryID when set.
func (d *DB) ListSubcategories(ctx context.Context, categoryID string) ([]internal.Subcategory, error) {
	query := `SELECT id, code, name, description, category_id FROM subcategories`
	args := []any{}
	if categoryID != "" {
		query += ` WHERE category_id = ?`
		args = append(args, categoryID)
	}
	query += ` ORDER BY name, code`

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence("list subcategories", err)
	}
	defer rows.Close()

	var out []internal.Subcategory
	for rows.Next() {
		var s internal.Subcategory
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Description, &s.CategoryID); err != nil {
			return nil, apperr.Persistence("list subcategories", err)
		}
		out = append(out, s)
	}
	return out, apperr.Persistence("list subcategories", rows.Err())
}
