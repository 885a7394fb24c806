package metastore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/replicast/replicast/internal/apperr"
	"github.com/replicast/replicast/internal/models"
)

// ObjectRow represents a row in the objects table.
type ObjectRow struct {
	ID       int64
	Kind     models.Kind
	Status   string
	Title    string
	Content  string
	Slug     string
	Template string
	MimeType string
	Parent   int64
	Featured int64
	Author   int64
	Date     time.Time
}

// UpsertObject inserts or replaces an object. A zero ID assigns a fresh one;
// a non-zero ID replaces the existing row. Returns the object id.
func (db *DB) UpsertObject(row ObjectRow) (int64, error) {
	if row.ID == 0 {
		res, err := db.conn.Exec(`
			INSERT INTO objects (kind, status, title, content, slug, template, mime_type, parent, featured, author, date, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, row.Kind, row.Status, row.Title, row.Content, row.Slug, row.Template, row.MimeType,
			row.Parent, row.Featured, row.Author, row.Date, time.Now())
		if err != nil {
			return 0, fmt.Errorf("metastore: insert object: %w", err)
		}
		return res.LastInsertId()
	}

	_, err := db.conn.Exec(`
		INSERT INTO objects (id, kind, status, title, content, slug, template, mime_type, parent, featured, author, date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind       = excluded.kind,
			status     = excluded.status,
			title      = excluded.title,
			content    = excluded.content,
			slug       = excluded.slug,
			template   = excluded.template,
			mime_type  = excluded.mime_type,
			parent     = excluded.parent,
			featured   = excluded.featured,
			author     = excluded.author,
			date       = excluded.date,
			updated_at = excluded.updated_at
	`, row.ID, row.Kind, row.Status, row.Title, row.Content, row.Slug, row.Template, row.MimeType,
		row.Parent, row.Featured, row.Author, row.Date, time.Now())
	if err != nil {
		return 0, fmt.Errorf("metastore: upsert object: %w", err)
	}
	return row.ID, nil
}

// GetObject returns one object or apperr.ErrNotFound.
func (db *DB) GetObject(id int64) (*ObjectRow, error) {
	var row ObjectRow
	var date sql.NullTime
	err := db.conn.QueryRow(`
		SELECT id, kind, status, title, content, slug, template, mime_type, parent, featured, author, date
		FROM objects WHERE id = ?
	`, id).Scan(&row.ID, &row.Kind, &row.Status, &row.Title, &row.Content, &row.Slug,
		&row.Template, &row.MimeType, &row.Parent, &row.Featured, &row.Author, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: get object: %w", err)
	}
	if date.Valid {
		row.Date = date.Time
	}
	return &row, nil
}

// SetObjectStatus updates only the status column (trash handling).
func (db *DB) SetObjectStatus(id int64, status string) error {
	res, err := db.conn.Exec(`UPDATE objects SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("metastore: set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DeleteObject removes an object, its metadata and its term assignments.
func (db *DB) DeleteObject(id int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("metastore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, _ = tx.Exec(`DELETE FROM object_meta WHERE object_id = ?`, id)
	_, _ = tx.Exec(`DELETE FROM object_terms WHERE object_id = ?`, id)
	_, _ = tx.Exec(`DELETE FROM objects WHERE id = ?`, id)

	return tx.Commit()
}

// GetMeta returns the whole metadata map for one object. Fails soft: an
// object with no metadata yields an empty map, not an error.
func (db *DB) GetMeta(objectID int64, metaType string) (map[string][]string, error) {
	rows, err := db.conn.Query(`
		SELECT meta_key, meta_value FROM object_meta WHERE object_id = ? AND meta_type = ?
	`, objectID, metaType)
	if err != nil {
		return nil, fmt.Errorf("metastore: get meta: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var values []string
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			// A scalar stored by an older writer; keep it as a single value.
			values = []string{raw}
		}
		out[key] = values
	}
	return out, rows.Err()
}

// SetMeta replaces the whole value for one key. The storage convention is
// whole-value metadata: delete then re-add, never a partial merge.
func (db *DB) SetMeta(objectID int64, metaType, key string, values []string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("metastore: marshal meta %q: %w", key, err)
	}
	_, err = db.conn.Exec(`
		INSERT INTO object_meta (object_id, meta_type, meta_key, meta_value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(object_id, meta_type, meta_key) DO UPDATE SET
			meta_value = excluded.meta_value
	`, objectID, metaType, key, string(raw))
	if err != nil {
		return fmt.Errorf("metastore: set meta %q: %w", key, err)
	}
	return nil
}

// DeleteMeta removes one metadata key.
func (db *DB) DeleteMeta(objectID int64, metaType, key string) error {
	if _, err := db.conn.Exec(`
		DELETE FROM object_meta WHERE object_id = ? AND meta_type = ? AND meta_key = ?
	`, objectID, metaType, key); err != nil {
		return fmt.Errorf("metastore: delete meta %q: %w", key, err)
	}
	return nil
}
