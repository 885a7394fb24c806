package metastore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/replicast/replicast/internal/apperr"
)

// TermRow represents a row in the terms table.
type TermRow struct {
	ID       int64
	Taxonomy string
	Name     string
	Slug     string
	Parent   int64
}

// UpsertTerm inserts or replaces a term, returning its id.
func (db *DB) UpsertTerm(row TermRow) (int64, error) {
	if row.ID == 0 {
		res, err := db.conn.Exec(`
			INSERT INTO terms (taxonomy, name, slug, parent) VALUES (?, ?, ?, ?)
		`, row.Taxonomy, row.Name, row.Slug, row.Parent)
		if err != nil {
			return 0, fmt.Errorf("metastore: insert term: %w", err)
		}
		return res.LastInsertId()
	}
	_, err := db.conn.Exec(`
		INSERT INTO terms (id, taxonomy, name, slug, parent) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			taxonomy = excluded.taxonomy,
			name     = excluded.name,
			slug     = excluded.slug,
			parent   = excluded.parent
	`, row.ID, row.Taxonomy, row.Name, row.Slug, row.Parent)
	if err != nil {
		return 0, fmt.Errorf("metastore: upsert term: %w", err)
	}
	return row.ID, nil
}

// GetTerm returns one term or apperr.ErrNotFound.
func (db *DB) GetTerm(id int64) (*TermRow, error) {
	var row TermRow
	err := db.conn.QueryRow(`
		SELECT id, taxonomy, name, slug, parent FROM terms WHERE id = ?
	`, id).Scan(&row.ID, &row.Taxonomy, &row.Name, &row.Slug, &row.Parent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: get term: %w", err)
	}
	return &row, nil
}

// DeleteTerm removes a term, its metadata and its object assignments.
func (db *DB) DeleteTerm(id int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("metastore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM object_meta WHERE object_id = ? AND meta_type = 'term'`, id)
	_, _ = tx.Exec(`DELETE FROM object_terms WHERE term_id = ?`, id)
	_, _ = tx.Exec(`DELETE FROM terms WHERE id = ?`, id)

	return tx.Commit()
}

// ChildTerms returns the direct children of a term.
func (db *DB) ChildTerms(parent int64) ([]TermRow, error) {
	rows, err := db.conn.Query(`
		SELECT id, taxonomy, name, slug, parent FROM terms WHERE parent = ? ORDER BY id
	`, parent)
	if err != nil {
		return nil, fmt.Errorf("metastore: child terms: %w", err)
	}
	defer rows.Close()

	var out []TermRow
	for rows.Next() {
		var t TermRow
		if err := rows.Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.Parent); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetObjectTerms replaces the term assignments of an object.
func (db *DB) SetObjectTerms(objectID int64, termIDs []int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("metastore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM object_terms WHERE object_id = ?`, objectID)
	if len(termIDs) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO object_terms (object_id, term_id) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("metastore: prepare term assign: %w", err)
		}
		defer stmt.Close()
		for _, id := range termIDs {
			if _, err := stmt.Exec(objectID, id); err != nil {
				return fmt.Errorf("metastore: assign term: %w", err)
			}
		}
	}
	return tx.Commit()
}

// ObjectTerms returns the terms assigned to an object.
func (db *DB) ObjectTerms(objectID int64) ([]TermRow, error) {
	rows, err := db.conn.Query(`
		SELECT t.id, t.taxonomy, t.name, t.slug, t.parent
		FROM terms t JOIN object_terms ot ON ot.term_id = t.id
		WHERE ot.object_id = ? ORDER BY t.id
	`, objectID)
	if err != nil {
		return nil, fmt.Errorf("metastore: object terms: %w", err)
	}
	defer rows.Close()

	var out []TermRow
	for rows.Next() {
		var t TermRow
		if err := rows.Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.Parent); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
