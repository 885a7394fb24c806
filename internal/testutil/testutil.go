// Package testutil provides shared test helpers for setting up metastores
// and upload directories.
package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/replicast/replicast/internal/metastore"
	"github.com/replicast/replicast/internal/models"
	"github.com/replicast/replicast/internal/storage"
)

// TestDB creates a temporary SQLite metastore that is automatically cleaned up.
func TestDB(t *testing.T) *metastore.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "replicast-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := metastore.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestUploads creates a temporary uploads directory with a storage.Provider.
func TestUploads(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// SeedPost inserts a published post and returns its id.
func SeedPost(t *testing.T, db *metastore.DB, title string) int64 {
	t.Helper()
	id, err := db.UpsertObject(metastore.ObjectRow{
		Kind:   models.KindPost,
		Status: "publish",
		Title:  title,
		Slug:   title,
		Date:   time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

// SeedTerm inserts a term and returns its id.
func SeedTerm(t *testing.T, db *metastore.DB, taxonomy, name string, parent int64) int64 {
	t.Helper()
	id, err := db.UpsertTerm(metastore.TermRow{
		Taxonomy: taxonomy,
		Name:     name,
		Slug:     name,
		Parent:   parent,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

// Site returns a remote site fixture pointing at url.
func Site(id int64, name, url string) models.RemoteSite {
	return models.RemoteSite{
		ID:        id,
		Name:      name,
		SiteURL:   url,
		APIURL:    url + "/replicast/v1",
		APIKey:    "test-key",
		APISecret: "test-secret",
	}
}
