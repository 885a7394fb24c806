package metastore

import "github.com/replicast/replicast/internal/models"

// Store defines the metastore operations consumers depend on. Depend on
// this interface rather than the concrete *DB type to facilitate testing.
type Store interface {
	UpsertObject(row ObjectRow) (int64, error)
	GetObject(id int64) (*ObjectRow, error)
	SetObjectStatus(id int64, status string) error
	DeleteObject(id int64) error

	GetMeta(objectID int64, metaType string) (map[string][]string, error)
	SetMeta(objectID int64, metaType, key string, values []string) error
	DeleteMeta(objectID int64, metaType, key string) error

	UpsertTerm(row TermRow) (int64, error)
	GetTerm(id int64) (*TermRow, error)
	DeleteTerm(id int64) error
	ChildTerms(parent int64) ([]TermRow, error)
	SetObjectTerms(objectID int64, termIDs []int64) error
	ObjectTerms(objectID int64) ([]TermRow, error)

	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)

// Verify the snapshot builder satisfies the engine contract.
var _ models.SnapshotProvider = (*SnapshotBuilder)(nil)
