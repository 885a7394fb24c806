// Package identity maintains the per-site remote identity map: which remote
// object, on which site, mirrors each local object.
package identity

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/goccy/go-json"

	"github.com/replicast/replicast/internal/metastore"
	"github.com/replicast/replicast/internal/models"
)

const lockStripes = 32

// Map reads and writes remote-counterpart bookkeeping stored as object
// metadata. The underlying storage only supports whole-value metadata, so
// every write is a read-merge-write of the full per-object mapping,
// serialized by a per-object lock to avoid lost updates between sites
// completing concurrently.
type Map struct {
	db metastore.Store
	mu [lockStripes]sync.Mutex
}

// New creates an identity map over the metastore.
func New(db metastore.Store) *Map {
	return &Map{db: db}
}

func (m *Map) lock(objectID int64) *sync.Mutex {
	return &m.mu[objectID%lockStripes]
}

// Get returns the site → remote-counterpart mapping for an entity.
// Fails soft: no metadata yields an empty map.
func (m *Map) Get(entity models.LocalEntity) (models.RemoteInfoMap, error) {
	return m.read(entity)
}

// Put upserts one site's entry. Called by the handler only after a
// successful dispatch.
func (m *Map) Put(entity models.LocalEntity, siteID int64, info models.RemoteInfo) error {
	mu := m.lock(entity.ID())
	mu.Lock()
	defer mu.Unlock()

	current, err := m.read(entity)
	if err != nil {
		return err
	}
	current[siteID] = info
	return m.write(entity, current)
}

// Remove deletes one site's entry, used when a site is deselected or the
// object is permanently deleted.
func (m *Map) Remove(entity models.LocalEntity, siteID int64) error {
	mu := m.lock(entity.ID())
	mu.Lock()
	defer mu.Unlock()

	current, err := m.read(entity)
	if err != nil {
		return err
	}
	if _, ok := current[siteID]; !ok {
		return nil
	}
	delete(current, siteID)
	if len(current) == 0 {
		return m.db.DeleteMeta(entity.ID(), entity.MetaType(), models.MetaKeyRemoteInfo)
	}
	return m.write(entity, current)
}

func (m *Map) read(entity models.LocalEntity) (models.RemoteInfoMap, error) {
	meta, err := m.db.GetMeta(entity.ID(), entity.MetaType())
	if err != nil {
		return nil, fmt.Errorf("identity: read meta: %w", err)
	}
	values := meta[models.MetaKeyRemoteInfo]
	if len(values) == 0 {
		return models.RemoteInfoMap{}, nil
	}
	var out models.RemoteInfoMap
	if err := json.Unmarshal([]byte(values[0]), &out); err != nil {
		return nil, fmt.Errorf("identity: decode remote info: %w", err)
	}
	if out == nil {
		out = models.RemoteInfoMap{}
	}
	return out, nil
}

func (m *Map) write(entity models.LocalEntity, infos models.RemoteInfoMap) error {
	raw, err := json.Marshal(infos)
	if err != nil {
		return fmt.Errorf("identity: encode remote info: %w", err)
	}
	return m.db.SetMeta(entity.ID(), entity.MetaType(), models.MetaKeyRemoteInfo, []string{string(raw)})
}

// SelectedSites returns the site ids the object is currently marked to
// replicate to, per the admin surface's selection metadata.
func (m *Map) SelectedSites(entity models.LocalEntity) ([]int64, error) {
	meta, err := m.db.GetMeta(entity.ID(), entity.MetaType())
	if err != nil {
		return nil, fmt.Errorf("identity: read selection: %w", err)
	}
	var out []int64
	for _, v := range meta[models.MetaKeySites] {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// SetSelectedSites replaces the object's site selection.
func (m *Map) SetSelectedSites(entity models.LocalEntity, siteIDs []int64) error {
	values := make([]string, len(siteIDs))
	for i, id := range siteIDs {
		values[i] = strconv.FormatInt(id, 10)
	}
	return m.db.SetMeta(entity.ID(), entity.MetaType(), models.MetaKeySites, values)
}
