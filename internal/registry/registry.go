// Package registry holds per-remote-site connection configuration loaded
// from a YAML file, cached with a bounded TTL and reloaded when the file
// changes on disk.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/replicast/replicast/internal/apperr"
	"github.com/replicast/replicast/internal/models"
	pkgconfig "github.com/replicast/replicast/pkg/config"
)

type sitesFile struct {
	Sites []models.RemoteSite `yaml:"sites"`
}

// Registry is the site configuration source.
type Registry struct {
	path   string
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.RWMutex
	sites    map[int64]models.RemoteSite
	loadedAt time.Time

	onReload []func()
}

// New creates a registry over the given sites file. The file is loaded
// lazily on first access and re-read once the cache TTL elapses.
func New(path string, ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{path: path, ttl: ttl, logger: logger}
}

// OnReload registers a callback invoked after every reload, used to
// invalidate dependent caches (per-site transport clients).
func (r *Registry) OnReload(fn func()) {
	r.mu.Lock()
	r.onReload = append(r.onReload, fn)
	r.mu.Unlock()
}

// Reload re-reads the sites file immediately.
func (r *Registry) Reload() error {
	var parsed sitesFile
	if err := pkgconfig.Load(r.path, &parsed); err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	sites := make(map[int64]models.RemoteSite, len(parsed.Sites))
	for _, site := range parsed.Sites {
		if site.ID == 0 {
			r.logger.Warn("registry: skipping site without id", slog.String("name", site.Name))
			continue
		}
		sites[site.ID] = site
	}

	r.mu.Lock()
	r.sites = sites
	r.loadedAt = time.Now()
	callbacks := append([]func(){}, r.onReload...)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}

	r.logger.Info("registry: sites loaded", slog.Int("count", len(sites)))
	return nil
}

func (r *Registry) ensureFresh() error {
	r.mu.RLock()
	fresh := r.sites != nil && time.Since(r.loadedAt) < r.ttl
	r.mu.RUnlock()
	if fresh {
		return nil
	}
	return r.Reload()
}

// Get returns one configured site or apperr.ErrSiteNotFound. The returned
// site may still fail Validate; callers must never dispatch to one that
// does.
func (r *Registry) Get(id int64) (*models.RemoteSite, error) {
	if err := r.ensureFresh(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	site, ok := r.sites[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.ErrSiteNotFound
	}
	return &site, nil
}

// All returns every configured site, ordered by id.
func (r *Registry) All() ([]models.RemoteSite, error) {
	if err := r.ensureFresh(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]models.RemoteSite, 0, len(r.sites))
	for _, site := range r.sites {
		out = append(out, site)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
