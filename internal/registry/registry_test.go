package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/replicast/replicast/internal/apperr"
)

const sitesYAML = `sites:
  - id: 2
    name: mirror
    site_url: https://mirror.test
    api_url: https://mirror.test/replicast/v1
    api_key: k
    api_secret: s
  - id: 3
    name: archive
    site_url: https://archive.test
    api_url: https://archive.test/replicast/v1
    api_key: k2
    api_secret: s2
`

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSites(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "sites.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGetAndAll(t *testing.T) {
	path := writeSites(t, t.TempDir(), sitesYAML)
	r := New(path, time.Minute, discard())

	site, err := r.Get(2)
	if err != nil {
		t.Fatal(err)
	}
	if site.Name != "mirror" || site.APIKey != "k" {
		t.Errorf("site = %+v", site)
	}

	if _, err := r.Get(99); !errors.Is(err, apperr.ErrSiteNotFound) {
		t.Errorf("got %v, want ErrSiteNotFound", err)
	}

	all, err := r.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != 2 || all[1].ID != 3 {
		t.Errorf("all = %+v, want both sites ordered by id", all)
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("MIRROR_SECRET", "from-env")
	path := writeSites(t, t.TempDir(), `sites:
  - id: 2
    name: mirror
    site_url: https://mirror.test
    api_url: https://mirror.test/replicast/v1
    api_key: k
    api_secret: ${MIRROR_SECRET}
`)
	r := New(path, time.Minute, discard())
	site, err := r.Get(2)
	if err != nil {
		t.Fatal(err)
	}
	if site.APISecret != "from-env" {
		t.Errorf("secret = %q, want env expansion", site.APISecret)
	}
}

func TestSiteWithoutIDSkipped(t *testing.T) {
	path := writeSites(t, t.TempDir(), `sites:
  - name: broken
    site_url: https://broken.test
  - id: 2
    name: mirror
    site_url: https://mirror.test
    api_url: https://mirror.test/replicast/v1
    api_key: k
    api_secret: s
`)
	r := New(path, time.Minute, discard())
	all, err := r.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != 2 {
		t.Errorf("all = %+v, want the id-less entry skipped", all)
	}
}

func TestReloadAndCallbacks(t *testing.T) {
	dir := t.TempDir()
	path := writeSites(t, dir, sitesYAML)
	r := New(path, time.Minute, discard())

	calls := 0
	r.OnReload(func() { calls++ })

	if _, err := r.Get(2); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("reload callbacks = %d, want 1 after lazy load", calls)
	}

	writeSites(t, dir, `sites:
  - id: 7
    name: fresh
    site_url: https://fresh.test
    api_url: https://fresh.test/replicast/v1
    api_key: k
    api_secret: s
`)
	// Within the TTL the stale set is still served.
	if _, err := r.Get(2); err != nil {
		t.Errorf("cached site gone before reload: %v", err)
	}

	if err := r.Reload(); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("reload callbacks = %d, want 2", calls)
	}
	if _, err := r.Get(2); !errors.Is(err, apperr.ErrSiteNotFound) {
		t.Error("removed site still resolvable after explicit reload")
	}
	if _, err := r.Get(7); err != nil {
		t.Errorf("new site not resolvable: %v", err)
	}
}

func TestTTLExpiryTriggersReload(t *testing.T) {
	dir := t.TempDir()
	path := writeSites(t, dir, sitesYAML)
	r := New(path, 50*time.Millisecond, discard())

	if _, err := r.Get(2); err != nil {
		t.Fatal(err)
	}
	writeSites(t, dir, `sites:
  - id: 7
    name: fresh
    site_url: https://fresh.test
    api_url: https://fresh.test/replicast/v1
    api_key: k
    api_secret: s
`)
	time.Sleep(80 * time.Millisecond)

	if _, err := r.Get(7); err != nil {
		t.Errorf("site file change not picked up after TTL: %v", err)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeSites(t, dir, sitesYAML)
	r := New(path, time.Hour, discard())
	if err := r.Reload(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	// Give the watcher a moment to register, then rewrite the file.
	time.Sleep(100 * time.Millisecond)
	writeSites(t, dir, `sites:
  - id: 7
    name: fresh
    site_url: https://fresh.test
    api_url: https://fresh.test/replicast/v1
    api_key: k
    api_secret: s
`)

	deadline := time.After(3 * time.Second)
	for {
		if _, err := r.Get(7); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher did not reload the sites file")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("watch returned error: %v", err)
	}
}
