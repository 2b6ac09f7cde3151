package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/catalog"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/database"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/fs"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/models"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.NewSource(database.Config{
		Driver: "sqlite",
		Dsn:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	conn, err := db.DB()
	if err != nil {
		t.Fatalf("database handle: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })

	if err := database.RunMigration(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeCatalog struct {
	mu       sync.Mutex
	meta     catalog.Metadata
	metaErr  error
	failing  map[string]bool
	gate     chan struct{}
	requests []string
}

func newFakeCatalog(title string, animated bool, ids ...string) *fakeCatalog {
	items := make([]catalog.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, catalog.Item{ID: catalog.ItemID(id)})
	}
	return &fakeCatalog{
		meta: catalog.Metadata{
			Title:    map[string]string{"en": title},
			Items:    items,
			Animated: animated,
		},
		failing: make(map[string]bool),
	}
}

func (v *fakeCatalog) FetchMetadata(ctx context.Context, packId string) (catalog.Metadata, error) {
	if v.gate != nil {
		select {
		case <-v.gate:
		case <-ctx.Done():
			return catalog.Metadata{}, ctx.Err()
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = append(v.requests, "meta:"+packId)
	if v.metaErr != nil {
		return catalog.Metadata{}, v.metaErr
	}
	meta := v.meta
	meta.PackID = packId
	return meta, nil
}

func (v *fakeCatalog) FetchAsset(ctx context.Context, packId, itemId string, animated bool) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = append(v.requests, "asset:"+itemId)
	if v.failing[itemId] {
		return nil, &catalog.RemoteError{URL: "fake://" + itemId, Status: 404}
	}
	return []byte("raw-" + itemId), nil
}

func (v *fakeCatalog) Locales() []string {
	return []string{"en", "ja"}
}

func (v *fakeCatalog) recorded() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.requests...)
}

func (v *fakeCatalog) setItems(ids ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.meta.Items = nil
	for _, id := range ids {
		v.meta.Items = append(v.meta.Items, catalog.Item{ID: catalog.ItemID(id)})
	}
}

// fakeDeriver copies the raw bytes, animated renders take a while to finish.
// Items listed in failing are never rendered.
type fakeDeriver struct {
	fs    afero.Fs
	delay time.Duration

	mu      sync.Mutex
	calls   []string
	failing map[string]bool
}

func (v *fakeDeriver) fail(itemIds ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failing == nil {
		v.failing = make(map[string]bool)
	}
	for _, id := range itemIds {
		v.failing[id] = true
	}
}

func (v *fakeDeriver) broken(src string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	itemId := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	if v.failing[itemId] {
		return fmt.Errorf("unable to decode %s", src)
	}
	return nil
}

func (v *fakeDeriver) record(kind, dst string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, kind+":"+dst)
}

func (v *fakeDeriver) copy(src, dst string) error {
	raw, err := afero.ReadFile(v.fs, src)
	if err != nil {
		return err
	}
	return afero.WriteFile(v.fs, dst, raw, 0644)
}

func (v *fakeDeriver) Static(src, dst string) error {
	v.record("static", dst)
	if err := v.broken(src); err != nil {
		return err
	}
	return v.copy(src, dst)
}

func (v *fakeDeriver) Animated(src, dst string) error {
	time.Sleep(v.delay)
	v.record("animated", dst)
	if err := v.broken(src); err != nil {
		return err
	}
	return v.copy(src, dst)
}

// stubMirror records calls, it only mirrors once enabled is set.
type stubMirror struct {
	mu        sync.Mutex
	enabled   bool
	removed   []string
	published []string
}

func (v *stubMirror) enable() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enabled = true
}

func (v *stubMirror) Enabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

func (v *stubMirror) BaseURL() string {
	return ""
}

func (v *stubMirror) Publish(ctx context.Context, packId string, files []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.published = append(v.published, packId)
	return nil
}

func (v *stubMirror) Remove(ctx context.Context, packId string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removed = append(v.removed, packId)
	return nil
}

func (v *stubMirror) calls() (removed, published []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.removed...), append([]string(nil), v.published...)
}

func (v *fakeDeriver) Tab(src, dst string) error {
	v.record("tab", src)
	return v.copy(src, dst)
}

type testEnv struct {
	importer  *Importer
	packs     *PackRepository
	jobs      *JobTracker
	workspace *fs.Workspace
	catalog   *fakeCatalog
	deriver   *fakeDeriver
	mirror    *stubMirror
}

func newTestEnv(t *testing.T, cat *fakeCatalog, config ImporterConfig) *testEnv {
	t.Helper()

	db := newTestDB(t)
	memFs := afero.NewMemMapFs()
	env := &testEnv{
		packs:     NewPackRepository(db),
		jobs:      NewJobTracker(db, nil),
		workspace: fs.NewWorkspace(memFs, "/packs"),
		catalog:   cat,
		deriver:   &fakeDeriver{fs: memFs},
		mirror:    &stubMirror{},
	}
	env.importer = NewImporter(config, ImporterDeps{
		Packs:     env.packs,
		Jobs:      env.jobs,
		Workspace: env.workspace,
		Catalog:   cat,
		Deriver:   env.deriver,
		Mirror:    env.mirror,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.importer.Start(ctx)

	return env
}

func (v *testEnv) waitForJob(t *testing.T, packId string) models.ImportJob {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !v.importer.IsImporting(packId) {
			job, err := v.importer.JobStatus(packId)
			if err == nil && job.IsFinished() {
				return job
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("import of %s did not finish in time", packId)
	return models.ImportJob{}
}
