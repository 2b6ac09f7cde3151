package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/catalog"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/fs"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/metrics"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/models"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/thumbnail"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const (
	rawImagePattern = "*.png"
	tabFilename     = "tab.png"
)

var validation = validator.New(validator.WithRequiredStructEnabled())

// Catalog is the part of the provider client the importer relies on.
type Catalog interface {
	FetchMetadata(ctx context.Context, packId string) (catalog.Metadata, error)
	FetchAsset(ctx context.Context, packId, itemId string, animated bool) ([]byte, error)
	Locales() []string
}

type ImporterConfig struct {
	// FetchConcurrency bounds parallel downloads of a single pack, 1 downloads item by item.
	FetchConcurrency int
	// CleanupDelay is how long raw downloads stay after the pack was persisted.
	CleanupDelay time.Duration
	Workers      int
	QueueSize    int
}

func (v ImporterConfig) withDefaults() ImporterConfig {
	if v.FetchConcurrency <= 0 {
		v.FetchConcurrency = 1
	}
	if v.CleanupDelay <= 0 {
		v.CleanupDelay = 30 * time.Second
	}
	if v.Workers <= 0 {
		v.Workers = 1
	}
	if v.QueueSize <= 0 {
		v.QueueSize = 256
	}
	return v
}

type importTask struct {
	job models.ImportJob
}

// Importer accepts pack imports and runs them in the background.
// Ingest only validates and reconciles, everything touching the provider
// happens on the worker goroutines started by Start.
type Importer struct {
	config    ImporterConfig
	packs     *PackRepository
	jobs      *JobTracker
	workspace *fs.Workspace
	catalog   Catalog
	deriver   thumbnail.Deriver
	mirror    fs.Mirror
	metrics   metrics.Metrics

	inflight *inflightSet
	queue    chan importTask
}

type ImporterDeps struct {
	Packs     *PackRepository
	Jobs      *JobTracker
	Workspace *fs.Workspace
	Catalog   Catalog
	Deriver   thumbnail.Deriver
	Mirror    fs.Mirror
	Metrics   metrics.Metrics
}

func NewImporter(config ImporterConfig, deps ImporterDeps) *Importer {
	config = config.withDefaults()
	if deps.Mirror == nil {
		deps.Mirror, _ = fs.NewMirror(deps.Workspace.Fs(), nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}

	return &Importer{
		config:    config,
		packs:     deps.Packs,
		jobs:      deps.Jobs,
		workspace: deps.Workspace,
		catalog:   deps.Catalog,
		deriver:   deps.Deriver,
		mirror:    deps.Mirror,
		metrics:   deps.Metrics,
		inflight:  newInflightSet(),
		queue:     make(chan importTask, config.QueueSize),
	}
}

// Start runs the import workers until ctx is done.
func (v *Importer) Start(ctx context.Context) {
	for idx := 0; idx < v.config.Workers; idx++ {
		go v.consume(ctx)
	}
}

func (v *Importer) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-v.queue:
			v.run(ctx, task)
		}
	}
}

// Ingest validates the request, reconciles an existing pack and queues the import.
// The returned job is pending, its outcome is only visible through JobStatus.
func (v *Importer) Ingest(ctx context.Context, packId string, overwrite bool) (models.ImportJob, error) {
	if err := validation.Var(packId, "required,alphanum,max=64"); err != nil {
		v.metrics.IncImportsRejected("invalid")
		return models.ImportJob{}, fmt.Errorf("%w: %q", ErrInvalidRequest, packId)
	}

	token := uuid.NewString()
	if !v.inflight.TryAcquire(packId, token) {
		v.metrics.IncImportsRejected("in_progress")
		return models.ImportJob{}, ErrImportInProgress
	}
	queued := false
	defer func() {
		if !queued {
			v.inflight.Release(packId, token)
		}
	}()

	if len(v.queue) >= cap(v.queue) {
		v.metrics.IncImportsRejected("queue_full")
		return models.ImportJob{}, ErrQueueFull
	}

	existing, err := v.packs.Find(packId)
	if err != nil {
		return models.ImportJob{}, err
	}

	packPath := v.workspace.PackPath(packId)
	if existing != nil {
		if !overwrite {
			v.metrics.IncImportsRejected("conflict")
			return models.ImportJob{}, ErrPackExists
		}
		if err := v.packs.DeletePackAndStickers(packId); err != nil {
			return models.ImportJob{}, err
		}
		if err := v.workspace.Remove(packPath); err != nil {
			log.Warn().Err(err).Str("pack", packId).Msg("Unable to remove the previous pack workspace, continue anyway...")
		}
	} else if err := v.workspace.Remove(v.workspace.ScratchPath(packId)); err != nil {
		log.Warn().Err(err).Str("pack", packId).Msg("Unable to remove leftover raw downloads, continue anyway...")
	}

	if err := v.workspace.Ensure(packPath); err != nil {
		return models.ImportJob{}, err
	}

	job, err := v.jobs.Create(token, packId, overwrite)
	if err != nil {
		return job, err
	}

	select {
	case v.queue <- importTask{job: job}:
		queued = true
	case <-ctx.Done():
		_ = v.jobs.Finish(&job, models.ImportJobReport{}, fmt.Errorf("import was not queued: %v", ctx.Err()))
		return job, ctx.Err()
	default:
		_ = v.jobs.Finish(&job, models.ImportJobReport{}, ErrQueueFull)
		v.metrics.IncImportsRejected("queue_full")
		return job, ErrQueueFull
	}

	v.metrics.IncImportsAccepted()
	log.Info().Str("pack", packId).Str("job", job.Uuid).Bool("overwrite", overwrite).Msg("A pack import was accepted.")

	return job, nil
}

// JobStatus returns the newest import job of a pack.
func (v *Importer) JobStatus(packId string) (models.ImportJob, error) {
	return v.jobs.Latest(packId)
}

// IsImporting reports whether an import of the pack is queued or running.
func (v *Importer) IsImporting(packId string) bool {
	_, ok := v.inflight.Holder(packId)
	return ok
}

func (v *Importer) run(ctx context.Context, task importTask) {
	job := task.job
	defer v.inflight.Release(job.PackID, job.Uuid)

	start := time.Now()
	if job.Overwrite {
		v.unpublish(ctx, job.PackID)
	}

	report := models.ImportJobReport{}
	cause := v.process(ctx, job, &report)

	if err := v.jobs.Finish(&job, report, cause); err != nil {
		log.Error().Err(err).Str("pack", job.PackID).Msg("Unable to record the import job result...")
	}

	v.metrics.IncImportsCompleted(job.Status)
	v.metrics.ObserveImportDuration(job.Status, time.Since(start).Seconds())

	if cause != nil {
		log.Error().Err(cause).Str("pack", job.PackID).Str("job", job.Uuid).Msg("A pack import failed...")
		return
	}
	log.Info().
		Dur("elapsed", time.Since(start)).
		Str("pack", job.PackID).
		Str("name", report.Name).
		Int("fetched", len(report.Fetched)).
		Int("skipped", len(report.Skipped)).
		Msg("A pack import was completed.")
}

func (v *Importer) process(ctx context.Context, job models.ImportJob, report *models.ImportJobReport) error {
	packId := job.PackID

	meta, err := v.catalog.FetchMetadata(ctx, packId)
	if err != nil {
		return fmt.Errorf("unable to fetch pack metadata: %w", err)
	}

	report.Name = meta.Name(v.catalog.Locales(), packId)
	report.Animated = meta.Animated
	report.Total = len(meta.Items)

	fetched := v.fetchAssets(ctx, packId, meta, report)
	if len(meta.Items) > 0 && len(fetched) == 0 {
		return fmt.Errorf("none of the %d stickers could be fetched", len(meta.Items))
	}

	derived := v.deriveThumbnails(packId, meta.Animated, report)
	if len(derived) == 0 {
		return fmt.Errorf("none of the %d fetched stickers could be rendered", len(fetched))
	}

	stickers := make([]models.Sticker, 0, len(derived))
	for _, item := range meta.Items {
		itemId := string(item.ID)
		if _, ok := derived[itemId]; !ok {
			continue
		}
		stickers = append(stickers, models.Sticker{
			PackID: packId,
			LineID: itemId,
			File:   models.StickerFilename(itemId, meta.Animated),
		})
	}

	pack := models.Pack{
		Name:     report.Name,
		LineID:   packId,
		Animated: meta.Animated,
		Count:    len(meta.Items),
	}
	if _, err := v.packs.InsertPackWithStickers(pack, stickers); err != nil {
		return err
	}

	v.scheduleCleanup(packId, job.Uuid)

	if v.mirror.Enabled() {
		if err := v.publish(ctx, packId); err != nil {
			log.Warn().Err(err).Str("pack", packId).Msg("Unable to mirror pack files to the permanent destination...")
		} else {
			report.Mirrored = true
		}
	}

	return nil
}

// fetchAssets downloads every item into the scratch directory.
// A failed item is recorded and skipped, it never stops the others.
func (v *Importer) fetchAssets(ctx context.Context, packId string, meta catalog.Metadata, report *models.ImportJobReport) map[string]struct{} {
	scratch := v.workspace.ScratchPath(packId)

	var mu sync.Mutex
	fetched := make(map[string]struct{}, len(meta.Items))
	skip := func(itemId string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if report.Skipped == nil {
			report.Skipped = make(map[string]string)
		}
		report.Skipped[itemId] = err.Error()
	}

	p := pool.New().WithMaxGoroutines(v.config.FetchConcurrency)
	for _, item := range meta.Items {
		itemId := string(item.ID)
		if err := catalog.ValidateItemID(itemId); err != nil {
			log.Warn().Str("pack", packId).Str("sticker", itemId).Msg("Skipped a sticker with an unusable id...")
			v.metrics.IncAssetsFetched("invalid")
			skip(itemId, fmt.Errorf("invalid sticker id %q", itemId))
			continue
		}
		p.Go(func() {
			data, err := v.catalog.FetchAsset(ctx, packId, itemId, meta.Animated)
			if err == nil {
				err = v.workspace.WriteFile(filepath.Join(scratch, itemId+".png"), data)
			}
			if err != nil {
				log.Warn().Err(err).Str("pack", packId).Str("sticker", itemId).Msg("Unable to fetch a sticker, skipping...")
				v.metrics.IncAssetsFetched("failed")
				skip(itemId, err)
				return
			}

			v.metrics.IncAssetsFetched("ok")
			mu.Lock()
			fetched[itemId] = struct{}{}
			mu.Unlock()
		})
	}
	p.Wait()

	for _, item := range meta.Items {
		if _, ok := fetched[string(item.ID)]; ok {
			report.Fetched = append(report.Fetched, string(item.ID))
		}
	}

	return fetched
}

// deriveThumbnails renders every raw download and returns the items whose display
// file was written. Static thumbnails are rendered one after another, animated ones
// in parallel, and both are done before this returns.
// The first raw file in listing order also becomes the pack's tab icon.
func (v *Importer) deriveThumbnails(packId string, animated bool, report *models.ImportJobReport) map[string]struct{} {
	packPath := v.workspace.PackPath(packId)

	var mu sync.Mutex
	derived := make(map[string]struct{})
	done := func(itemId string) {
		mu.Lock()
		defer mu.Unlock()
		derived[itemId] = struct{}{}
	}
	fail := func(key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if report.ThumbnailsFailed == nil {
			report.ThumbnailsFailed = make(map[string]string)
		}
		report.ThumbnailsFailed[key] = err.Error()
	}

	files, err := v.workspace.List(v.workspace.ScratchPath(packId), rawImagePattern)
	if err != nil {
		log.Error().Err(err).Str("pack", packId).Msg("Unable to list raw downloads, no thumbnails derived...")
		fail("*", err)
		return derived
	}

	var firstFile string
	p := pool.New().WithMaxGoroutines(runtime.GOMAXPROCS(0))
	for _, file := range files {
		if len(firstFile) == 0 {
			firstFile = file
		}

		itemId := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		dst := filepath.Join(packPath, models.StickerFilename(itemId, animated))
		if !animated {
			if err := v.deriver.Static(file, dst); err != nil {
				log.Warn().Err(err).Str("pack", packId).Str("sticker", itemId).Msg("Unable to derive a thumbnail...")
				fail(itemId, err)
			} else {
				done(itemId)
			}
			continue
		}

		p.Go(func() {
			if err := v.deriver.Animated(file, dst); err != nil {
				log.Warn().Err(err).Str("pack", packId).Str("sticker", itemId).Msg("Unable to derive an animated thumbnail...")
				fail(itemId, err)
				return
			}
			done(itemId)
		})
	}
	p.Wait()

	if len(firstFile) > 0 {
		if err := v.deriver.Tab(firstFile, filepath.Join(packPath, tabFilename)); err != nil {
			log.Warn().Err(err).Str("pack", packId).Msg("Unable to derive the tab thumbnail...")
			fail("tab", err)
		}
	}

	return derived
}

// scheduleCleanup removes the raw downloads after the configured delay.
// When a newer import of the same pack holds the workspace by then, it is left alone.
func (v *Importer) scheduleCleanup(packId, token string) {
	scratch := v.workspace.ScratchPath(packId)
	time.AfterFunc(v.config.CleanupDelay, func() {
		if holder, ok := v.inflight.Holder(packId); ok && holder != token {
			log.Debug().Str("pack", packId).Msg("Skipped raw download cleanup, a newer import is running.")
			return
		}
		if err := v.workspace.Remove(scratch); err != nil {
			log.Warn().Err(err).Str("pack", packId).Msg("Unable to clean up raw downloads...")
			return
		}
		log.Debug().Str("pack", packId).Msg("Raw downloads were cleaned up.")
	})
}

// unpublish drops mirrored files of a pack being overwritten. It runs before the
// import itself so a failed overwrite leaves no objects without rows.
func (v *Importer) unpublish(ctx context.Context, packId string) {
	if !v.mirror.Enabled() {
		return
	}
	if err := v.mirror.Remove(ctx, packId); err != nil {
		log.Warn().Err(err).Str("pack", packId).Msg("Unable to remove the previous mirrored pack files...")
	}
}

func (v *Importer) publish(ctx context.Context, packId string) error {
	files, err := v.workspace.List(v.workspace.PackPath(packId), "*.*")
	if err != nil {
		return err
	}
	return v.mirror.Publish(ctx, packId, files)
}

// SweepScratch removes raw download directories older than maxAge whose pack
// has no import running. It catches cleanups lost to a restart.
func (v *Importer) SweepScratch(maxAge time.Duration) (int, error) {
	dirs, err := v.workspace.ScratchDirs()
	if err != nil {
		return 0, err
	}

	var errs []error
	var removed int
	deadline := time.Now().Add(-maxAge)
	for packId, info := range dirs {
		if v.IsImporting(packId) || info.ModTime().After(deadline) {
			continue
		}
		if err := v.workspace.Remove(v.workspace.ScratchPath(packId)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}
