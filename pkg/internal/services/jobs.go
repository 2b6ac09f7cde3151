package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/models"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/k0kubun/go-ansi"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func GetImportJobCacheKey(packId string) string {
	return fmt.Sprintf("import-job#%s", packId)
}

// JobTracker stores the status record of every ingest call.
// Only Finish caches a job, a pending job is always read from the database.
type JobTracker struct {
	db    *gorm.DB
	cache *cache.Cache[[]byte]
}

func NewJobTracker(db *gorm.DB, cacheStore store.StoreInterface) *JobTracker {
	tracker := &JobTracker{db: db}
	if cacheStore != nil {
		tracker.cache = cache.New[[]byte](cacheStore)
	}
	return tracker
}

func (v *JobTracker) Create(token, packId string, overwrite bool) (models.ImportJob, error) {
	job := models.ImportJob{
		Uuid:      lo.Ternary(len(token) > 0, token, uuid.NewString()),
		PackID:    packId,
		Overwrite: overwrite,
		Status:    models.ImportStatusPending,
		StartedAt: lo.ToPtr(time.Now()),
	}

	if err := v.db.Create(&job).Error; err != nil {
		return job, &PersistenceError{Op: "create import job", Err: err}
	}
	v.uncache(packId)

	return job, nil
}

// Finish records the outcome of a job, a nil cause marks it succeeded.
func (v *JobTracker) Finish(job *models.ImportJob, report models.ImportJobReport, cause error) error {
	job.Report = datatypes.NewJSONType(report)
	job.FinishedAt = lo.ToPtr(time.Now())
	if cause != nil {
		job.Status = models.ImportStatusFailed
		job.Reason = cause.Error()
	} else {
		job.Status = models.ImportStatusSucceeded
		job.Reason = ""
	}

	if err := v.db.Save(job).Error; err != nil {
		return &PersistenceError{Op: "save import job", Err: err}
	}
	v.uncache(job.PackID)
	v.store(*job)

	return nil
}

// Latest returns the newest job of a pack. Reads never fill the cache, only Finish does.
func (v *JobTracker) Latest(packId string) (models.ImportJob, error) {
	if v.cache != nil {
		if raw, err := v.cache.Get(context.Background(), GetImportJobCacheKey(packId)); err == nil && len(raw) > 0 {
			var job models.ImportJob
			if err := jsoniter.Unmarshal(raw, &job); err == nil {
				return job, nil
			}
		}
	}

	var job models.ImportJob
	err := v.db.Where("pack_id = ?", packId).Order("id DESC").First(&job).Error
	return job, err
}

func (v *JobTracker) store(job models.ImportJob) {
	if v.cache == nil {
		return
	}
	raw, err := jsoniter.Marshal(job)
	if err != nil {
		return
	}
	_ = v.cache.Set(
		context.Background(),
		GetImportJobCacheKey(job.PackID),
		raw,
		store.WithExpiration(10*time.Minute),
		store.WithTags([]string{"import-job"}),
	)
}

func (v *JobTracker) uncache(packId string) {
	if v.cache == nil {
		return
	}
	_ = v.cache.Delete(context.Background(), GetImportJobCacheKey(packId))
}

// MarkInterrupted fails every job a previous process left pending.
// Their continuation died with that process and will never report back.
func (v *JobTracker) MarkInterrupted() (int, error) {
	var jobs []models.ImportJob
	if err := v.db.Where("status = ?", models.ImportStatusPending).Find(&jobs).Error; err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	bar := progressbar.NewOptions(len(jobs),
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(15),
		progressbar.OptionSetDescription("Closing interrupted pack imports..."),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))

	var failed int
	for idx := range jobs {
		err := v.Finish(&jobs[idx], jobs[idx].Report.Data(), fmt.Errorf("import interrupted by a service restart"))
		if err != nil {
			log.Error().Err(err).Str("pack", jobs[idx].PackID).Msg("Unable to close an interrupted import job...")
			failed++
		}
		_ = bar.Add(1)
	}

	return len(jobs) - failed, nil
}

// Prune removes finished jobs older than the retention.
func (v *JobTracker) Prune(retention time.Duration) (int64, error) {
	deadline := time.Now().Add(-retention)
	tx := v.db.Unscoped().
		Where("status <> ?", models.ImportStatusPending).
		Where("finished_at < ?", deadline).
		Delete(&models.ImportJob{})
	return tx.RowsAffected, tx.Error
}

// inflightSet allows one running import per pack id, holders are identified by job uuid.
type inflightSet struct {
	mu      sync.Mutex
	holders map[string]string
}

func newInflightSet() *inflightSet {
	return &inflightSet{holders: make(map[string]string)}
}

func (v *inflightSet) TryAcquire(packId, token string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.holders[packId]; ok {
		return false
	}
	v.holders[packId] = token
	return true
}

func (v *inflightSet) Release(packId, token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.holders[packId] == token {
		delete(v.holders, packId)
	}
}

func (v *inflightSet) Holder(packId string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	token, ok := v.holders[packId]
	return token, ok
}
