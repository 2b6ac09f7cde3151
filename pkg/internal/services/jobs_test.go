package services

import (
	"errors"
	"testing"
	"time"

	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/cache"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/models"
)

func TestJobTrackerLifecycle(t *testing.T) {
	store, err := cache.NewStore()
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	tracker := NewJobTracker(newTestDB(t), store)

	job, err := tracker.Create("", "7001", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(job.Uuid) == 0 || job.Status != models.ImportStatusPending || job.StartedAt == nil {
		t.Fatalf("unexpected new job %+v", job)
	}

	latest, err := tracker.Latest("7001")
	if err != nil || latest.Uuid != job.Uuid || latest.Status != models.ImportStatusPending {
		t.Fatalf("expected the pending job, got %+v %v", latest, err)
	}

	report := models.ImportJobReport{Name: "Test Pack", Total: 2, Skipped: map[string]string{"2": "404"}}
	if err := tracker.Finish(&job, report, errors.New("boom")); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// Read twice, the second read may be served from the cache.
	for i := 0; i < 2; i++ {
		latest, err = tracker.Latest("7001")
		if err != nil {
			t.Fatalf("latest: %v", err)
		}
		if latest.Status != models.ImportStatusFailed || latest.Reason != "boom" || latest.FinishedAt == nil {
			t.Fatalf("unexpected finished job %+v", latest)
		}
		if latest.Report.Data().Skipped["2"] != "404" {
			t.Fatalf("report lost: %+v", latest.Report.Data())
		}
	}

	next, err := tracker.Create("", "7001", false)
	if err != nil {
		t.Fatalf("create next: %v", err)
	}
	if latest, _ := tracker.Latest("7001"); latest.Uuid != next.Uuid {
		t.Fatalf("expected the newest job, got %+v", latest)
	}
}

func TestJobTrackerMarkInterrupted(t *testing.T) {
	tracker := NewJobTracker(newTestDB(t), nil)

	for _, id := range []string{"1", "2"} {
		if _, err := tracker.Create("", id, false); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	done, _ := tracker.Create("", "3", false)
	_ = tracker.Finish(&done, models.ImportJobReport{}, nil)

	count, err := tracker.MarkInterrupted()
	if err != nil || count != 2 {
		t.Fatalf("expected 2 interrupted jobs, got %d %v", count, err)
	}
	for _, id := range []string{"1", "2"} {
		job, _ := tracker.Latest(id)
		if job.Status != models.ImportStatusFailed {
			t.Fatalf("job %s not failed: %+v", id, job)
		}
	}
	if job, _ := tracker.Latest("3"); job.Status != models.ImportStatusSucceeded {
		t.Fatalf("finished job was touched: %+v", job)
	}
}

func TestJobTrackerPrune(t *testing.T) {
	tracker := NewJobTracker(newTestDB(t), nil)

	finished, _ := tracker.Create("", "1", false)
	_ = tracker.Finish(&finished, models.ImportJobReport{}, nil)
	if _, err := tracker.Create("", "2", false); err != nil {
		t.Fatalf("create: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	count, err := tracker.Prune(0)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 pruned job, got %d %v", count, err)
	}
	if _, err := tracker.Latest("2"); err != nil {
		t.Fatalf("pending job was pruned: %v", err)
	}
}

func TestInflightSet(t *testing.T) {
	set := newInflightSet()

	if !set.TryAcquire("1", "a") {
		t.Fatalf("expected first acquire to succeed")
	}
	if set.TryAcquire("1", "b") {
		t.Fatalf("expected second acquire to fail")
	}
	set.Release("1", "b")
	if holder, ok := set.Holder("1"); !ok || holder != "a" {
		t.Fatalf("release by a non-holder must not free the pack")
	}
	set.Release("1", "a")
	if _, ok := set.Holder("1"); ok {
		t.Fatalf("expected pack released")
	}
}

func TestJobTrackerLatestDoesNotCacheReads(t *testing.T) {
	store, err := cache.NewStore()
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	db := newTestDB(t)
	tracker := NewJobTracker(db, store)

	old, _ := tracker.Create("", "7001", false)
	if err := tracker.Finish(&old, models.ImportJobReport{}, nil); err != nil {
		t.Fatalf("finish: %v", err)
	}
	tracker.uncache("7001")

	if latest, err := tracker.Latest("7001"); err != nil || latest.Uuid != old.Uuid {
		t.Fatalf("expected the finished job, got %+v %v", latest, err)
	}

	// A job created behind the tracker's back stands in for a Create racing the read above.
	next := models.ImportJob{Uuid: "next", PackID: "7001", Status: models.ImportStatusPending}
	if err := db.Create(&next).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if latest, err := tracker.Latest("7001"); err != nil || latest.Uuid != "next" || latest.IsFinished() {
		t.Fatalf("expected the new pending job, got %+v %v", latest, err)
	}
}
