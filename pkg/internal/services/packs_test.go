package services

import (
	"errors"
	"testing"

	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/models"
)

func TestPackRepositoryFindMissing(t *testing.T) {
	repo := NewPackRepository(newTestDB(t))

	pack, err := repo.Find("nope")
	if err != nil || pack != nil {
		t.Fatalf("expected nil pack without error, got %+v %v", pack, err)
	}
}

func TestPackRepositoryInsertAndDelete(t *testing.T) {
	repo := NewPackRepository(newTestDB(t))

	pack, err := repo.InsertPackWithStickers(
		models.Pack{Name: "Cats", LineID: "100", Count: 2},
		[]models.Sticker{
			{LineID: "b", File: "b.png"},
			{LineID: "a", File: "a.png"},
		},
	)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if pack.ID == 0 || len(pack.Stickers) != 2 {
		t.Fatalf("unexpected inserted pack %+v", pack)
	}

	stored, err := repo.Get("100")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Stickers[0].LineID != "b" || stored.Stickers[1].LineID != "a" {
		t.Fatalf("stickers not kept in insertion order: %+v", stored.Stickers)
	}
	for _, sticker := range stored.Stickers {
		if sticker.PackID != "100" {
			t.Fatalf("sticker %+v does not reference its pack", sticker)
		}
	}

	if err := repo.DeletePackAndStickers("100"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if found, _ := repo.Find("100"); found != nil {
		t.Fatalf("pack survived deletion")
	}
	var count int64
	repo.db.Unscoped().Model(&models.Sticker{}).Where("pack_id = ?", "100").Count(&count)
	if count != 0 {
		t.Fatalf("expected stickers hard deleted, %d left", count)
	}

	if err := repo.DeletePackAndStickers("100"); err != nil {
		t.Fatalf("deleting a missing pack should succeed, got %v", err)
	}
}

func TestPackRepositoryUniqueLineID(t *testing.T) {
	repo := NewPackRepository(newTestDB(t))

	if err := repo.InsertPack(&models.Pack{Name: "A", LineID: "1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := repo.InsertPack(&models.Pack{Name: "B", LineID: "1"})
	var persistErr *PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected PersistenceError for a duplicate pack, got %v", err)
	}
}

func TestPackRepositoryInsertRollsBack(t *testing.T) {
	repo := NewPackRepository(newTestDB(t))

	if err := repo.InsertPack(&models.Pack{Name: "Taken", LineID: "5"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := repo.InsertPackWithStickers(
		models.Pack{Name: "Again", LineID: "5"},
		[]models.Sticker{{LineID: "1", File: "1.png"}},
	); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}

	var count int64
	repo.db.Model(&models.Sticker{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no sticker rows after rollback, got %d", count)
	}
}

func TestPackRepositoryList(t *testing.T) {
	repo := NewPackRepository(newTestDB(t))

	for _, id := range []string{"1", "2", "3"} {
		if _, err := repo.InsertPackWithStickers(models.Pack{Name: "P" + id, LineID: id}, nil); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	packs, count, err := repo.List(2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if count != 3 || len(packs) != 2 || packs[0].LineID != "3" {
		t.Fatalf("unexpected page count=%d packs=%+v", count, packs)
	}
}
