package services

import (
	"errors"

	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PackRepository persists packs and their stickers. Records are keyed by the
// external catalog id, stickers reference it through pack_id.
type PackRepository struct {
	db *gorm.DB
}

func NewPackRepository(db *gorm.DB) *PackRepository {
	return &PackRepository{db: db}
}

func (v *PackRepository) withTx(tx *gorm.DB) *PackRepository {
	return &PackRepository{db: tx}
}

// Find returns the pack with the given catalog id, or nil when none exists.
func (v *PackRepository) Find(packId string) (*models.Pack, error) {
	var pack models.Pack
	if err := v.db.Where("line_id = ?", packId).First(&pack).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "find pack", Err: err}
	}
	return &pack, nil
}

func (v *PackRepository) Get(packId string) (models.Pack, error) {
	var pack models.Pack
	if err := v.db.
		Where("line_id = ?", packId).
		Preload("Stickers", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("id ASC")
		}).
		First(&pack).Error; err != nil {
		return pack, err
	}
	return pack, nil
}

func (v *PackRepository) List(take, offset int) ([]models.Pack, int64, error) {
	var count int64
	if err := v.db.Model(&models.Pack{}).Count(&count).Error; err != nil {
		return nil, 0, err
	}

	var packs []models.Pack
	if err := v.db.
		Order("id DESC").
		Limit(take).
		Offset(offset).
		Preload("Stickers", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("id ASC")
		}).
		Find(&packs).Error; err != nil {
		return nil, count, err
	}
	return packs, count, nil
}

// DeletePackAndStickers removes the pack and its stickers in one transaction.
// Rows are removed for good, a soft deleted pack would keep its catalog id taken.
func (v *PackRepository) DeletePackAndStickers(packId string) error {
	err := v.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("pack_id = ?", packId).Delete(&models.Sticker{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Where("line_id = ?", packId).Delete(&models.Pack{}).Error
	})
	if err != nil {
		return &PersistenceError{Op: "delete pack", Err: err}
	}
	return nil
}

func (v *PackRepository) InsertPack(pack *models.Pack) error {
	if err := v.db.Omit(clause.Associations).Create(pack).Error; err != nil {
		return &PersistenceError{Op: "insert pack", Err: err}
	}
	return nil
}

func (v *PackRepository) InsertSticker(sticker *models.Sticker) error {
	if err := v.db.Create(sticker).Error; err != nil {
		return &PersistenceError{Op: "insert sticker", Err: err}
	}
	return nil
}

// InsertPackWithStickers writes the pack first, then every sticker in the given order.
// Either all rows land or none do.
func (v *PackRepository) InsertPackWithStickers(pack models.Pack, stickers []models.Sticker) (models.Pack, error) {
	err := v.db.Transaction(func(tx *gorm.DB) error {
		repo := v.withTx(tx)
		if err := repo.InsertPack(&pack); err != nil {
			return err
		}
		for idx := range stickers {
			stickers[idx].PackID = pack.LineID
			if err := repo.InsertSticker(&stickers[idx]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var persistErr *PersistenceError
		if errors.As(err, &persistErr) {
			return pack, err
		}
		return pack, &PersistenceError{Op: "insert pack", Err: err}
	}

	pack.Stickers = stickers
	return pack, nil
}
