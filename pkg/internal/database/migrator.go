package database

import (
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/models"
	"gorm.io/gorm"
)

var AutoMaintainRange = []any{
	&models.Pack{},
	&models.Sticker{},
	&models.ImportJob{},
}

func RunMigration(source *gorm.DB) error {
	if err := source.AutoMigrate(
		AutoMaintainRange...,
	); err != nil {
		return err
	}

	return nil
}
