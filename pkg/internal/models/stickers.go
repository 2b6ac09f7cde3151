package models

import (
	"fmt"

	"github.com/samber/lo"
)

type Sticker struct {
	BaseModel

	PackID string `json:"pack_id" gorm:"index;size:64"`
	LineID string `json:"line_id" gorm:"size:64"`
	File   string `json:"file"`
}

// Pack is an imported sticker pack. LineID is the external catalog identifier,
// every other component (workspace, stickers, import jobs) is keyed by it.
type Pack struct {
	BaseModel

	Name     string    `json:"name"`
	LineID   string    `json:"line_id" gorm:"uniqueIndex;size:64"`
	Animated bool      `json:"animated"`
	Count    int       `json:"count"`
	Stickers []Sticker `json:"stickers" gorm:"foreignKey:PackID;references:LineID;constraint:OnDelete:CASCADE"`
}

// StickerFilename resolves the stored file of an item, animated packs keep gif thumbnails.
func StickerFilename(itemID string, animated bool) string {
	return fmt.Sprintf("%s.%s", itemID, lo.Ternary(animated, "gif", "png"))
}
