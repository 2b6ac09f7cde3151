package api

import (
	"errors"
	"strconv"
	"strings"

	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/server/exts"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func (h *handlers) listStickerPacks(c *fiber.Ctx) error {
	take := c.QueryInt("take", 20)
	offset := c.QueryInt("offset", 0)

	if take > 100 {
		take = 100
	}

	packs, count, err := h.deps.Packs.List(take, offset)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"count": count,
		"data":  packs,
	})
}

func (h *handlers) getStickerPack(c *fiber.Ctx) error {
	pack, err := h.deps.Packs.Get(c.Params("packId"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	} else if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(pack)
}

func (h *handlers) getImportJob(c *fiber.Ctx) error {
	job, err := h.deps.Importer.JobStatus(c.Params("packId"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "pack was never imported")
	} else if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(job)
}

// importStickerPack acknowledges as soon as the import is queued.
// A 202 does not mean the pack exists yet, clients poll the import job.
func (h *handlers) importStickerPack(c *fiber.Ctx) error {
	var data struct {
		Overwrite bool `json:"overwrite"`
	}

	if len(c.Body()) > 0 {
		if err := exts.BindAndValidate(c, &data); err != nil {
			return err
		}
	}

	overwrite := data.Overwrite || isTruthy(c.Get("overwrite"))
	job, err := h.deps.Importer.Ingest(c.UserContext(), c.Params("packId"), overwrite)
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrPackExists), errors.Is(err, services.ErrImportInProgress):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, services.ErrQueueFull):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case err != nil:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Pack added.",
		"job":     job,
	})
}

// isTruthy reads the overwrite header, any value other than an explicit false counts.
func isTruthy(val string) bool {
	val = strings.TrimSpace(val)
	if len(val) == 0 {
		return false
	}
	if parsed, err := strconv.ParseBool(val); err == nil {
		return parsed
	}
	return true
}
