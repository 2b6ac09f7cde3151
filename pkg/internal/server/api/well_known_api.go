package api

import (
	"github.com/gofiber/fiber/v2"
)

func (h *handlers) getMetadata(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"name":           h.deps.Name,
		"version":        h.deps.Version,
		"destination":    h.deps.Destination,
		"access_baseurl": h.deps.AccessBaseURL,
	})
}
