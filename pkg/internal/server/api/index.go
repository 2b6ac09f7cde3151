package api

import (
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

type Deps struct {
	Importer    *services.Importer
	Packs       *services.PackRepository
	Name        string
	Version     string
	Destination string
	// AccessBaseURL prefixes pack file paths for clients, see `destinations.permanent`.
	AccessBaseURL string
}

func MapAPIs(app *fiber.App, baseURL string, deps Deps) {
	h := &handlers{deps: deps}

	app.Get("/.well-known", h.getMetadata)

	api := app.Group(baseURL).Name("API")
	{
		packs := api.Group("/packs").Name("Sticker Packs API")
		{
			packs.Get("/", h.listStickerPacks)
			packs.Get("/line/:packId/import", h.getImportJob)
			packs.Get("/line/:packId", h.getStickerPack)
			packs.Post("/line/:packId?", h.importStickerPack)
		}
	}
}

type handlers struct {
	deps Deps
}
