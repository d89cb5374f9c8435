package handlers

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the scan and draft API. auth guards everything
// except /health.
func RegisterRoutes(app *fiber.App, h *Handler, auth fiber.Handler) {
	app.Get("/health", h.Health)

	api := app.Group("/api", auth)

	scans := api.Group("/properties/:propertyId/rooms/:roomId/scans")
	scans.Post("/", h.CreateScan)
	scans.Get("/:sessionId", h.GetScan)
	scans.Get("/:sessionId/drafts", h.ListScanDrafts)

	drafts := api.Group("/drafts")
	drafts.Post("/:id/confirm", h.ConfirmDraft)
	drafts.Post("/:id/dismiss", h.DismissDraft)
}
