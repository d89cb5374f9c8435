package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/foxxcyber/roomscan/internal/middleware"
)

// ListScanDrafts returns the drafts a session produced
func (h *Handler) ListScanDrafts(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	params, ok := h.sessionParams(c)
	if !ok {
		return ErrorWithCode(c, fiber.StatusBadRequest, "invalid_request", "invalid property, room or session id")
	}

	drafts, err := h.scans.ListDrafts(c.UserContext(),
		uuid.MustParse(params.PropertyID), uuid.MustParse(params.RoomID), uuid.MustParse(params.SessionID), userID)
	if err != nil {
		return ServiceError(c, err)
	}

	return Success(c, drafts)
}

// ConfirmDraft promotes a draft to a permanent inventory item
func (h *Handler) ConfirmDraft(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	draftID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrorWithCode(c, fiber.StatusBadRequest, "invalid_request", "invalid draft id")
	}

	result, err := h.scans.ConfirmDraft(c.UserContext(), draftID, userID)
	if err != nil {
		return ServiceError(c, err)
	}

	return Success(c, result)
}

// DismissDraft closes a draft without creating an item
func (h *Handler) DismissDraft(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	draftID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrorWithCode(c, fiber.StatusBadRequest, "invalid_request", "invalid draft id")
	}

	draft, err := h.scans.DismissDraft(c.UserContext(), draftID, userID)
	if err != nil {
		return ServiceError(c, err)
	}

	return Success(c, draft)
}
