package handlers

import (
	"fmt"
	"io"
	"mime/multipart"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/foxxcyber/roomscan/internal/middleware"
	"github.com/foxxcyber/roomscan/internal/services"
)

type roomParams struct {
	PropertyID string `validate:"required,uuid"`
	RoomID     string `validate:"required,uuid"`
}

type sessionParams struct {
	PropertyID string `validate:"required,uuid"`
	RoomID     string `validate:"required,uuid"`
	SessionID  string `validate:"required,uuid"`
}

// CreateScan runs a room scan over the uploaded images and returns the
// drafts it produced. The request blocks until the session is terminal.
func (h *Handler) CreateScan(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	params := roomParams{PropertyID: c.Params("propertyId"), RoomID: c.Params("roomId")}
	if err := h.validator.Struct(params); err != nil {
		return ErrorWithCode(c, fiber.StatusBadRequest, "invalid_request", "invalid property or room id")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return ErrorWithCode(c, fiber.StatusBadRequest, "invalid_request", "multipart form with images is required")
	}
	files := form.File["images"]
	if len(files) == 0 {
		return ErrorWithCode(c, fiber.StatusBadRequest, "invalid_request", "at least one image is required")
	}
	if h.cfg.MaxImagesPerScan > 0 && len(files) > h.cfg.MaxImagesPerScan {
		return ErrorWithCode(c, fiber.StatusBadRequest, "invalid_request",
			fmt.Sprintf("too many images. Maximum is %d", h.cfg.MaxImagesPerScan))
	}

	images := make([][]byte, 0, len(files))
	for _, file := range files {
		if !isValidImageType(file.Header.Get("Content-Type")) {
			return ErrorWithCode(c, fiber.StatusBadRequest, "invalid_request",
				fmt.Sprintf("%s: invalid image type. Supported: JPEG, PNG, WebP", file.Filename))
		}
		if h.cfg.MaxImageBytes > 0 && file.Size > h.cfg.MaxImageBytes {
			return ErrorWithCode(c, fiber.StatusBadRequest, "invalid_request",
				fmt.Sprintf("%s: file too large. Maximum size is %s", file.Filename, humanize.IBytes(uint64(h.cfg.MaxImageBytes))))
		}
		data, err := readFormFile(file)
		if err != nil {
			return ErrorWithCode(c, fiber.StatusBadRequest, "invalid_request", "failed to read uploaded image")
		}
		images = append(images, data)
	}

	result, err := h.scans.RunRoomScan(c.UserContext(), services.RoomScanRequest{
		PropertyID: uuid.MustParse(params.PropertyID),
		RoomID:     uuid.MustParse(params.RoomID),
		UserID:     userID,
		Images:     images,
	})
	if err != nil {
		return ServiceError(c, err)
	}

	return Created(c, result)
}

// GetScan returns the poll view of a session
func (h *Handler) GetScan(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	params, ok := h.sessionParams(c)
	if !ok {
		return ErrorWithCode(c, fiber.StatusBadRequest, "invalid_request", "invalid property, room or session id")
	}

	summary, err := h.scans.GetSession(c.UserContext(),
		uuid.MustParse(params.PropertyID), uuid.MustParse(params.RoomID), uuid.MustParse(params.SessionID), userID)
	if err != nil {
		return ServiceError(c, err)
	}

	return Success(c, summary)
}

func (h *Handler) sessionParams(c *fiber.Ctx) (sessionParams, bool) {
	params := sessionParams{
		PropertyID: c.Params("propertyId"),
		RoomID:     c.Params("roomId"),
		SessionID:  c.Params("sessionId"),
	}
	return params, h.validator.Struct(params) == nil
}

func readFormFile(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func isValidImageType(contentType string) bool {
	validTypes := []string{
		"image/jpeg",
		"image/jpg",
		"image/png",
		"image/webp",
	}
	for _, t := range validTypes {
		if contentType == t {
			return true
		}
	}
	return false
}
