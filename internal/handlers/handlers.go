package handlers

import (
	"errors"
	"math"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/roomscan/internal/config"
	"github.com/foxxcyber/roomscan/internal/database"
	"github.com/foxxcyber/roomscan/internal/services"
)

// Handler holds all handler dependencies
type Handler struct {
	cfg       *config.Config
	scans     *services.RoomScanService
	validator *validator.Validate
}

// New creates a new Handler instance
func New(cfg *config.Config, scans *services.RoomScanService, validate *validator.Validate) *Handler {
	if validate == nil {
		validate = validator.New()
	}
	return &Handler{
		cfg:       cfg,
		scans:     scans,
		validator: validate,
	}
}

// ErrorHandler is a custom error handler for Fiber
func ErrorHandler(c *fiber.Ctx, err error) error {
	// Default to 500
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	// Check if it's a Fiber error
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(APIResponse{
		Success: false,
		Error:   message,
	})
}

// APIResponse is a standard API response structure
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Success returns a successful response
func Success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
	})
}

// Created returns a 201 response
func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(APIResponse{
		Success: true,
		Data:    data,
	})
}

// Error returns an error response
func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   message,
	})
}

// ErrorWithCode returns an error response carrying a short diagnostic code
func ErrorWithCode(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}

// ServiceError maps a pipeline or repository error to an HTTP response.
func ServiceError(c *fiber.Ctx, err error) error {
	var quotaErr *services.QuotaError
	switch {
	case errors.As(err, &quotaErr):
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(quotaErr.RetryAfter.Seconds()))))
		return ErrorWithCode(c, fiber.StatusTooManyRequests, services.ErrorCode(err), err.Error())
	case errors.Is(err, services.ErrRoomNotFound),
		errors.Is(err, database.ErrRoomNotFound):
		return ErrorWithCode(c, fiber.StatusNotFound, "room_not_found", "room not found")
	case errors.Is(err, database.ErrScanSessionNotFound):
		return ErrorWithCode(c, fiber.StatusNotFound, "session_not_found", "scan session not found")
	case errors.Is(err, database.ErrDraftItemNotFound):
		return ErrorWithCode(c, fiber.StatusNotFound, "draft_not_found", "draft item not found")
	case errors.Is(err, database.ErrDraftItemNotPending):
		return ErrorWithCode(c, fiber.StatusConflict, "draft_not_pending", "draft item already reviewed")
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrPreprocess):
		return ErrorWithCode(c, fiber.StatusBadRequest, services.ErrorCode(err), err.Error())
	case errors.Is(err, services.ErrProviderTransient),
		errors.Is(err, services.ErrProviderFatal),
		errors.Is(err, services.ErrModelUnsupported):
		return ErrorWithCode(c, fiber.StatusBadGateway, services.ErrorCode(err), "vision provider failed")
	default:
		return ErrorWithCode(c, fiber.StatusInternalServerError, services.ErrorCode(err), "internal server error")
	}
}

// Health reports liveness
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"environment": h.cfg.Environment,
		"provider":    h.cfg.VisionProvider,
	})
}
