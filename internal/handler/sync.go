package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/service"
	"github.com/stemmix/api/pkg/response"
)

type SyncHandler struct {
	mixerService *service.MixerService
	validator    *validator.Validate
}

func NewSyncHandler(svc *service.MixerService, v *validator.Validate) *SyncHandler {
	return &SyncHandler{
		mixerService: svc,
		validator:    v,
	}
}

// Bind handles POST /api/sync/bind
func (h *SyncHandler) Bind(c *fiber.Ctx) error {
	if err := h.mixerService.SyncBind(); err != nil {
		if errors.Is(err, service.ErrNoSession) {
			return response.SessionNotReady(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, h.mixerService.SyncState())
}

// Unbind handles POST /api/sync/unbind
func (h *SyncHandler) Unbind(c *fiber.Ctx) error {
	h.mixerService.SyncUnbind()
	return response.OK(c, h.mixerService.SyncState())
}

// Clock handles POST /api/sync/clock
func (h *SyncHandler) Clock(c *fiber.Ctx) error {
	var req model.ClockReportRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.mixerService.SyncReport(&req); err != nil {
		return response.SessionNotReady(c, err.Error())
	}
	return response.NoContent(c)
}

// State handles GET /api/sync
func (h *SyncHandler) State(c *fiber.Ctx) error {
	return response.OK(c, h.mixerService.SyncState())
}
