package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/service"
	"github.com/stemmix/api/internal/store"
	"github.com/stemmix/api/pkg/response"
)

type ExportHandler struct {
	exportService *service.ExportService
	validator     *validator.Validate
}

func NewExportHandler(svc *service.ExportService, v *validator.Validate) *ExportHandler {
	return &ExportHandler{
		exportService: svc,
		validator:     v,
	}
}

// Export handles POST /api/export
func (h *ExportHandler) Export(c *fiber.Ctx) error {
	var req model.ExportRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.exportService.Export(c.Context(), &req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Song not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, result)
}
