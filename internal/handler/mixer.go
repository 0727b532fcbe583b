package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stemmix/api/internal/audio"
	"github.com/stemmix/api/internal/mixer"
	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/service"
	"github.com/stemmix/api/internal/store"
	"github.com/stemmix/api/pkg/response"
)

type MixerHandler struct {
	mixerService *service.MixerService
	validator    *validator.Validate
}

func NewMixerHandler(svc *service.MixerService, v *validator.Validate) *MixerHandler {
	return &MixerHandler{
		mixerService: svc,
		validator:    v,
	}
}

// Load handles POST /api/mixer/load
func (h *MixerHandler) Load(c *fiber.Ctx) error {
	var req model.MixerLoadRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	state, err := h.mixerService.Load(req.SongID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Song not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, state)
}

// Unload handles POST /api/mixer/unload
func (h *MixerHandler) Unload(c *fiber.Ctx) error {
	h.mixerService.Unload()
	return response.NoContent(c)
}

// State handles GET /api/mixer
func (h *MixerHandler) State(c *fiber.Ctx) error {
	return response.OK(c, h.mixerService.State())
}

// UpdateTrack handles PUT /api/mixer/tracks/:stem
func (h *MixerHandler) UpdateTrack(c *fiber.Ctx) error {
	stem := c.Params("stem")
	if !audio.IsStemName(stem) {
		return response.ValidationError(c, "Unknown stem", nil)
	}

	var req model.TrackUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if req.Volume == nil && req.Muted == nil {
		return response.ValidationError(c, "Nothing to update", nil)
	}

	if err := h.mixerService.UpdateTrack(stem, &req); err != nil {
		return h.mixerError(c, err)
	}
	return response.OK(c, h.mixerService.State())
}

// Pitch handles PUT /api/mixer/pitch
func (h *MixerHandler) Pitch(c *fiber.Ctx) error {
	var req model.PitchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	effective, err := h.mixerService.SetPitch(req.Semitones)
	if err != nil {
		return h.mixerError(c, err)
	}
	return response.OK(c, fiber.Map{"semitones": effective})
}

// Master handles PUT /api/mixer/master
func (h *MixerHandler) Master(c *fiber.Ctx) error {
	var req model.MasterVolumeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.mixerService.SetMasterVolume(req.Volume); err != nil {
		return h.mixerError(c, err)
	}
	return response.OK(c, h.mixerService.State())
}

// Transport handles POST /api/mixer/transport
func (h *MixerHandler) Transport(c *fiber.Ctx) error {
	var req model.TransportRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.mixerService.Transport(&req); err != nil {
		return h.mixerError(c, err)
	}
	return response.OK(c, h.mixerService.State())
}

func (h *MixerHandler) mixerError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNoSession), errors.Is(err, mixer.ErrNotReady):
		return response.SessionNotReady(c, err.Error())
	case errors.Is(err, mixer.ErrUnknownTrack):
		return response.ValidationError(c, err.Error(), nil)
	default:
		return response.ServiceError(c, err.Error())
	}
}
