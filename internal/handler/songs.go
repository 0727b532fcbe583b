package handler

import (
	"errors"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stemmix/api/internal/model"
	"github.com/stemmix/api/internal/service"
	"github.com/stemmix/api/internal/store"
	"github.com/stemmix/api/pkg/response"
)

// maxUploadBytes caps one uploaded container.
const maxUploadBytes = 200 << 20

type SongHandler struct {
	songService *service.SongService
	jobService  *service.JobService
	validator   *validator.Validate
}

func NewSongHandler(songs *service.SongService, jobs *service.JobService, v *validator.Validate) *SongHandler {
	return &SongHandler{
		songService: songs,
		jobService:  jobs,
		validator:   v,
	}
}

// Upload handles POST /api/songs/upload
func (h *SongHandler) Upload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "Missing file", nil)
	}
	if fileHeader.Size > maxUploadBytes {
		return response.ValidationError(c, "File too large", nil)
	}
	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".wav") {
		return response.ValidationError(c, "Only WAV uploads are supported", nil)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open upload")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return response.ServiceError(c, "Failed to read upload")
	}
	if len(data) > maxUploadBytes {
		return response.ValidationError(c, "File too large", nil)
	}

	title := c.FormValue("title")
	result, err := h.jobService.StartUpload(c.Context(), title, data)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.Accepted(c, result)
}

// Remote handles POST /api/songs/remote
func (h *SongHandler) Remote(c *fiber.Ctx) error {
	var req model.RemoteIngestRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.jobService.StartRemote(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.Accepted(c, result)
}

// List handles GET /api/songs
func (h *SongHandler) List(c *fiber.Ctx) error {
	songs, err := h.songService.List()
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, songs)
}

// Get handles GET /api/songs/:id
func (h *SongHandler) Get(c *fiber.Ctx) error {
	song, err := h.songService.Get(c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Song not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, song)
}

// Rename handles PATCH /api/songs/:id
func (h *SongHandler) Rename(c *fiber.Ctx) error {
	var req model.RenameSongRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.songService.Rename(c.Params("id"), req.Title); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Song not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.NoContent(c)
}

// Delete handles DELETE /api/songs/:id
func (h *SongHandler) Delete(c *fiber.Ctx) error {
	if err := h.songService.Delete(c.Params("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Song not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.NoContent(c)
}

// Storage handles GET /api/storage
func (h *SongHandler) Storage(c *fiber.Ctx) error {
	status, err := h.songService.Storage()
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, status)
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
