package http

import (
	"github.com/gofiber/fiber/v2"

	"mail_worker/core/port/in"
	"mail_worker/pkg/response"
)

// SettingsHandler serves the per-user instruction template.
type SettingsHandler struct {
	settings in.SettingsService
}

func NewSettingsHandler(settings in.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

func (h *SettingsHandler) Register(router fiber.Router) {
	settings := router.Group("/settings")
	settings.Get("/", h.Get)
	settings.Put("/", h.Update)
}

// Get returns the user's settings, creating the default row on first read.
// GET /api/v1/settings
func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	settings, err := h.settings.Get(c.Context(), userID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, settings)
}

type updateSettingsRequest struct {
	Instruction string `json:"instruction"`
}

// Update replaces the instruction template.
// PUT /api/v1/settings
func (h *SettingsHandler) Update(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	var req updateSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	settings, err := h.settings.Update(c.Context(), userID, req.Instruction)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, settings)
}
