package handlers

import (
	"vssyl/internal/services"

	"github.com/gofiber/fiber/v2"
)

// InstallationHandler handles module install/uninstall for the current user
type InstallationHandler struct {
	installations *services.InstallationService
}

// NewInstallationHandler creates a new installation handler
func NewInstallationHandler(installations *services.InstallationService) *InstallationHandler {
	return &InstallationHandler{installations: installations}
}

// Install enables a module for the caller
// POST /api/modules/:id/install
func (h *InstallationHandler) Install(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}

	result, err := h.installations.Install(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return respondError(c, "INSTALL", err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

// Uninstall disables a module for the caller
// DELETE /api/modules/:id/install
func (h *InstallationHandler) Uninstall(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}

	result, err := h.installations.Uninstall(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return respondError(c, "INSTALL", err)
	}

	return c.JSON(result)
}
