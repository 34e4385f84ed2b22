package handlers

import (
	"errors"
	"log"

	"vssyl/internal/services"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps service errors onto HTTP statuses and client-safe messages
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrModuleNotFound):
		return fiber.StatusNotFound, "Module not found"
	case errors.Is(err, services.ErrProviderNotFound):
		return fiber.StatusNotFound, "Context provider not found"
	case errors.Is(err, services.ErrManifestInvalid):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrFetchTimeout):
		return fiber.StatusGatewayTimeout, "Context provider timed out"
	case errors.Is(err, services.ErrFetchFailed):
		return fiber.StatusBadGateway, "Context provider request failed"
	case errors.Is(err, services.ErrRegistryUnavailable):
		return fiber.StatusServiceUnavailable, "Module context registry unavailable"
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}

// respondError logs err under tag and writes the mapped status
func respondError(c *fiber.Ctx, tag string, err error) error {
	status, message := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		log.Printf("❌ [%s] %s %s: %v", tag, c.Method(), c.Path(), err)
	}

	body := fiber.Map{"error": message}

	var fetchErr *services.FetchError
	if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
		body["upstreamStatus"] = fetchErr.StatusCode
	}

	return c.Status(status).JSON(body)
}

func requireUser(c *fiber.Ctx) (string, bool) {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Authentication required",
	})
}
