package middleware

import (
	"slices"

	"github.com/gofiber/fiber/v2"
)

// AdminMiddleware checks if the authenticated user may administer the
// registry: either the JWT carries the "admin" role or the user ID is listed
// in SUPERADMIN_USER_IDS.
func AdminMiddleware(superadminIDs []string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := UserID(c)
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		role, _ := c.Locals("user_role").(string)
		if role != "admin" && !IsSuperadmin(userID, superadminIDs) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Superadmin access required",
			})
		}

		// Store admin flag for handlers to use
		c.Locals("is_superadmin", true)
		return c.Next()
	}
}

// IsSuperadmin reports whether userID is in the configured superadmin list
func IsSuperadmin(userID string, superadminIDs []string) bool {
	return slices.Contains(superadminIDs, userID)
}
