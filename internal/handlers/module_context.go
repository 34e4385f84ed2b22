package handlers

import (
	"strings"

	"vssyl/internal/models"
	"vssyl/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ModuleContextHandler serves context matching and fetching for the AI layer
type ModuleContextHandler struct {
	matcher *services.ContextMatcher
	fetcher *services.ContextFetcher
}

// NewModuleContextHandler creates a new module context handler
func NewModuleContextHandler(matcher *services.ContextMatcher, fetcher *services.ContextFetcher) *ModuleContextHandler {
	return &ModuleContextHandler{
		matcher: matcher,
		fetcher: fetcher,
	}
}

// Match ranks the caller's installed modules against a query
// POST /api/modules/context/match
func (h *ModuleContextHandler) Match(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req models.MatchContextRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	response, err := h.matcher.MatchForUser(c.UserContext(), userID, req.Query)
	if err != nil {
		return respondError(c, "CONTEXT-MATCH", err)
	}

	return c.JSON(response)
}

// Fetch returns one provider's context for the caller, from cache or live
// GET /api/modules/:id/context/:provider?param=value
func (h *ModuleContextHandler) Fetch(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}

	// Copied: metric writes for this fetch outlive the request buffer
	moduleID := strings.Clone(c.Params("id"))
	provider := strings.Clone(c.Params("provider"))
	if moduleID == "" || provider == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Module ID and provider are required",
		})
	}

	result, err := h.fetcher.Fetch(c.UserContext(), models.FetchContextRequest{
		ModuleID:     moduleID,
		ProviderName: provider,
		UserID:       userID,
		Parameters:   queryParameters(c),
	})
	if err != nil {
		return respondError(c, "CONTEXT-FETCH", err)
	}

	return c.JSON(result)
}

// ClearCache drops the caller's cached context, for every module or just one
// DELETE /api/modules/context/cache
// DELETE /api/modules/:id/context/cache
func (h *ModuleContextHandler) ClearCache(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return unauthorized(c)
	}

	var err error
	if moduleID := c.Params("id"); moduleID != "" {
		err = h.fetcher.Invalidate(c.UserContext(), moduleID, userID)
	} else {
		err = h.fetcher.InvalidateUser(c.UserContext(), userID)
	}
	if err != nil {
		return respondError(c, "CONTEXT-CACHE", err)
	}

	return c.JSON(fiber.Map{"cleared": true})
}

// queryParameters collects query args; repeated keys become lists
func queryParameters(c *fiber.Ctx) map[string]interface{} {
	collected := make(map[string][]string)
	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		k := strings.TrimSpace(string(key))
		if k == "" {
			return
		}
		collected[k] = append(collected[k], string(value))
	})

	params := make(map[string]interface{}, len(collected))
	for k, values := range collected {
		if len(values) == 1 {
			params[k] = values[0]
		} else {
			params[k] = values
		}
	}
	return params
}
