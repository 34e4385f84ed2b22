package handlers

import "github.com/gofiber/fiber/v2"

// Routes bundles the handlers and middleware mounted under /api
type Routes struct {
	Context      *ModuleContextHandler
	Installation *InstallationHandler
	Admin        *RegistryAdminHandler

	Auth      fiber.Handler
	AdminOnly fiber.Handler
	// Optional per-user limiters
	MatchLimit fiber.Handler
	FetchLimit fiber.Handler
}

// Register mounts the module context API on app
func (r *Routes) Register(app *fiber.App) {
	api := app.Group("/api", r.Auth)

	modules := api.Group("/modules")
	modules.Post("/context/match", optional(r.MatchLimit), r.Context.Match)
	modules.Delete("/context/cache", r.Context.ClearCache)
	modules.Get("/:id/context/:provider", optional(r.FetchLimit), r.Context.Fetch)
	modules.Delete("/:id/context/cache", r.Context.ClearCache)
	modules.Post("/:id/install", r.Installation.Install)
	modules.Delete("/:id/install", r.Installation.Uninstall)

	admin := api.Group("/admin", r.AdminOnly)
	admin.Post("/registry/sync", r.Admin.SyncAll)
	admin.Post("/registry/sync/:id", r.Admin.SyncModule)
	admin.Get("/registry", r.Admin.ListEntries)
	admin.Get("/registry/:id", r.Admin.GetEntry)
	admin.Put("/modules/:id", r.Admin.UpsertModule)
	admin.Get("/modules/:id/metrics", r.Admin.ModuleMetrics)
	admin.Get("/jobs", r.Admin.JobStatus)
}

func optional(h fiber.Handler) fiber.Handler {
	if h == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return h
}

