package routes

import (
	controller "leadforge/controllers"
	"leadforge/middleware"
	"leadforge/models"

	"github.com/gofiber/fiber/v2"
)

// Handlers bundles the controllers and middleware the router mounts.
type Handlers struct {
	Auth          *controller.AuthController
	Company       *controller.CompanyController
	Campaigns     *controller.CampaignController
	Sequences     *controller.SequenceController
	CampaignLeads *controller.CampaignLeadController
	Events        *controller.EventController
	Leads         *controller.LeadController
	Scraping      *controller.ScrapingController
	Dashboard     *controller.DashboardController

	Authenticator middleware.Authenticator
	RateLimiter   fiber.Handler
}

var (
	sales   = middleware.RequireRole(models.RoleSales)
	manager = middleware.RequireRole(models.RoleManager)
	admin   = middleware.RequireRole(models.RoleAdmin)
)

func SetupAuthRoutes(app *fiber.App, h Handlers) {
	auth := app.Group("/auth")

	auth.Post("/register", h.Auth.Register)
	auth.Post("/login", h.Auth.Login)
	auth.Post("/refresh", h.Auth.Refresh)

	// Google OAuth routes
	auth.Get("/google", h.Auth.GoogleLogin)
	auth.Get("/google/callback", h.Auth.GoogleCallback)

	protectedAuth := auth.Group("", middleware.Protected(h.Authenticator))
	protectedAuth.Post("/logout", h.Auth.Logout)
	protectedAuth.Post("/change-password", h.Auth.ChangePassword)
	protectedAuth.Get("/me", h.Auth.Me)
}

// SetupPublicRoutes mounts the endpoints recipients and providers call:
// tracking links, the event webhook and the progress socket.
func SetupPublicRoutes(app *fiber.App, h Handlers) {
	track := app.Group("/track")
	track.Get("/open/:messageID/:token", h.Events.TrackOpen)
	track.Get("/click/:messageID/:token", h.Events.TrackClick)
	track.Get("/unsubscribe/:messageID/:token", h.Events.Unsubscribe)
	track.Post("/unsubscribe/:messageID/:token", h.Events.Unsubscribe)

	app.Post("/webhooks/events", h.Events.Webhook)

	app.Get("/ws/campaigns/:id/progress", controller.ProgressUpgrade(h.Authenticator), h.Campaigns.Progress())
}

func SetupAPIRoutes(app *fiber.App, h Handlers) {
	api := app.Group("/api/v1", middleware.Protected(h.Authenticator))
	if h.RateLimiter != nil {
		api.Use(h.RateLimiter)
	}

	company := api.Group("/company")
	company.Get("/", h.Company.Get)
	company.Put("/", admin, h.Company.Update)
	company.Get("/settings", admin, h.Company.GetSettings)
	company.Put("/settings", admin, h.Company.UpdateSettings)
	company.Get("/users", manager, h.Company.ListUsers)
	company.Post("/users", admin, h.Company.InviteUser)
	company.Put("/users/:id/role", admin, h.Company.UpdateUserRole)
	company.Delete("/users/:id", admin, h.Company.DeactivateUser)

	// Lead routes; static paths before /:id
	lead := api.Group("/leads")
	lead.Get("/", h.Leads.List)
	lead.Post("/", sales, h.Leads.Create)
	lead.Post("/import", sales, h.Leads.Import)
	lead.Get("/export", h.Leads.Export)
	lead.Post("/verify", sales, h.Leads.BulkVerify)
	lead.Get("/verifications/:id", h.Leads.GetVerification)
	lead.Get("/:id", h.Leads.Get)
	lead.Put("/:id", sales, h.Leads.Update)
	lead.Delete("/:id", sales, h.Leads.Delete)
	lead.Post("/:id/enrich", sales, h.Leads.Enrich)
	lead.Post("/:id/verify", sales, h.Leads.Verify)

	campaign := api.Group("/campaigns")
	campaign.Get("/", h.Campaigns.List)
	campaign.Post("/", sales, h.Campaigns.Create)
	campaign.Get("/:id", h.Campaigns.Get)
	campaign.Put("/:id", sales, h.Campaigns.Update)
	campaign.Delete("/:id", sales, h.Campaigns.Delete)
	campaign.Post("/:id/start", manager, h.Campaigns.Start())
	campaign.Post("/:id/pause", manager, h.Campaigns.Pause())
	campaign.Post("/:id/resume", manager, h.Campaigns.Resume())
	campaign.Post("/:id/cancel", manager, h.Campaigns.Cancel())

	campaign.Get("/:id/sequences", h.Sequences.List)
	campaign.Post("/:id/sequences", sales, h.Sequences.Add)
	campaign.Post("/:id/sequences/reorder", sales, h.Sequences.Reorder)
	campaign.Put("/:id/sequences/:stepID", sales, h.Sequences.Update)
	campaign.Delete("/:id/sequences/:stepID", sales, h.Sequences.Remove)

	campaign.Get("/:id/leads", h.CampaignLeads.List)
	campaign.Post("/:id/leads", sales, h.CampaignLeads.Enroll)
	campaign.Delete("/:id/leads", sales, h.CampaignLeads.Unenroll)
	campaign.Post("/:id/events", sales, h.Events.RecordEvent)

	scraping := api.Group("/scraping/jobs")
	scraping.Get("/", h.Scraping.List)
	scraping.Post("/", manager, h.Scraping.Create)
	scraping.Get("/:id", h.Scraping.Get)
	scraping.Post("/:id/start", manager, h.Scraping.Start)
	scraping.Post("/:id/cancel", manager, h.Scraping.Cancel)
	scraping.Delete("/:id", manager, h.Scraping.Delete)

	analytics := api.Group("/analytics")
	analytics.Get("/dashboard", h.Dashboard.Dashboard)
	analytics.Get("/leads", h.Dashboard.Leads)
	analytics.Get("/campaigns", h.Dashboard.Campaigns)
	analytics.Get("/campaigns/:id", h.Dashboard.Campaign)
	analytics.Get("/team", h.Dashboard.Team)
	analytics.Get("/metrics", h.Dashboard.Metrics)
}

func SetupRoutes(app *fiber.App, h Handlers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupAuthRoutes(app, h)
	SetupPublicRoutes(app, h)
	SetupAPIRoutes(app, h)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "NOT_FOUND",
			"message": "The requested resource was not found",
		})
	})
}
