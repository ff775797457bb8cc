package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Metrics        *handlers.MetricsHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Messages       *handlers.MessagesHandler
	Contacts       *handlers.ContactsHandler
	Socket         *handlers.SocketHandler
	AuthMiddleware *auth.AuthMiddleware
	MediaDir       string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics.Snapshot)
	}
	if cfg.MediaDir != "" {
		app.Static("/public", cfg.MediaDir)
	}

	app.Post("/auth/login", cfg.Auth.Login)

	if cfg.Socket != nil {
		app.Get("/ws", cfg.Socket.Authorize, cfg.Socket.Serve())
	}

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.UserRoleAgent, domain.UserRoleAdmin))

	tickets := api.Group("/tickets")
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Put("/:id", cfg.Tickets.UpdateTicket)
	tickets.Delete("/:id", auth.RequireRole(domain.UserRoleAdmin), cfg.Tickets.DeleteTicket)
	tickets.Post("/:id/read", cfg.Tickets.MarkRead)
	tickets.Get("/:id/history", cfg.Tickets.History)
	tickets.Get("/:id/messages", cfg.Messages.ListMessages)
	tickets.Post("/:id/messages", cfg.Messages.SendMessage)
	tickets.Post("/:id/messages/media", cfg.Messages.SendMedia)
	tickets.Post("/:id/messages/schedule", cfg.Messages.ScheduleMessage)

	contacts := api.Group("/contacts")
	contacts.Post("/", cfg.Contacts.UpsertContact)
	contacts.Get("/:id", cfg.Contacts.GetContact)
}
