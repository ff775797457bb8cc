package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TicketsHandler serves the agent ticket endpoints.
type TicketsHandler struct {
	tickets  *service.TicketService
	contacts *service.ContactService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, contacts *service.ContactService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, contacts: contacts}
}

// ListTickets GET /api/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	filter, err := parseTicketFilter(c)
	if err != nil {
		return err
	}
	tickets, err := h.tickets.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketResponse(&tickets[i], h.contactOf(c.UserContext(), &tickets[i])))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /api/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.tickets.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket, h.contactOf(c.UserContext(), ticket))})
}

// UpdateTicket PUT /api/tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	var req dto.TicketUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	input := service.TicketUpdateInput{AssignedUserID: req.AssignedUserID, Unassign: req.Unassign}
	if req.Status != nil {
		status, ok := domain.ParseStatus(*req.Status)
		if !ok {
			return apperrors.NewValidationError("invalid status", map[string]any{"status": *req.Status})
		}
		input.Status = &status
	}
	if input.Status == nil && input.AssignedUserID == nil && !input.Unassign {
		return apperrors.NewValidationError("nothing to update", nil)
	}

	ticket, err := h.tickets.Update(c.UserContext(), c.Params("id"), actor, input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket, h.contactOf(c.UserContext(), ticket))})
}

// DeleteTicket DELETE /api/tickets/:id.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	actor, err := actorID(c)
	if err != nil {
		return err
	}
	if err := h.tickets.Delete(c.UserContext(), c.Params("id"), actor); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkRead POST /api/tickets/:id/read.
func (h *TicketsHandler) MarkRead(c *fiber.Ctx) error {
	ticket, err := h.tickets.MarkRead(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket, nil)})
}

// History GET /api/tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	entries, err := h.tickets.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(entries)})
}

func (h *TicketsHandler) contactOf(ctx context.Context, t *domain.Ticket) *domain.Contact {
	if h.contacts == nil {
		return nil
	}
	contact, err := h.contacts.GetByID(ctx, t.ContactID)
	if err != nil {
		return nil
	}
	return contact
}

func parseTicketFilter(c *fiber.Ctx) (repository.TicketFilter, error) {
	filter := repository.TicketFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			status, ok := domain.ParseStatus(part)
			if !ok {
				return filter, apperrors.NewValidationError("invalid status", map[string]any{"status": strings.TrimSpace(part)})
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if v := c.Query("contact_id"); v != "" {
		filter.ContactID = &v
	}
	if v := c.Query("channel_id"); v != "" {
		filter.ChannelID = &v
	}
	if v := c.Query("assigned_user_id"); v != "" {
		filter.AssignedUserID = &v
	}
	if v := strings.TrimSpace(c.Query("search")); v != "" {
		filter.SearchTerm = &v
	}
	filter.UpdatedFrom = parseTime(c.Query("updated_from"))
	filter.Limit, filter.Offset = page(c, 20)
	return filter, nil
}
