package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

func actorID(c *fiber.Ctx) (string, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return "", apperrors.NewUnauthorized("user required")
	}
	return principal.User.ID, nil
}

func parseTime(val string) *time.Time {
	if val == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil
	}
	return &t
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func page(c *fiber.Ctx, defaultSize int) (limit, offset int) {
	p := parseInt(c.Query("page"), 1)
	size := parseInt(c.Query("page_size"), defaultSize)
	return size, (p - 1) * size
}

func ticketResponse(t *domain.Ticket, contact *domain.Contact) dto.TicketResponse {
	resp := dto.TicketResponse{
		ID:             t.ID,
		ContactID:      t.ContactID,
		ChannelID:      t.ChannelID,
		Status:         t.Status.Label(),
		AssignedUserID: t.AssignedUserID,
		UnreadCount:    t.UnreadCount,
		IsGroup:        t.IsGroup,
		LastMessage:    t.LastMessagePreview,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if contact != nil {
		cr := contactResponse(contact)
		resp.Contact = &cr
	}
	return resp
}

func contactResponse(c *domain.Contact) dto.ContactResponse {
	return dto.ContactResponse{
		ID:        c.ID,
		Number:    c.Number,
		Name:      c.Name,
		AvatarURL: c.AvatarURL,
		IsGroup:   c.IsGroup,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func messageResponse(m *domain.Message) dto.MessageResponse {
	return dto.MessageResponse{
		ID:        m.ID,
		TicketID:  m.TicketID,
		ContactID: m.ContactID,
		Body:      m.Body,
		FromMe:    m.FromMe,
		Read:      m.Read,
		MediaType: m.MediaType,
		MediaURL:  m.MediaURL,
		Ack:       int(m.Ack),
		CreatedAt: m.CreatedAt,
	}
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:          entry.ID,
			ChangeType:  string(entry.ChangeType),
			Reason:      string(entry.Reason),
			ChangedByID: entry.ChangedByID,
			OldValue:    entry.OldValue,
			NewValue:    entry.NewValue,
			CreatedAt:   entry.CreatedAt,
		})
	}
	return resp
}

func userResponse(u *domain.User) dto.UserResponse {
	return dto.UserResponse{ID: u.ID, Name: u.Name, Email: u.Email, Role: string(u.Role)}
}
