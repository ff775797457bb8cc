package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// ContactsHandler exposes the contact registry.
type ContactsHandler struct {
	contacts *service.ContactService
}

// NewContactsHandler constructs handler.
func NewContactsHandler(contacts *service.ContactService) *ContactsHandler {
	return &ContactsHandler{contacts: contacts}
}

// UpsertContact POST /api/contacts.
func (h *ContactsHandler) UpsertContact(c *fiber.Ctx) error {
	var req dto.ContactUpsertRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	contact, err := h.contacts.Upsert(c.UserContext(), service.ContactIdentity{
		Number:    req.Number,
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
		IsGroup:   req.IsGroup,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": contactResponse(contact)})
}

// GetContact GET /api/contacts/:id.
func (h *ContactsHandler) GetContact(c *fiber.Ctx) error {
	contact, err := h.contacts.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": contactResponse(contact)})
}
