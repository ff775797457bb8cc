package service

import (
	"context"
	"strings"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// ContactIdentity is what a caller knows about a WhatsApp party.
type ContactIdentity struct {
	Number    string
	Name      string
	AvatarURL string
	IsGroup   bool
}

// ContactService is the contact registry: one contact per canonical number.
type ContactService struct {
	contacts repository.ContactRepository
}

// NewContactService constructs the registry.
func NewContactService(contacts repository.ContactRepository) *ContactService {
	return &ContactService{contacts: contacts}
}

// Upsert creates the contact for identity.Number or refreshes its name and
// avatar. The number is canonicalized first, so "+55 11 99999-9999" and
// "5511999999999@s.whatsapp.net" land on the same contact.
func (s *ContactService) Upsert(ctx context.Context, identity ContactIdentity) (*domain.Contact, error) {
	raw := strings.TrimSpace(identity.Number)
	if raw == "" {
		return nil, apperrors.NewValidationError("contact number is required", nil)
	}
	if identity.IsGroup && !strings.Contains(raw, "@") {
		raw += "@g.us"
	}
	number := domain.CanonicalNumber(raw)
	if number == "" {
		return nil, apperrors.NewValidationError("contact number has no digits", map[string]any{"number": identity.Number})
	}

	contact := &domain.Contact{
		Number:    number,
		Name:      strings.TrimSpace(identity.Name),
		AvatarURL: strings.TrimSpace(identity.AvatarURL),
		IsGroup:   identity.IsGroup,
	}
	if err := s.contacts.Upsert(ctx, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

// GetByID loads a contact.
func (s *ContactService) GetByID(ctx context.Context, id string) (*domain.Contact, error) {
	contact, err := s.contacts.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("contact", id, err)
	}
	return contact, nil
}
