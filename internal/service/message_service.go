package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/idempotency"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/whatsapp"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const defaultClaimTTL = 10 * time.Minute

// ErrSentNotRecorded wraps failures that happen after WhatsApp accepted an
// outbound message. Resending would deliver it twice.
var ErrSentNotRecorded = errors.New("message sent but not recorded")

// MessageService glues the WhatsApp transport to contacts, ticket resolution
// and the message thread.
type MessageService struct {
	contacts  *ContactService
	resolver  *Resolver
	tickets   repository.TicketRepository
	messages  repository.MessageRepository
	sender    whatsapp.Sender
	claims    idempotency.Store
	claimTTL  time.Duration
	publisher events.Publisher
	logger    *zap.Logger
}

// MessageDependencies bundles what MessageService needs.
type MessageDependencies struct {
	Contacts  *ContactService
	Resolver  *Resolver
	Tickets   repository.TicketRepository
	Messages  repository.MessageRepository
	Sender    whatsapp.Sender
	Claims    idempotency.Store
	ClaimTTL  time.Duration
	Publisher events.Publisher
	Logger    *zap.Logger
}

// NewMessageService constructs the service.
func NewMessageService(deps MessageDependencies) *MessageService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ClaimTTL <= 0 {
		deps.ClaimTTL = defaultClaimTTL
	}
	if deps.Claims == nil {
		deps.Claims = idempotency.NewMemoryStore(nil)
	}
	if deps.Sender == nil {
		deps.Sender = whatsapp.DisabledSender{}
	}
	return &MessageService{
		contacts:  deps.Contacts,
		resolver:  deps.Resolver,
		tickets:   deps.Tickets,
		messages:  deps.Messages,
		sender:    deps.Sender,
		claims:    deps.Claims,
		claimTTL:  deps.ClaimTTL,
		publisher: deps.Publisher,
		logger:    deps.Logger,
	}
}

var _ whatsapp.Handler = (*MessageService)(nil)

// HandleInbound records a message seen on a WhatsApp line and attaches it to
// the contact's ticket. Redeliveries of the same message id are ignored.
// When media is not retrievable yet the event is dropped without side
// effects so the transport's resend can succeed.
func (s *MessageService) HandleInbound(ctx context.Context, in whatsapp.InboundMessage) (err error) {
	ownGroupMessage := in.FromMe && in.Group != nil
	if in.ID == "" || in.ChannelID == "" || (strings.TrimSpace(in.Sender.Number) == "" && !ownGroupMessage) {
		return apperrors.NewValidationError("inbound message is missing id, channel or sender", map[string]any{"message_id": in.ID})
	}

	claimed, err := s.claims.Claim(ctx, in.ID, s.claimTTL)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Debug("duplicate inbound message ignored", zap.String("message_id", in.ID))
		return nil
	}
	defer func() {
		if err != nil {
			s.release(in.ID)
		}
	}()

	var mediaURL string
	if in.Media != nil {
		mediaURL, err = in.Media.Fetch(ctx)
		if errors.Is(err, whatsapp.ErrMediaUnavailable) {
			s.logger.Info("media not yet available, deferring message",
				zap.String("message_id", in.ID), zap.Error(err))
			s.release(in.ID)
			return nil
		}
		if err != nil {
			return err
		}
	}

	// In a group we sent to, the participant is our own line.
	var sender *domain.Contact
	if !ownGroupMessage {
		sender, err = s.contacts.Upsert(ctx, identityOf(in.Sender))
		if err != nil {
			return err
		}
	}
	var group *domain.Contact
	if in.Group != nil {
		group, err = s.contacts.Upsert(ctx, identityOf(*in.Group))
		if err != nil {
			return err
		}
	}

	req := ResolveRequest{
		Contact:      sender,
		GroupContact: group,
		ChannelID:    in.ChannelID,
		UnreadCount:  in.UnreadCount,
		Outbound:     in.FromMe,
		Preview:      previewOf(in.Body, in.MediaType),
	}
	msg := &domain.Message{
		ID:        in.ID,
		Body:      in.Body,
		FromMe:    in.FromMe,
		Read:      in.FromMe,
		MediaType: in.MediaType,
		MediaURL:  mediaURL,
		Ack:       domain.AckPending,
	}
	if in.FromMe {
		msg.Ack = domain.AckServer
	} else {
		msg.ContactID = &sender.ID
	}
	_, err = s.attach(ctx, req, msg)
	return err
}

// HandleAck raises a message's delivery state. Acks for unknown messages are
// dropped.
func (s *MessageService) HandleAck(ctx context.Context, ack whatsapp.Ack) error {
	if ack.MessageID == "" {
		return apperrors.NewValidationError("ack is missing message id", nil)
	}
	current, err := s.messages.GetByID(ctx, ack.MessageID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Debug("ack for unknown message dropped", zap.String("message_id", ack.MessageID))
		return nil
	}
	if err != nil {
		return err
	}
	if current.Ack >= ack.Level {
		return nil
	}

	updated, err := s.messages.UpdateAck(ctx, ack.MessageID, ack.Level)
	if err != nil {
		return notFound("message", ack.MessageID, err)
	}
	s.publish(ctx, events.New(events.EventMessageAckUpdated, updated.TicketID, events.MessagePayload{Message: updated}))
	return nil
}

// SendText sends body to the ticket's contact and records it. The message is
// attached through the resolver, so a pending ticket is promoted and a closed
// one may be reopened or replaced.
func (s *MessageService) SendText(ctx context.Context, ticketID, body string) (*domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("message body is required", nil)
	}
	ticket, contact, err := s.recipient(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	messageID, err := s.sender.SendText(ctx, ticket.ChannelID, recipientOf(contact), body)
	if err != nil {
		return nil, transportFailure(err)
	}
	return s.recordSent(ctx, ticket, contact, &domain.Message{
		ID:     messageID,
		Body:   body,
		FromMe: true,
		Read:   true,
		Ack:    domain.AckServer,
	})
}

// SendMedia sends a file to the ticket's contact with an optional caption
// and records it the same way SendText does.
func (s *MessageService) SendMedia(ctx context.Context, ticketID string, media whatsapp.OutboundMedia) (*domain.Message, error) {
	if len(media.Data) == 0 {
		return nil, apperrors.NewValidationError("media file is required", nil)
	}
	media.Caption = strings.TrimSpace(media.Caption)
	ticket, contact, err := s.recipient(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	messageID, mediaURL, err := s.sender.SendMedia(ctx, ticket.ChannelID, recipientOf(contact), media)
	if err != nil {
		return nil, transportFailure(err)
	}
	return s.recordSent(ctx, ticket, contact, &domain.Message{
		ID:        messageID,
		Body:      media.Caption,
		FromMe:    true,
		Read:      true,
		MediaType: media.Kind(),
		MediaURL:  mediaURL,
		Ack:       domain.AckServer,
	})
}

func (s *MessageService) recipient(ctx context.Context, ticketID string) (*domain.Ticket, *domain.Contact, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, notFound("ticket", ticketID, err)
	}
	contact, err := s.contacts.GetByID(ctx, ticket.ContactID)
	if err != nil {
		return nil, nil, err
	}
	return ticket, contact, nil
}

// recordSent attaches a message WhatsApp already accepted. Any failure from
// here on wraps ErrSentNotRecorded.
func (s *MessageService) recordSent(ctx context.Context, ticket *domain.Ticket, contact *domain.Contact, msg *domain.Message) (*domain.Message, error) {
	// The phone may echo our own send back as a from-me message.
	if _, err := s.claims.Claim(ctx, msg.ID, s.claimTTL); err != nil {
		s.logger.Warn("claim sent message id", zap.String("message_id", msg.ID), zap.Error(err))
	}
	req := ResolveRequest{
		Contact:   contact,
		ChannelID: ticket.ChannelID,
		Outbound:  true,
		Preview:   previewOf(msg.Body, msg.MediaType),
	}
	stored, err := s.attach(ctx, req, msg)
	if err != nil {
		s.logger.Error("sent message not recorded",
			zap.String("ticket_id", ticket.ID), zap.String("message_id", msg.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSentNotRecorded, err)
	}
	return stored, nil
}

func recipientOf(c *domain.Contact) whatsapp.Identity {
	return whatsapp.Identity{Number: c.Number, Name: c.Name, IsGroup: c.IsGroup}
}

func transportFailure(err error) error {
	if apperrors.IsCode(err, apperrors.CodeTransportFailure) {
		return err
	}
	return apperrors.NewTransportFailure(err)
}

// ListByTicket returns a ticket's thread, oldest first.
func (s *MessageService) ListByTicket(ctx context.Context, ticketID string, limit, offset int) ([]domain.Message, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, notFound("ticket", ticketID, err)
	}
	return s.messages.ListByTicket(ctx, ticketID, limit, offset)
}

// attach resolves the ticket and stores msg on it inside one critical section,
// so the ticket event and the message event for a contact stay in order.
func (s *MessageService) attach(ctx context.Context, req ResolveRequest, msg *domain.Message) (*domain.Message, error) {
	if err := validateResolve(req); err != nil {
		return nil, err
	}
	key := GuardKey(req.EffectiveContact().ID, req.ChannelID)
	err := s.resolver.Guard().Do(ctx, key, func(ctx context.Context) error {
		res, err := s.resolver.ResolveLocked(ctx, req)
		if err != nil {
			return err
		}
		msg.TicketID = res.Ticket.ID
		created, err := s.messages.Upsert(ctx, msg)
		if err != nil {
			return err
		}
		if created {
			s.publish(ctx, events.New(events.EventMessageCreated, res.Ticket.ID, events.MessagePayload{
				Message: msg,
				Ticket:  res.Ticket.Clone(),
				Contact: res.Contact,
			}))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *MessageService) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.claims.Release(ctx, id); err != nil {
		s.logger.Warn("release inbound claim", zap.String("message_id", id), zap.Error(err))
	}
}

func (s *MessageService) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish message event", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func identityOf(id whatsapp.Identity) ContactIdentity {
	return ContactIdentity{Number: id.Number, Name: id.Name, AvatarURL: id.AvatarURL, IsGroup: id.IsGroup}
}

func previewOf(body, mediaType string) string {
	if body != "" {
		return body
	}
	if mediaType != "" {
		return "[" + mediaType + "]"
	}
	return ""
}
