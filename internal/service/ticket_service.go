package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/keylock"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TicketService coordinates agent-driven ticket workflows. Every write takes
// the same per-contact guard as the resolver.
type TicketService struct {
	tickets   repository.TicketRepository
	messages  repository.MessageRepository
	contacts  repository.ContactRepository
	users     repository.UserRepository
	history   repository.TicketHistoryRepository
	guard     *keylock.Guard
	publisher events.Publisher
	logger    *zap.Logger
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.MessageRepository
	ContactRepo repository.ContactRepository
	UserRepo    repository.UserRepository
	HistoryRepo repository.TicketHistoryRepository
	Guard       *keylock.Guard
	Publisher   events.Publisher
	Logger      *zap.Logger
}

// TicketUpdateInput carries an agent's change. Nil fields are left alone;
// Unassign clears the assignee.
type TicketUpdateInput struct {
	Status         *domain.TicketStatus
	AssignedUserID *string
	Unassign       bool
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Guard == nil {
		deps.Guard = keylock.New(keylock.Options{Logger: deps.Logger})
	}
	return &TicketService{
		tickets:   deps.TicketRepo,
		messages:  deps.MessageRepo,
		contacts:  deps.ContactRepo,
		users:     deps.UserRepo,
		history:   deps.HistoryRepo,
		guard:     deps.Guard,
		publisher: deps.Publisher,
		logger:    deps.Logger,
	}
}

// Get loads a ticket.
func (s *TicketService) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, notFound("ticket", id, err)
	}
	return ticket, nil
}

// List searches tickets, most recently updated first.
func (s *TicketService) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	return s.tickets.List(ctx, filter)
}

// History returns the audit trail of a ticket.
func (s *TicketService) History(ctx context.Context, id string) ([]domain.TicketHistory, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.history.ListByTicket(ctx, id)
}

// Update applies an agent's status or assignee change. Reopening a closed
// ticket while the contact already has an open one is a conflict.
func (s *TicketService) Update(ctx context.Context, id, actorID string, input TicketUpdateInput) (*domain.Ticket, error) {
	if input.Status != nil && !input.Status.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": string(*input.Status)})
	}
	if input.AssignedUserID != nil && input.Unassign {
		return nil, apperrors.NewValidationError("cannot assign and unassign at once", nil)
	}
	if input.AssignedUserID != nil {
		if _, err := s.users.GetByID(ctx, *input.AssignedUserID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.NewValidationError("assignee does not exist", map[string]any{"user_id": *input.AssignedUserID})
			}
			return nil, err
		}
	}

	return s.withTicket(ctx, id, func(ctx context.Context, prev *domain.Ticket) (*domain.Ticket, error) {
		next := prev.Clone()
		if input.Status != nil {
			next.Status = *input.Status
		}
		switch {
		case input.Unassign:
			next.AssignedUserID = nil
		case input.AssignedUserID != nil:
			assignee := *input.AssignedUserID
			next.AssignedUserID = &assignee
		}
		if !ticketChanged(prev, next) {
			return next, nil
		}

		if prev.Status == domain.TicketStatusClosed && next.Status != domain.TicketStatusClosed {
			open, err := s.tickets.FindActive(ctx, prev.ContactID, prev.ChannelID, domain.NonClosedStatuses)
			if err != nil {
				return nil, err
			}
			if len(open) > 0 {
				return nil, conflictWith(open[0].ID)
			}
		}
		if err := s.tickets.Update(ctx, next); err != nil {
			if errors.Is(err, repository.ErrActiveTicketExists) {
				return nil, conflictWith("")
			}
			return nil, err
		}

		actor := optionalID(actorID)
		if prev.Status != next.Status {
			s.recordHistory(ctx, next.ID, actor, domain.ChangeTypeStatus,
				map[string]any{"status": string(prev.Status)},
				map[string]any{"status": string(next.Status)})
		}
		if !sameAssignee(prev.AssignedUserID, next.AssignedUserID) {
			s.recordHistory(ctx, next.ID, actor, domain.ChangeTypeAssignee,
				map[string]any{"assigned_user_id": prev.AssignedUserID},
				map[string]any{"assigned_user_id": next.AssignedUserID})
		}

		payload := events.TicketPayload{Ticket: next.Clone(), Contact: s.contactOf(ctx, next)}
		eventType := events.EventTicketUpdated
		if prev.Status != next.Status {
			eventType = events.EventTicketStatusChanged
			payload.OldStatus = prev.Status
		}
		event := events.New(eventType, next.ID, payload)
		event.ActorID = actor
		s.publish(ctx, event)
		return next, nil
	})
}

// Delete removes a ticket and tells dashboards where it was listed.
func (s *TicketService) Delete(ctx context.Context, id, actorID string) error {
	_, err := s.withTicket(ctx, id, func(ctx context.Context, prev *domain.Ticket) (*domain.Ticket, error) {
		if err := s.tickets.Delete(ctx, prev.ID); err != nil {
			return nil, notFound("ticket", id, err)
		}
		event := events.New(events.EventTicketDeleted, prev.ID, events.TicketDeletedPayload{
			TicketID: prev.ID,
			Status:   prev.Status,
		})
		event.ActorID = optionalID(actorID)
		s.publish(ctx, event)
		return prev, nil
	})
	return err
}

// MarkRead zeroes the unread counter and marks the thread read.
func (s *TicketService) MarkRead(ctx context.Context, id string) (*domain.Ticket, error) {
	return s.withTicket(ctx, id, func(ctx context.Context, prev *domain.Ticket) (*domain.Ticket, error) {
		if err := s.messages.MarkTicketRead(ctx, prev.ID); err != nil {
			return nil, err
		}
		if prev.UnreadCount == 0 {
			return prev, nil
		}
		next := prev.Clone()
		next.UnreadCount = 0
		if err := s.tickets.Update(ctx, next); err != nil {
			return nil, err
		}
		s.publish(ctx, events.New(events.EventTicketUpdated, next.ID, events.TicketPayload{
			Ticket:  next.Clone(),
			Contact: s.contactOf(ctx, next),
		}))
		return next, nil
	})
}

// withTicket runs fn on a fresh copy of the ticket while holding its guard key.
func (s *TicketService) withTicket(ctx context.Context, id string, fn func(ctx context.Context, t *domain.Ticket) (*domain.Ticket, error)) (*domain.Ticket, error) {
	ticket, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	key := GuardKey(ticket.ContactID, ticket.ChannelID)
	return keylock.WithLock(ctx, s.guard, key, func(ctx context.Context) (*domain.Ticket, error) {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return fn(ctx, current)
	})
}

func (s *TicketService) contactOf(ctx context.Context, t *domain.Ticket) *domain.Contact {
	if s.contacts == nil {
		return nil
	}
	contact, err := s.contacts.GetByID(ctx, t.ContactID)
	if err != nil {
		s.logger.Warn("load ticket contact", zap.String("ticket_id", t.ID), zap.Error(err))
		return nil
	}
	return contact
}

func (s *TicketService) recordHistory(ctx context.Context, ticketID string, actor *string, changeType domain.TicketChangeType, oldValue, newValue map[string]any) {
	if s.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID:    ticketID,
		ChangedByID: actor,
		ChangeType:  changeType,
		Reason:      domain.ReasonAgentUpdate,
		OldValue:    oldValue,
		NewValue:    newValue,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("record ticket history", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func (s *TicketService) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish ticket event", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func conflictWith(openTicketID string) error {
	details := map[string]any{}
	if openTicketID != "" {
		details["open_ticket_id"] = openTicketID
	}
	return apperrors.NewConflict("contact already has an open ticket on this channel", details)
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func sameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
