package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/clock"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/keylock"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// DefaultReopenWindow is how long a closed individual ticket can be reopened.
const DefaultReopenWindow = 2 * time.Hour

// Resolution outcomes recorded in metrics.
const (
	OutcomeActive   = "active"
	OutcomePending  = "pending"
	OutcomePromoted = "promoted"
	OutcomeReopened = "reopened"
	OutcomeCreated  = "created"
)

// ResolveRequest describes one message event that must be attached to a ticket.
type ResolveRequest struct {
	Contact      *domain.Contact
	GroupContact *domain.Contact
	ChannelID    string
	UnreadCount  int
	Outbound     bool
	Preview      string
}

// ResolveResult is the ticket a message belongs to and what happened to it.
// PreviousStatus is only set when StatusChanged is true.
type ResolveResult struct {
	Ticket         *domain.Ticket
	Contact        *domain.Contact
	IsNewTicket    bool
	StatusChanged  bool
	PreviousStatus domain.TicketStatus
	Outcome        string
}

// Resolver finds, reopens or creates the single open ticket for a contact on
// a channel. Every trigger site (inbound messages, agent sends, scheduled
// sends) goes through it.
type Resolver struct {
	tickets      repository.TicketRepository
	history      repository.TicketHistoryRepository
	guard        *keylock.Guard
	publisher    events.Publisher
	clock        clock.Clock
	reopenWindow time.Duration
	logger       *zap.Logger
	metrics      *observability.Metrics
}

// ResolverDependencies bundles what the resolver needs.
type ResolverDependencies struct {
	Tickets      repository.TicketRepository
	History      repository.TicketHistoryRepository
	Guard        *keylock.Guard
	Publisher    events.Publisher
	Clock        clock.Clock
	ReopenWindow time.Duration
	Logger       *zap.Logger
	Metrics      *observability.Metrics
}

// NewResolver constructs a Resolver.
func NewResolver(deps ResolverDependencies) *Resolver {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.ReopenWindow <= 0 {
		deps.ReopenWindow = DefaultReopenWindow
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Guard == nil {
		deps.Guard = keylock.New(keylock.Options{Clock: deps.Clock, Logger: deps.Logger})
	}
	return &Resolver{
		tickets:      deps.Tickets,
		history:      deps.History,
		guard:        deps.Guard,
		publisher:    deps.Publisher,
		clock:        deps.Clock,
		reopenWindow: deps.ReopenWindow,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
	}
}

// GuardKey is the lock key for all ticket mutations of a contact on a channel.
func GuardKey(contactID, channelID string) string {
	return contactID + ":" + channelID
}

// Guard exposes the keyed lock so callers can extend the critical section.
func (r *Resolver) Guard() *keylock.Guard {
	return r.guard
}

// EffectiveContact is the group contact when present, else the direct contact.
func (req ResolveRequest) EffectiveContact() *domain.Contact {
	if req.GroupContact != nil {
		return req.GroupContact
	}
	return req.Contact
}

// Resolve runs ResolveLocked under the contact's guard key.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	if err := validateResolve(req); err != nil {
		return nil, err
	}
	key := GuardKey(req.EffectiveContact().ID, req.ChannelID)
	return keylock.WithLock(ctx, r.guard, key, func(ctx context.Context) (*ResolveResult, error) {
		return r.ResolveLocked(ctx, req)
	})
}

func validateResolve(req ResolveRequest) error {
	eff := req.EffectiveContact()
	if eff == nil || eff.ID == "" {
		return apperrors.NewValidationError("contact is required", nil)
	}
	if req.ChannelID == "" {
		return apperrors.NewValidationError("channel id is required", nil)
	}
	if req.UnreadCount < 0 {
		return apperrors.NewValidationError("unread count must not be negative", map[string]any{"unread_count": req.UnreadCount})
	}
	return nil
}

// ResolveLocked applies the resolution rules. The caller must hold
// GuardKey(effective contact, channel). Exactly one ticket event is published
// when the ticket changed, before the lock is released.
func (r *Resolver) ResolveLocked(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	if err := validateResolve(req); err != nil {
		return nil, err
	}
	eff := req.EffectiveContact()
	isGroup := req.GroupContact != nil || eff.IsGroup

	open, err := r.tickets.FindActive(ctx, eff.ID, req.ChannelID, domain.NonClosedStatuses)
	if err != nil {
		return nil, err
	}
	if len(open) > 1 {
		ids := make([]string, 0, len(open))
		for _, t := range open {
			ids = append(ids, t.ID)
		}
		r.logger.Error("multiple active tickets for contact",
			zap.String("contact_id", eff.ID),
			zap.String("channel_id", req.ChannelID),
			zap.Strings("ticket_ids", ids))
	}

	if t := firstWith(open, domain.TicketStatus.IsActiveService); t != nil {
		next := t.Clone()
		if !req.Outbound {
			next.UnreadCount = req.UnreadCount
		}
		applyPreview(next, req.Preview)
		return r.finishUpdate(ctx, eff, t, next, OutcomeActive, "")
	}

	if t := firstWith(open, domain.TicketStatus.IsPending); t != nil {
		next := t.Clone()
		outcome := OutcomePending
		var reason domain.ChangeReason
		if req.Outbound {
			next.Status = domain.TicketStatusInService
			next.UnreadCount = 0
			outcome = OutcomePromoted
			reason = domain.ReasonPromoted
		} else {
			next.UnreadCount = req.UnreadCount
		}
		applyPreview(next, req.Preview)
		return r.finishUpdate(ctx, eff, t, next, outcome, reason)
	}

	var since *time.Time
	if !isGroup {
		cutoff := r.clock.Now().Add(-r.reopenWindow)
		since = &cutoff
	}
	closed, err := r.tickets.FindLatestClosed(ctx, eff.ID, req.ChannelID, since)
	switch {
	case err == nil:
		next := closed.Clone()
		next.AssignedUserID = nil
		if req.Outbound {
			next.Status = domain.TicketStatusInService
			next.UnreadCount = 0
		} else {
			next.Status = domain.TicketStatusPending
			next.UnreadCount = req.UnreadCount
		}
		applyPreview(next, req.Preview)
		return r.finishUpdate(ctx, eff, closed, next, OutcomeReopened, domain.ReasonReopened)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	return r.create(ctx, eff, req, isGroup)
}

func (r *Resolver) create(ctx context.Context, eff *domain.Contact, req ResolveRequest, isGroup bool) (*ResolveResult, error) {
	ticket := &domain.Ticket{
		ContactID:   eff.ID,
		ChannelID:   req.ChannelID,
		Status:      domain.TicketStatusPending,
		UnreadCount: req.UnreadCount,
		IsGroup:     isGroup,
	}
	if req.Outbound {
		ticket.Status = domain.TicketStatusInService
		ticket.UnreadCount = 0
	}
	applyPreview(ticket, req.Preview)

	if err := r.tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}
	r.recordHistory(ctx, ticket.ID, domain.ChangeTypeCreated, domain.ReasonCreated,
		nil, map[string]any{"status": string(ticket.Status)})
	r.publish(ctx, events.New(events.EventTicketCreated, ticket.ID, events.TicketPayload{
		Ticket:  ticket.Clone(),
		Contact: eff,
	}))
	r.metrics.RecordResolution(OutcomeCreated)

	return &ResolveResult{Ticket: ticket, Contact: eff, IsNewTicket: true, Outcome: OutcomeCreated}, nil
}

// finishUpdate persists next when it differs from prev and publishes the
// matching event. A duplicate delivery changes nothing and publishes nothing.
func (r *Resolver) finishUpdate(ctx context.Context, eff *domain.Contact, prev, next *domain.Ticket, outcome string, reason domain.ChangeReason) (*ResolveResult, error) {
	res := &ResolveResult{Ticket: next, Contact: eff, Outcome: outcome}
	defer r.metrics.RecordResolution(outcome)

	if !ticketChanged(prev, next) {
		return res, nil
	}
	if err := r.tickets.Update(ctx, next); err != nil {
		return nil, err
	}

	if prev.Status != next.Status {
		res.StatusChanged = true
		res.PreviousStatus = prev.Status
		r.recordHistory(ctx, next.ID, domain.ChangeTypeStatus, reason,
			map[string]any{"status": string(prev.Status)},
			map[string]any{"status": string(next.Status)})
		r.publish(ctx, events.New(events.EventTicketStatusChanged, next.ID, events.TicketPayload{
			Ticket:    next.Clone(),
			Contact:   eff,
			OldStatus: prev.Status,
		}))
		return res, nil
	}

	r.publish(ctx, events.New(events.EventTicketUpdated, next.ID, events.TicketPayload{
		Ticket:  next.Clone(),
		Contact: eff,
	}))
	return res, nil
}

func (r *Resolver) recordHistory(ctx context.Context, ticketID string, changeType domain.TicketChangeType, reason domain.ChangeReason, oldValue, newValue map[string]any) {
	if r.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID:   ticketID,
		ChangeType: changeType,
		Reason:     reason,
		OldValue:   oldValue,
		NewValue:   newValue,
	}
	if err := r.history.Create(ctx, entry); err != nil {
		r.logger.Warn("record ticket history", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func (r *Resolver) publish(ctx context.Context, event events.Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("publish ticket event", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func firstWith(tickets []domain.Ticket, match func(domain.TicketStatus) bool) *domain.Ticket {
	for i := range tickets {
		if match(tickets[i].Status) {
			return &tickets[i]
		}
	}
	return nil
}

func applyPreview(t *domain.Ticket, preview string) {
	if preview != "" {
		t.LastMessagePreview = domain.Preview(preview)
	}
}

func ticketChanged(a, b *domain.Ticket) bool {
	if a.Status != b.Status || a.UnreadCount != b.UnreadCount || a.LastMessagePreview != b.LastMessagePreview {
		return true
	}
	switch {
	case a.AssignedUserID == nil && b.AssignedUserID == nil:
		return false
	case a.AssignedUserID == nil || b.AssignedUserID == nil:
		return true
	}
	return *a.AssignedUserID != *b.AssignedUserID
}
