package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

func statusPtr(s domain.TicketStatus) *domain.TicketStatus { return &s }

func seedTicket(t *testing.T, f *fixture, number string) *domain.Ticket {
	t.Helper()
	c := f.contact(t, number)
	res := f.resolve(t, ResolveRequest{Contact: c, ChannelID: "1", UnreadCount: 2})
	f.pub.reset()
	return res.Ticket
}

func seedAgent(t *testing.T, f *fixture) *domain.User {
	t.Helper()
	u := &domain.User{Name: "Ana", Email: "ana@example.com", PasswordHash: "x", Role: domain.UserRoleAgent, Active: true}
	require.NoError(t, f.stores.Users.Create(context.Background(), u))
	return u
}

func TestTicketUpdateStatusAndAssignee(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ticket := seedTicket(t, f, "5511999999999")
	agent := seedAgent(t, f)

	updated, err := f.tickets.Update(ctx, ticket.ID, agent.ID, TicketUpdateInput{
		Status:         statusPtr(domain.TicketStatusAgentWorking),
		AssignedUserID: &agent.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAgentWorking, updated.Status)
	require.NotNil(t, updated.AssignedUserID)
	assert.Equal(t, agent.ID, *updated.AssignedUserID)

	require.Equal(t, []events.EventType{events.EventTicketStatusChanged}, f.pub.types())
	event := f.pub.last()
	require.NotNil(t, event.ActorID)
	assert.Equal(t, agent.ID, *event.ActorID)
	payload := event.Payload.(events.TicketPayload)
	assert.Equal(t, domain.TicketStatusPending, payload.OldStatus)
	require.NotNil(t, payload.Contact)
	assert.Equal(t, "5511999999999", payload.Contact.Number)

	history, err := f.tickets.History(ctx, ticket.ID)
	require.NoError(t, err)
	var types []domain.TicketChangeType
	for _, h := range history {
		types = append(types, h.ChangeType)
	}
	assert.Equal(t, []domain.TicketChangeType{domain.ChangeTypeCreated, domain.ChangeTypeStatus, domain.ChangeTypeAssignee}, types)
	assert.Equal(t, domain.ReasonAgentUpdate, history[1].Reason)
}

func TestTicketUpdateAssigneeOnlyPublishesUpdated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ticket := seedTicket(t, f, "5511999999999")
	agent := seedAgent(t, f)

	_, err := f.tickets.Update(ctx, ticket.ID, "", TicketUpdateInput{AssignedUserID: &agent.ID})
	require.NoError(t, err)
	assert.Equal(t, []events.EventType{events.EventTicketUpdated}, f.pub.types())
	assert.Nil(t, f.pub.last().ActorID)

	f.pub.reset()
	updated, err := f.tickets.Update(ctx, ticket.ID, "", TicketUpdateInput{Unassign: true})
	require.NoError(t, err)
	assert.Nil(t, updated.AssignedUserID)
	assert.Equal(t, []events.EventType{events.EventTicketUpdated}, f.pub.types())
}

func TestTicketUpdateNoChangeIsSilent(t *testing.T) {
	f := newFixture(t, nil)
	ticket := seedTicket(t, f, "5511999999999")

	_, err := f.tickets.Update(context.Background(), ticket.ID, "", TicketUpdateInput{Status: statusPtr(domain.TicketStatusPending)})
	require.NoError(t, err)
	assert.Empty(t, f.pub.types())
}

func TestTicketUpdateValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ticket := seedTicket(t, f, "5511999999999")
	ghost := "ghost"

	_, err := f.tickets.Update(ctx, ticket.ID, "", TicketUpdateInput{Status: statusPtr("bogus")})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.tickets.Update(ctx, ticket.ID, "", TicketUpdateInput{AssignedUserID: &ghost})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.tickets.Update(ctx, ticket.ID, "", TicketUpdateInput{AssignedUserID: &ghost, Unassign: true})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.tickets.Update(ctx, "missing", "", TicketUpdateInput{Status: statusPtr(domain.TicketStatusClosed)})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestTicketReopenConflictsWithOpenTicket(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	old := seedTicket(t, f, "5511999999999")
	f.close(t, old.ID)
	f.clock.Advance(DefaultReopenWindow + 1)

	c, err := f.stores.Contacts.GetByID(ctx, old.ContactID)
	require.NoError(t, err)
	fresh := f.resolve(t, ResolveRequest{Contact: c, ChannelID: "1", UnreadCount: 1})
	require.NotEqual(t, old.ID, fresh.Ticket.ID)

	_, err = f.tickets.Update(ctx, old.ID, "", TicketUpdateInput{Status: statusPtr(domain.TicketStatusPending)})
	require.True(t, apperrors.IsCode(err, apperrors.CodeConflict))
	domainErr := apperrors.ToDomainError(err)
	assert.Equal(t, fresh.Ticket.ID, domainErr.Details["open_ticket_id"])
}

func TestTicketDeletePublishesLastStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	ticket := seedTicket(t, f, "5511999999999")

	require.NoError(t, f.tickets.Delete(ctx, ticket.ID, "agent-1"))

	require.Equal(t, []events.EventType{events.EventTicketDeleted}, f.pub.types())
	payload := f.pub.last().Payload.(events.TicketDeletedPayload)
	assert.Equal(t, ticket.ID, payload.TicketID)
	assert.Equal(t, domain.TicketStatusPending, payload.Status)

	_, err := f.tickets.Get(ctx, ticket.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
	assert.True(t, apperrors.IsCode(f.tickets.Delete(ctx, ticket.ID, ""), apperrors.CodeNotFound))
}

func TestTicketMarkRead(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.messages.HandleInbound(ctx, inbound("m1", "5511999999999", "hi", 2)))
	ticketID := mustTicketOf(t, f, "m1")
	f.pub.reset()

	ticket, err := f.tickets.MarkRead(ctx, ticketID)
	require.NoError(t, err)
	assert.Zero(t, ticket.UnreadCount)
	assert.Equal(t, []events.EventType{events.EventTicketUpdated}, f.pub.types())

	msg, err := f.stores.Messages.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, msg.Read)

	f.pub.reset()
	_, err = f.tickets.MarkRead(ctx, ticketID)
	require.NoError(t, err)
	assert.Empty(t, f.pub.types())
}

func TestTicketList(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := seedTicket(t, f, "5511911111111")
	f.clock.Advance(1)
	b := seedTicket(t, f, "5511922222222")
	f.close(t, b.ID)

	pending, err := f.tickets.List(ctx, repository.TicketFilter{Statuses: []domain.TicketStatus{domain.TicketStatusPending}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)

	all, err := f.tickets.List(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)
}
