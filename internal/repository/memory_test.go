package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/clock"
	"github.com/spec-kit/helpdesk-service/internal/domain"
)

func newMemory(t *testing.T) (Stores, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	return NewMemoryStores(fake), fake
}

func TestContactUpsertIsIdempotentAndKeepsFields(t *testing.T) {
	stores, _ := newMemory(t)
	ctx := context.Background()

	first := &domain.Contact{Number: "5511999999999", Name: "Maria", AvatarURL: "http://a/1.jpg"}
	require.NoError(t, stores.Contacts.Upsert(ctx, first))

	again := &domain.Contact{Number: "5511999999999"}
	require.NoError(t, stores.Contacts.Upsert(ctx, again))

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Maria", again.Name)
	assert.Equal(t, "http://a/1.jpg", again.AvatarURL)

	renamed := &domain.Contact{Number: "5511999999999", Name: "Maria Silva"}
	require.NoError(t, stores.Contacts.Upsert(ctx, renamed))
	assert.Equal(t, "Maria Silva", renamed.Name)
	assert.Equal(t, "http://a/1.jpg", renamed.AvatarURL)
}

func TestContactUpsertDefaultsNameToNumber(t *testing.T) {
	stores, _ := newMemory(t)
	c := &domain.Contact{Number: "5511888888888"}
	require.NoError(t, stores.Contacts.Upsert(context.Background(), c))
	assert.Equal(t, "5511888888888", c.Name)

	got, err := stores.Contacts.GetByNumber(context.Background(), "5511888888888")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = stores.Contacts.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTicketRepositoryRejectsSecondActiveTicket(t *testing.T) {
	stores, _ := newMemory(t)
	ctx := context.Background()

	first := &domain.Ticket{ContactID: "c1", ChannelID: "1", Status: domain.TicketStatusPending}
	require.NoError(t, stores.Tickets.Create(ctx, first))

	second := &domain.Ticket{ContactID: "c1", ChannelID: "1", Status: domain.TicketStatusInService}
	assert.ErrorIs(t, stores.Tickets.Create(ctx, second), ErrActiveTicketExists)

	otherChannel := &domain.Ticket{ContactID: "c1", ChannelID: "2", Status: domain.TicketStatusPending}
	require.NoError(t, stores.Tickets.Create(ctx, otherChannel))

	first.Status = domain.TicketStatusClosed
	require.NoError(t, stores.Tickets.Update(ctx, first))
	require.NoError(t, stores.Tickets.Create(ctx, second))
}

func TestFindLatestClosedHonoursSince(t *testing.T) {
	stores, fake := newMemory(t)
	ctx := context.Background()

	tk := &domain.Ticket{ContactID: "c1", ChannelID: "1", Status: domain.TicketStatusClosed}
	require.NoError(t, stores.Tickets.Create(ctx, tk))
	closedAt := fake.Now()

	fake.Advance(3 * time.Hour)
	since := fake.Now().Add(-2 * time.Hour)
	_, err := stores.Tickets.FindLatestClosed(ctx, "c1", "1", &since)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := stores.Tickets.FindLatestClosed(ctx, "c1", "1", nil)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)

	exact := closedAt
	got, err = stores.Tickets.FindLatestClosed(ctx, "c1", "1", &exact)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
}

func TestFindActiveOrdersByUpdatedDesc(t *testing.T) {
	stores, fake := newMemory(t)
	ctx := context.Background()

	older := &domain.Ticket{ContactID: "c1", ChannelID: "1", Status: domain.TicketStatusClosed}
	require.NoError(t, stores.Tickets.Create(ctx, older))
	fake.Advance(time.Minute)
	newer := &domain.Ticket{ContactID: "c1", ChannelID: "1", Status: domain.TicketStatusPending}
	require.NoError(t, stores.Tickets.Create(ctx, newer))

	got, err := stores.Tickets.FindActive(ctx, "c1", "1", domain.NonClosedStatuses)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, newer.ID, got[0].ID)

	all, err := stores.Tickets.List(ctx, TicketFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)
}

func TestTicketListFilters(t *testing.T) {
	stores, _ := newMemory(t)
	ctx := context.Background()
	agent := "agent-1"

	mine := &domain.Ticket{ContactID: "c1", ChannelID: "1", Status: domain.TicketStatusInService, AssignedUserID: &agent, LastMessagePreview: "Need a refund"}
	require.NoError(t, stores.Tickets.Create(ctx, mine))
	other := &domain.Ticket{ContactID: "c2", ChannelID: "1", Status: domain.TicketStatusPending, LastMessagePreview: "hello"}
	require.NoError(t, stores.Tickets.Create(ctx, other))

	got, err := stores.Tickets.List(ctx, TicketFilter{AssignedUserID: &agent})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	term := "REFUND"
	got, err = stores.Tickets.List(ctx, TicketFilter{SearchTerm: &term})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = stores.Tickets.List(ctx, TicketFilter{Statuses: []domain.TicketStatus{domain.TicketStatusPending}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, other.ID, got[0].ID)

	got, err = stores.Tickets.List(ctx, TicketFilter{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTicketDeleteAndMissing(t *testing.T) {
	stores, _ := newMemory(t)
	ctx := context.Background()

	tk := &domain.Ticket{ContactID: "c1", ChannelID: "1", Status: domain.TicketStatusPending}
	require.NoError(t, stores.Tickets.Create(ctx, tk))
	require.NoError(t, stores.Tickets.Delete(ctx, tk.ID))
	assert.ErrorIs(t, stores.Tickets.Delete(ctx, tk.ID), ErrNotFound)
	assert.ErrorIs(t, stores.Tickets.Update(ctx, tk), ErrNotFound)
}

func TestMessageUpsertAndAckAreMonotonic(t *testing.T) {
	stores, _ := newMemory(t)
	ctx := context.Background()

	msg := &domain.Message{ID: "wamid-1", TicketID: "t1", Body: "oi", FromMe: true, Ack: domain.AckServer}
	created, err := stores.Messages.Upsert(ctx, msg)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &domain.Message{ID: "wamid-1", TicketID: "t1", Body: "oi", FromMe: true}
	created, err = stores.Messages.Upsert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.AckServer, dup.Ack)

	updated, err := stores.Messages.UpdateAck(ctx, "wamid-1", domain.AckRead)
	require.NoError(t, err)
	assert.Equal(t, domain.AckRead, updated.Ack)

	updated, err = stores.Messages.UpdateAck(ctx, "wamid-1", domain.AckDelivered)
	require.NoError(t, err)
	assert.Equal(t, domain.AckRead, updated.Ack)

	_, err = stores.Messages.UpdateAck(ctx, "nope", domain.AckRead)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessagesListAndMarkRead(t *testing.T) {
	stores, fake := newMemory(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := stores.Messages.Upsert(ctx, &domain.Message{ID: id, TicketID: "t1"})
		require.NoError(t, err)
		fake.Advance(time.Second)
	}
	_, err := stores.Messages.Upsert(ctx, &domain.Message{ID: "other", TicketID: "t2"})
	require.NoError(t, err)

	require.NoError(t, stores.Messages.MarkTicketRead(ctx, "t1"))

	got, err := stores.Messages.ListByTicket(ctx, "t1", 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.True(t, got[0].Read)

	got, err = stores.Messages.ListByTicket(ctx, "t1", 2, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m3", got[0].ID)
}

func TestUsersAndHistory(t *testing.T) {
	stores, _ := newMemory(t)
	ctx := context.Background()

	u := &domain.User{Name: "Ana", Email: "ana@example.com", Role: domain.UserRoleAgent, Active: true}
	require.NoError(t, stores.Users.Create(ctx, u))
	assert.ErrorIs(t, stores.Users.Create(ctx, &domain.User{Email: "ANA@example.com"}), ErrDuplicateEmail)

	got, err := stores.Users.GetByEmail(ctx, "Ana@Example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NoError(t, stores.History.Create(ctx, &domain.TicketHistory{TicketID: "t1", ChangeType: domain.ChangeTypeStatus}))
	require.NoError(t, stores.History.Create(ctx, &domain.TicketHistory{TicketID: "t2", ChangeType: domain.ChangeTypeCreated}))
	entries, err := stores.History.ListByTicket(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
