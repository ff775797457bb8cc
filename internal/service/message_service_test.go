package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/whatsapp"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

type stubMedia struct {
	url string
	err error
}

func (m stubMedia) Fetch(context.Context) (string, error) { return m.url, m.err }

func inbound(id, number, body string, unread int) whatsapp.InboundMessage {
	return whatsapp.InboundMessage{
		ID:          id,
		ChannelID:   "1",
		Body:        body,
		Sender:      whatsapp.Identity{Number: number, Name: "Maria"},
		UnreadCount: unread,
		Timestamp:   epoch,
	}
}

func TestHandleInboundCreatesContactTicketAndMessage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.messages.HandleInbound(ctx, inbound("m1", "5511999999999@s.whatsapp.net", "olá", 1)))

	contact, err := f.stores.Contacts.GetByNumber(ctx, "5511999999999")
	require.NoError(t, err)
	assert.Equal(t, "Maria", contact.Name)

	msg, err := f.stores.Messages.GetByID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg.ContactID)
	assert.Equal(t, contact.ID, *msg.ContactID)
	assert.False(t, msg.FromMe)
	assert.Equal(t, domain.AckPending, msg.Ack)

	ticket, err := f.stores.Tickets.GetByID(ctx, msg.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusPending, ticket.Status)
	assert.Equal(t, "olá", ticket.LastMessagePreview)

	assert.Equal(t, []events.EventType{events.EventTicketCreated, events.EventMessageCreated}, f.pub.types())
}

func TestHandleInboundIgnoresRedelivery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg := inbound("m1", "5511999999999", "hi", 1)

	require.NoError(t, f.messages.HandleInbound(ctx, msg))
	f.pub.reset()
	require.NoError(t, f.messages.HandleInbound(ctx, msg))

	assert.Empty(t, f.pub.types())
}

func TestHandleInboundDefersUnavailableMedia(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg := inbound("m-media", "5511999999999", "", 1)
	msg.MediaType = "image"
	msg.Media = stubMedia{err: whatsapp.ErrMediaUnavailable}

	require.NoError(t, f.messages.HandleInbound(ctx, msg))
	assert.Empty(t, f.pub.types())
	assert.Zero(t, f.claims.Len())

	msg.Media = stubMedia{url: "m-media.jpg"}
	require.NoError(t, f.messages.HandleInbound(ctx, msg))

	stored, err := f.stores.Messages.GetByID(ctx, "m-media")
	require.NoError(t, err)
	assert.Equal(t, "m-media.jpg", stored.MediaURL)
	ticket, err := f.stores.Tickets.GetByID(ctx, stored.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "[image]", ticket.LastMessagePreview)
}

func TestHandleInboundReleasesClaimOnFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg := inbound("m-fail", "5511999999999", "", 1)
	msg.Media = stubMedia{err: errors.New("disk full")}

	require.Error(t, f.messages.HandleInbound(ctx, msg))
	assert.Zero(t, f.claims.Len())
}

func TestHandleInboundRejectsIncompleteMessages(t *testing.T) {
	f := newFixture(t, nil)
	err := f.messages.HandleInbound(context.Background(), whatsapp.InboundMessage{ID: "x", ChannelID: "1"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestHandleInboundFromMePromotesPendingTicket(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.messages.HandleInbound(ctx, inbound("m1", "5511999999999", "hi", 1)))

	echo := inbound("m2", "5511999999999", "sent from the phone", 0)
	echo.FromMe = true
	require.NoError(t, f.messages.HandleInbound(ctx, echo))

	msg, err := f.stores.Messages.GetByID(ctx, "m2")
	require.NoError(t, err)
	assert.Nil(t, msg.ContactID)
	assert.Equal(t, domain.AckServer, msg.Ack)
	ticket, err := f.stores.Tickets.GetByID(ctx, msg.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInService, ticket.Status)
}

func TestHandleInboundGroupMessageUsesGroupTicket(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg := inbound("g1", "5511911110000", "bom dia", 3)
	msg.ChatIsGroup = true
	msg.Group = &whatsapp.Identity{Number: "120363040000000000@g.us", Name: "Suporte", IsGroup: true}

	require.NoError(t, f.messages.HandleInbound(ctx, msg))

	group, err := f.stores.Contacts.GetByNumber(ctx, "120363040000000000")
	require.NoError(t, err)
	stored, err := f.stores.Messages.GetByID(ctx, "g1")
	require.NoError(t, err)
	ticket, err := f.stores.Tickets.GetByID(ctx, stored.TicketID)
	require.NoError(t, err)
	assert.Equal(t, group.ID, ticket.ContactID)
	assert.True(t, ticket.IsGroup)

	sender, err := f.stores.Contacts.GetByNumber(ctx, "5511911110000")
	require.NoError(t, err)
	assert.Equal(t, sender.ID, *stored.ContactID)
}

func TestHandleInboundOwnGroupMessageSkipsSenderContact(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	msg := inbound("g2", "5511900000000", "já verifico", 0)
	msg.FromMe = true
	msg.ChatIsGroup = true
	msg.Group = &whatsapp.Identity{Number: "120363040000000000@g.us", Name: "Suporte", IsGroup: true}

	require.NoError(t, f.messages.HandleInbound(ctx, msg))

	_, err := f.stores.Contacts.GetByNumber(ctx, "5511900000000")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	group, err := f.stores.Contacts.GetByNumber(ctx, "120363040000000000")
	require.NoError(t, err)
	stored, err := f.stores.Messages.GetByID(ctx, "g2")
	require.NoError(t, err)
	assert.Nil(t, stored.ContactID)
	ticket, err := f.stores.Tickets.GetByID(ctx, stored.TicketID)
	require.NoError(t, err)
	assert.Equal(t, group.ID, ticket.ContactID)

	// translation leaves the sender empty for our own group messages
	msg.ID = "g3"
	msg.Sender = whatsapp.Identity{}
	require.NoError(t, f.messages.HandleInbound(ctx, msg))
}

func TestHandleAckRaisesLevelOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.messages.HandleInbound(ctx, inbound("m1", "5511999999999", "hi", 1)))
	sent, err := f.messages.SendText(ctx, mustTicketOf(t, f, "m1"), "hello")
	require.NoError(t, err)
	f.pub.reset()

	require.NoError(t, f.messages.HandleAck(ctx, whatsapp.Ack{MessageID: sent.ID, Level: domain.AckRead}))
	require.NoError(t, f.messages.HandleAck(ctx, whatsapp.Ack{MessageID: sent.ID, Level: domain.AckDelivered}))

	assert.Equal(t, []events.EventType{events.EventMessageAckUpdated}, f.pub.types())
	stored, err := f.stores.Messages.GetByID(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AckRead, stored.Ack)
}

func TestHandleAckDropsUnknownMessage(t *testing.T) {
	f := newFixture(t, nil)
	assert.NoError(t, f.messages.HandleAck(context.Background(), whatsapp.Ack{MessageID: "nope", Level: domain.AckRead}))
	assert.Empty(t, f.pub.types())
}

func TestSendTextPromotesAndOrdersEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.messages.HandleInbound(ctx, inbound("m1", "5511999999999", "hi", 1)))
	ticketID := mustTicketOf(t, f, "m1")
	f.pub.reset()

	msg, err := f.messages.SendText(ctx, ticketID, "  how can I help?  ")
	require.NoError(t, err)

	assert.Equal(t, "how can I help?", msg.Body)
	assert.True(t, msg.FromMe)
	assert.Equal(t, ticketID, msg.TicketID)
	assert.Equal(t, []string{"5511999999999:how can I help?"}, f.sender.sends)
	assert.Equal(t, []events.EventType{events.EventTicketStatusChanged, events.EventMessageCreated}, f.pub.types())

	ticket, err := f.stores.Tickets.GetByID(ctx, ticketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInService, ticket.Status)
	assert.Zero(t, ticket.UnreadCount)

	// The phone echoes our own send back; it must not be stored twice.
	echo := inbound(msg.ID, "5511999999999", "how can I help?", 0)
	echo.FromMe = true
	f.pub.reset()
	require.NoError(t, f.messages.HandleInbound(ctx, echo))
	assert.Empty(t, f.pub.types())
}

func TestSendTextOnClosedTicketReopensWithinWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.messages.HandleInbound(ctx, inbound("m1", "5511999999999", "hi", 1)))
	ticketID := mustTicketOf(t, f, "m1")
	f.close(t, ticketID)
	f.clock.Advance(30 * time.Minute)

	msg, err := f.messages.SendText(ctx, ticketID, "following up")
	require.NoError(t, err)
	assert.Equal(t, ticketID, msg.TicketID)
}

func TestSendTextTransportFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.messages.HandleInbound(ctx, inbound("m1", "5511999999999", "hi", 1)))
	ticketID := mustTicketOf(t, f, "m1")
	f.sender.err = errors.New("not connected")
	f.pub.reset()

	_, err := f.messages.SendText(ctx, ticketID, "hello")

	assert.True(t, apperrors.IsCode(err, apperrors.CodeTransportFailure))
	assert.Empty(t, f.pub.types())
	ticket, err := f.stores.Tickets.GetByID(ctx, ticketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusPending, ticket.Status)
}

func TestSendTextValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.messages.SendText(ctx, "missing", "hello")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	_, err = f.messages.SendText(ctx, "missing", "   ")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

type failingMessages struct {
	repository.MessageRepository
}

func (failingMessages) Upsert(context.Context, *domain.Message) (bool, error) {
	return false, errors.New("db down")
}

func TestSendTextFailureAfterDeliveryIsMarked(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.messages.HandleInbound(ctx, inbound("m1", "5511999999999", "hi", 1)))
	ticketID := mustTicketOf(t, f, "m1")

	svc := NewMessageService(MessageDependencies{
		Contacts: f.contacts,
		Resolver: f.resolver,
		Tickets:  f.stores.Tickets,
		Messages: failingMessages{f.stores.Messages},
		Sender:   f.sender,
		Claims:   f.claims,
	})
	_, err := svc.SendText(ctx, ticketID, "hello")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSentNotRecorded)
	assert.Len(t, f.sender.sends, 1)

	f.sender.err = errors.New("not connected")
	_, err = svc.SendText(ctx, ticketID, "hello again")
	assert.NotErrorIs(t, err, ErrSentNotRecorded)
}

func TestSendMediaRecordsAttachment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.messages.HandleInbound(ctx, inbound("m1", "5511999999999", "hi", 1)))
	ticketID := mustTicketOf(t, f, "m1")
	f.pub.reset()

	msg, err := f.messages.SendMedia(ctx, ticketID, whatsapp.OutboundMedia{
		Data:     []byte("%PDF-1.4"),
		Mimetype: "application/pdf",
		FileName: "boleto.pdf",
	})
	require.NoError(t, err)

	assert.Equal(t, "document", msg.MediaType)
	assert.Equal(t, msg.ID+".bin", msg.MediaURL)
	assert.True(t, msg.FromMe)
	assert.Equal(t, []string{"5511999999999:document:boleto.pdf"}, f.sender.sends)
	assert.Equal(t, []events.EventType{events.EventTicketStatusChanged, events.EventMessageCreated}, f.pub.types())

	ticket, err := f.stores.Tickets.GetByID(ctx, ticketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInService, ticket.Status)
	assert.Equal(t, "[document]", ticket.LastMessagePreview)

	captioned, err := f.messages.SendMedia(ctx, ticketID, whatsapp.OutboundMedia{
		Data:     []byte{0xff, 0xd8},
		Mimetype: "image/jpeg",
		Caption:  " segue o comprovante ",
	})
	require.NoError(t, err)
	assert.Equal(t, "image", captioned.MediaType)
	assert.Equal(t, "segue o comprovante", captioned.Body)
	ticket, err = f.stores.Tickets.GetByID(ctx, ticketID)
	require.NoError(t, err)
	assert.Equal(t, "segue o comprovante", ticket.LastMessagePreview)
}

func TestSendMediaValidationAndTransportFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.messages.HandleInbound(ctx, inbound("m1", "5511999999999", "hi", 1)))
	ticketID := mustTicketOf(t, f, "m1")

	_, err := f.messages.SendMedia(ctx, ticketID, whatsapp.OutboundMedia{Mimetype: "image/png"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	_, err = f.messages.SendMedia(ctx, "missing", whatsapp.OutboundMedia{Data: []byte("x")})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	f.sender.err = errors.New("not connected")
	_, err = f.messages.SendMedia(ctx, ticketID, whatsapp.OutboundMedia{Data: []byte("x"), Mimetype: "audio/ogg"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTransportFailure))
}

func TestListByTicket(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.messages.HandleInbound(ctx, inbound("m1", "5511999999999", "one", 1)))
	f.clock.Advance(time.Second)
	require.NoError(t, f.messages.HandleInbound(ctx, inbound("m2", "5511999999999", "two", 2)))

	msgs, err := f.messages.ListByTicket(ctx, mustTicketOf(t, f, "m1"), 50, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)

	_, err = f.messages.ListByTicket(ctx, "missing", 50, 0)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func mustTicketOf(t *testing.T, f *fixture, messageID string) string {
	t.Helper()
	msg, err := f.stores.Messages.GetByID(context.Background(), messageID)
	require.NoError(t, err)
	return msg.TicketID
}
