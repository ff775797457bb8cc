package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/clock"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/idempotency"
	"github.com/spec-kit/helpdesk-service/internal/keylock"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/whatsapp"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fakeSender struct {
	mu    sync.Mutex
	next  int
	err   error
	sends []string
}

func (s *fakeSender) SendText(_ context.Context, _ string, to whatsapp.Identity, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.next++
	s.sends = append(s.sends, to.Number+":"+body)
	return fmt.Sprintf("sent-%d", s.next), nil
}

func (s *fakeSender) SendMedia(_ context.Context, _ string, to whatsapp.Identity, media whatsapp.OutboundMedia) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", "", s.err
	}
	s.next++
	s.sends = append(s.sends, to.Number+":"+media.Kind()+":"+media.FileName)
	id := fmt.Sprintf("sent-%d", s.next)
	return id, id + ".bin", nil
}

type fixture struct {
	clock    *clock.FakeClock
	stores   repository.Stores
	pub      *recordingPublisher
	metrics  *observability.Metrics
	guard    *keylock.Guard
	claims   *idempotency.MemoryStore
	sender   *fakeSender
	resolver *Resolver
	contacts *ContactService
	messages *MessageService
	tickets  *TicketService
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, logger *zap.Logger) *fixture {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &fixture{
		clock:   clock.Fake(epoch),
		pub:     &recordingPublisher{},
		metrics: observability.NewMetrics(),
		sender:  &fakeSender{},
	}
	f.stores = repository.NewMemoryStores(f.clock)
	f.guard = keylock.New(keylock.Options{Clock: f.clock, Logger: logger})
	f.claims = idempotency.NewMemoryStore(f.clock)
	f.resolver = NewResolver(ResolverDependencies{
		Tickets:   f.stores.Tickets,
		History:   f.stores.History,
		Guard:     f.guard,
		Publisher: f.pub,
		Clock:     f.clock,
		Logger:    logger,
		Metrics:   f.metrics,
	})
	f.contacts = NewContactService(f.stores.Contacts)
	f.messages = NewMessageService(MessageDependencies{
		Contacts:  f.contacts,
		Resolver:  f.resolver,
		Tickets:   f.stores.Tickets,
		Messages:  f.stores.Messages,
		Sender:    f.sender,
		Claims:    f.claims,
		Publisher: f.pub,
		Logger:    logger,
	})
	f.tickets = NewTicketService(TicketDependencies{
		TicketRepo:  f.stores.Tickets,
		MessageRepo: f.stores.Messages,
		ContactRepo: f.stores.Contacts,
		UserRepo:    f.stores.Users,
		HistoryRepo: f.stores.History,
		Guard:       f.guard,
		Publisher:   f.pub,
		Logger:      logger,
	})
	return f
}

func (f *fixture) contact(t *testing.T, number string) *domain.Contact {
	t.Helper()
	c, err := f.contacts.Upsert(context.Background(), ContactIdentity{Number: number})
	require.NoError(t, err)
	return c
}

func (f *fixture) groupContact(t *testing.T, id string) *domain.Contact {
	t.Helper()
	c, err := f.contacts.Upsert(context.Background(), ContactIdentity{Number: id, IsGroup: true})
	require.NoError(t, err)
	return c
}

func (f *fixture) resolve(t *testing.T, req ResolveRequest) *ResolveResult {
	t.Helper()
	res, err := f.resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	return res
}

// close moves a ticket straight to closed in storage, stamping the current
// fake time as its updatedAt.
func (f *fixture) close(t *testing.T, ticketID string) {
	t.Helper()
	ctx := context.Background()
	ticket, err := f.stores.Tickets.GetByID(ctx, ticketID)
	require.NoError(t, err)
	ticket.Status = domain.TicketStatusClosed
	require.NoError(t, f.stores.Tickets.Update(ctx, ticket))
}
