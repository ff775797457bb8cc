package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-service/internal/clock"
	"github.com/spec-kit/helpdesk-service/internal/domain"
)

type memoryContactRepository struct {
	mu       sync.Mutex
	clock    clock.Clock
	byID     map[string]*domain.Contact
	byNumber map[string]string
}

// NewMemoryContactRepository returns a process-local ContactRepository.
func NewMemoryContactRepository(c clock.Clock) ContactRepository {
	return &memoryContactRepository{
		clock:    c,
		byID:     make(map[string]*domain.Contact),
		byNumber: make(map[string]string),
	}
}

func (r *memoryContactRepository) Upsert(_ context.Context, contact *domain.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if id, ok := r.byNumber[contact.Number]; ok {
		stored := r.byID[id]
		if contact.Name != "" {
			stored.Name = contact.Name
		}
		if contact.AvatarURL != "" {
			stored.AvatarURL = contact.AvatarURL
		}
		stored.IsGroup = stored.IsGroup || contact.IsGroup
		stored.UpdatedAt = now
		*contact = *stored
		return nil
	}

	stored := *contact
	stored.ID = uuid.NewString()
	if stored.Name == "" {
		stored.Name = stored.Number
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.byID[stored.ID] = &stored
	r.byNumber[stored.Number] = stored.ID
	*contact = stored
	return nil
}

func (r *memoryContactRepository) GetByID(_ context.Context, id string) (*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memoryContactRepository) GetByNumber(_ context.Context, number string) (*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byNumber[number]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

type memoryTicketRepository struct {
	mu      sync.Mutex
	clock   clock.Clock
	tickets map[string]*domain.Ticket
}

// NewMemoryTicketRepository returns a process-local TicketRepository that
// enforces the same one-active-ticket constraint as the Postgres schema.
func NewMemoryTicketRepository(c clock.Clock) TicketRepository {
	return &memoryTicketRepository{clock: c, tickets: make(map[string]*domain.Ticket)}
}

func (r *memoryTicketRepository) conflictLocked(t *domain.Ticket) bool {
	if t.Status == domain.TicketStatusClosed {
		return false
	}
	for _, other := range r.tickets {
		if other.ID != t.ID && other.ContactID == t.ContactID && other.ChannelID == t.ChannelID &&
			other.Status != domain.TicketStatusClosed {
			return true
		}
	}
	return false
}

func (r *memoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflictLocked(ticket) {
		return ErrActiveTicketExists
	}
	now := r.clock.Now()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	r.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r *memoryTicketRepository) Update(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return ErrNotFound
	}
	if r.conflictLocked(ticket) {
		return ErrActiveTicketExists
	}
	ticket.CreatedAt = stored.CreatedAt
	ticket.ContactID = stored.ContactID
	ticket.ChannelID = stored.ChannelID
	ticket.UpdatedAt = r.clock.Now()
	r.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r *memoryTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (r *memoryTicketRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[id]; !ok {
		return ErrNotFound
	}
	delete(r.tickets, id)
	return nil
}

func (r *memoryTicketRepository) FindActive(_ context.Context, contactID, channelID string, statuses []domain.TicketStatus) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Ticket
	for _, t := range r.tickets {
		if t.ContactID == contactID && t.ChannelID == channelID && hasStatus(statuses, t.Status) {
			out = append(out, *t.Clone())
		}
	}
	sortByUpdatedDesc(out)
	return out, nil
}

func (r *memoryTicketRepository) FindLatestClosed(_ context.Context, contactID, channelID string, since *time.Time) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Ticket
	for _, t := range r.tickets {
		if t.ContactID != contactID || t.ChannelID != channelID || t.Status != domain.TicketStatusClosed {
			continue
		}
		if since != nil && t.UpdatedAt.Before(*since) {
			continue
		}
		if best == nil || t.UpdatedAt.After(best.UpdatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

func (r *memoryTicketRepository) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	var out []domain.Ticket
	for _, t := range r.tickets {
		if filter.ContactID != nil && t.ContactID != *filter.ContactID {
			continue
		}
		if filter.ChannelID != nil && t.ChannelID != *filter.ChannelID {
			continue
		}
		if filter.AssignedUserID != nil && (t.AssignedUserID == nil || *t.AssignedUserID != *filter.AssignedUserID) {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, t.Status) {
			continue
		}
		if filter.UpdatedFrom != nil && t.UpdatedAt.Before(*filter.UpdatedFrom) {
			continue
		}
		if filter.SearchTerm != nil {
			term := strings.ToLower(strings.TrimSpace(*filter.SearchTerm))
			if term != "" && !strings.Contains(strings.ToLower(t.LastMessagePreview), term) {
				continue
			}
		}
		out = append(out, *t.Clone())
	}
	r.mu.Unlock()

	sortByUpdatedDesc(out)
	limit, offset := normalizePage(filter.Limit, filter.Offset)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasStatus(statuses []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func sortByUpdatedDesc(tickets []domain.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		if tickets[i].UpdatedAt.Equal(tickets[j].UpdatedAt) {
			return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
		}
		return tickets[i].UpdatedAt.After(tickets[j].UpdatedAt)
	})
}

type memoryMessageRepository struct {
	mu       sync.Mutex
	clock    clock.Clock
	messages map[string]*domain.Message
}

// NewMemoryMessageRepository returns a process-local MessageRepository.
func NewMemoryMessageRepository(c clock.Clock) MessageRepository {
	return &memoryMessageRepository{clock: c, messages: make(map[string]*domain.Message)}
}

func (r *memoryMessageRepository) Upsert(_ context.Context, msg *domain.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	if stored, ok := r.messages[msg.ID]; ok {
		stored.Body = msg.Body
		stored.MediaType = msg.MediaType
		stored.MediaURL = msg.MediaURL
		if msg.Ack > stored.Ack {
			stored.Ack = msg.Ack
		}
		stored.UpdatedAt = now
		*msg = *stored
		return false, nil
	}
	stored := *msg
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.messages[msg.ID] = &stored
	*msg = stored
	return true, nil
}

func (r *memoryMessageRepository) GetByID(_ context.Context, id string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memoryMessageRepository) UpdateAck(_ context.Context, id string, ack domain.AckLevel) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	if ack > m.Ack {
		m.Ack = ack
	}
	m.UpdatedAt = r.clock.Now()
	cp := *m
	return &cp, nil
}

func (r *memoryMessageRepository) MarkTicketRead(_ context.Context, ticketID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.TicketID == ticketID && !m.Read {
			m.Read = true
			m.UpdatedAt = r.clock.Now()
		}
	}
	return nil
}

func (r *memoryMessageRepository) ListByTicket(_ context.Context, ticketID string, limit, offset int) ([]domain.Message, error) {
	r.mu.Lock()
	var out []domain.Message
	for _, m := range r.messages {
		if m.TicketID == ticketID {
			out = append(out, *m)
		}
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	limit, offset = normalizePage(limit, offset)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryUserRepository struct {
	mu    sync.Mutex
	clock clock.Clock
	users map[string]*domain.User
}

// NewMemoryUserRepository returns a process-local UserRepository.
func NewMemoryUserRepository(c clock.Clock) UserRepository {
	return &memoryUserRepository{clock: c, users: make(map[string]*domain.User)}
}

func (r *memoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicateEmail
		}
	}
	now := r.clock.Now()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

type memoryTicketHistoryRepository struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries []domain.TicketHistory
}

// NewMemoryTicketHistoryRepository returns a process-local TicketHistoryRepository.
func NewMemoryTicketHistoryRepository(c clock.Clock) TicketHistoryRepository {
	return &memoryTicketHistoryRepository{clock: c}
}

func (r *memoryTicketHistoryRepository) Create(_ context.Context, history *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	history.ID = uuid.NewString()
	history.CreatedAt = r.clock.Now()
	r.entries = append(r.entries, *history)
	return nil
}

func (r *memoryTicketHistoryRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TicketHistory
	for _, h := range r.entries {
		if h.TicketID == ticketID {
			out = append(out, h)
		}
	}
	return out, nil
}
