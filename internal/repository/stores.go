package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/clock"
)

var (
	// ErrNotFound is returned by every backend when a row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrActiveTicketExists is returned when a write would leave two
	// non-closed tickets for the same contact and channel.
	ErrActiveTicketExists = errors.New("repository: active ticket already exists for contact")
	// ErrDuplicateEmail is returned when an agent email is already registered.
	ErrDuplicateEmail = errors.New("repository: email already registered")
)

const uniqueViolation = "23505"

// Stores bundles every repository behind one backend.
type Stores struct {
	Contacts ContactRepository
	Tickets  TicketRepository
	Messages MessageRepository
	Users    UserRepository
	History  TicketHistoryRepository
}

// NewPostgresStores builds pgx-backed repositories.
func NewPostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Contacts: NewContactRepository(pool),
		Tickets:  NewTicketRepository(pool),
		Messages: NewMessageRepository(pool),
		Users:    NewUserRepository(pool),
		History:  NewTicketHistoryRepository(pool),
	}
}

// NewMemoryStores builds process-local repositories sharing one clock for
// timestamps. Used when no database is configured and throughout tests.
func NewMemoryStores(c clock.Clock) Stores {
	if c == nil {
		c = clock.Real()
	}
	return Stores{
		Contacts: NewMemoryContactRepository(c),
		Tickets:  NewMemoryTicketRepository(c),
		Messages: NewMemoryMessageRepository(c),
		Users:    NewMemoryUserRepository(c),
		History:  NewMemoryTicketHistoryRepository(c),
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "tickets_one_active_per_contact":
			return ErrActiveTicketExists
		case "users_email_key":
			return ErrDuplicateEmail
		}
	}
	return err
}
