package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// ContactRepository persists WhatsApp contacts.
type ContactRepository interface {
	// Upsert creates the contact or refreshes it by number in one atomic step.
	// Empty Name/AvatarURL leave stored values untouched; a new contact with no
	// name is named after its number. The passed contact is filled in place.
	Upsert(ctx context.Context, contact *domain.Contact) error
	GetByID(ctx context.Context, id string) (*domain.Contact, error)
	GetByNumber(ctx context.Context, number string) (*domain.Contact, error)
}

type contactRepository struct {
	pool *pgxpool.Pool
}

// NewContactRepository returns a Postgres-backed implementation.
func NewContactRepository(pool *pgxpool.Pool) ContactRepository {
	return &contactRepository{pool: pool}
}

func (r *contactRepository) Upsert(ctx context.Context, contact *domain.Contact) error {
	const query = `
        INSERT INTO contacts (number, name, avatar_url, is_group)
        VALUES ($1::text, COALESCE(NULLIF($2::text, ''), $1::text), $3::text, $4)
        ON CONFLICT (number) DO UPDATE SET
            name = CASE WHEN $2::text <> '' THEN $2::text ELSE contacts.name END,
            avatar_url = CASE WHEN $3::text <> '' THEN $3::text ELSE contacts.avatar_url END,
            is_group = contacts.is_group OR EXCLUDED.is_group,
            updated_at = NOW()
        RETURNING id, name, avatar_url, is_group, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		contact.Number,
		contact.Name,
		contact.AvatarURL,
		contact.IsGroup,
	).Scan(&contact.ID, &contact.Name, &contact.AvatarURL, &contact.IsGroup, &contact.CreatedAt, &contact.UpdatedAt)
	return mapErr(err)
}

func (r *contactRepository) GetByID(ctx context.Context, id string) (*domain.Contact, error) {
	const query = `
        SELECT id, number, name, avatar_url, is_group, created_at, updated_at
        FROM contacts WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *contactRepository) GetByNumber(ctx context.Context, number string) (*domain.Contact, error) {
	const query = `
        SELECT id, number, name, avatar_url, is_group, created_at, updated_at
        FROM contacts WHERE number=$1`
	return r.fetchSingle(ctx, query, number)
}

func (r *contactRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Contact, error) {
	var c domain.Contact
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&c.ID,
		&c.Number,
		&c.Name,
		&c.AvatarURL,
		&c.IsGroup,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}
