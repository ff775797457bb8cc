package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// MessageRepository manages ticket thread messages. Message ids come from
// the transport, so Upsert is idempotent per id.
type MessageRepository interface {
	// Upsert inserts the message or refreshes body, media and ack when the
	// id already exists. created reports whether a new row was written.
	Upsert(ctx context.Context, msg *domain.Message) (created bool, err error)
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	// UpdateAck raises the ack level; receipts arriving out of order never lower it.
	UpdateAck(ctx context.Context, id string, ack domain.AckLevel) (*domain.Message, error)
	MarkTicketRead(ctx context.Context, ticketID string) error
	ListByTicket(ctx context.Context, ticketID string, limit, offset int) ([]domain.Message, error)
}

const messageColumns = `id, ticket_id, contact_id, body, from_me, read, media_type, media_url, ack, created_at, updated_at`

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

func (r *messageRepository) Upsert(ctx context.Context, msg *domain.Message) (bool, error) {
	const query = `
        INSERT INTO messages (id, ticket_id, contact_id, body, from_me, read, media_type, media_url, ack)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (id) DO UPDATE SET
            body = EXCLUDED.body,
            media_type = EXCLUDED.media_type,
            media_url = EXCLUDED.media_url,
            ack = GREATEST(messages.ack, EXCLUDED.ack),
            updated_at = NOW()
        RETURNING created_at, updated_at, ack, (xmax = 0) AS inserted`
	var inserted bool
	err := r.pool.QueryRow(ctx, query,
		msg.ID,
		msg.TicketID,
		msg.ContactID,
		msg.Body,
		msg.FromMe,
		msg.Read,
		msg.MediaType,
		msg.MediaURL,
		msg.Ack,
	).Scan(&msg.CreatedAt, &msg.UpdatedAt, &msg.Ack, &inserted)
	if err != nil {
		return false, mapErr(err)
	}
	return inserted, nil
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	var msg domain.Message
	if err := scanMessage(r.pool.QueryRow(ctx, query, id), &msg); err != nil {
		return nil, mapErr(err)
	}
	return &msg, nil
}

func (r *messageRepository) UpdateAck(ctx context.Context, id string, ack domain.AckLevel) (*domain.Message, error) {
	query := `UPDATE messages SET ack=GREATEST(ack, $1), updated_at=NOW() WHERE id=$2 RETURNING ` + messageColumns
	var msg domain.Message
	if err := scanMessage(r.pool.QueryRow(ctx, query, ack, id), &msg); err != nil {
		return nil, mapErr(err)
	}
	return &msg, nil
}

func (r *messageRepository) MarkTicketRead(ctx context.Context, ticketID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE messages SET read=TRUE, updated_at=NOW() WHERE ticket_id=$1 AND read=FALSE`, ticketID)
	return err
}

func (r *messageRepository) ListByTicket(ctx context.Context, ticketID string, limit, offset int) ([]domain.Message, error) {
	limit, offset = normalizePage(limit, offset)
	query := `SELECT ` + messageColumns + `
             FROM messages WHERE ticket_id=$1
             ORDER BY created_at ASC
             LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, ticketID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner, msg *domain.Message) error {
	return row.Scan(
		&msg.ID,
		&msg.TicketID,
		&msg.ContactID,
		&msg.Body,
		&msg.FromMe,
		&msg.Read,
		&msg.MediaType,
		&msg.MediaURL,
		&msg.Ack,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
}
