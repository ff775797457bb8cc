package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TicketFilter captures agent search parameters.
type TicketFilter struct {
	ContactID      *string
	ChannelID      *string
	AssignedUserID *string
	Statuses       []domain.TicketStatus
	SearchTerm     *string
	UpdatedFrom    *time.Time
	Limit          int
	Offset         int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	// Update writes every mutable column and refreshes UpdatedAt in place.
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	Delete(ctx context.Context, id string) error
	// FindActive returns the tickets of a contact on a channel whose status is
	// in statuses, most recently updated first.
	FindActive(ctx context.Context, contactID, channelID string, statuses []domain.TicketStatus) ([]domain.Ticket, error)
	// FindLatestClosed returns the most recently updated closed ticket. A nil
	// since means no lower bound on updatedAt; otherwise updatedAt >= *since.
	FindLatestClosed(ctx context.Context, contactID, channelID string, since *time.Time) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

const ticketColumns = `id, contact_id, channel_id, status, assigned_user_id, unread_count,
               is_group, last_message_preview, created_at, updated_at`

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (contact_id, channel_id, status, assigned_user_id, unread_count, is_group, last_message_preview)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.ContactID,
		ticket.ChannelID,
		ticket.Status,
		ticket.AssignedUserID,
		ticket.UnreadCount,
		ticket.IsGroup,
		ticket.LastMessagePreview,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
	return mapErr(err)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET status=$1, assigned_user_id=$2, unread_count=$3, is_group=$4,
            last_message_preview=$5, updated_at=NOW()
        WHERE id=$6
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.Status,
		ticket.AssignedUserID,
		ticket.UnreadCount,
		ticket.IsGroup,
		ticket.LastMessagePreview,
		ticket.ID,
	).Scan(&ticket.UpdatedAt)
	return mapErr(err)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := scanTicket(r.pool.QueryRow(ctx, query, id), &ticket); err != nil {
		return nil, mapErr(err)
	}
	return &ticket, nil
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) FindActive(ctx context.Context, contactID, channelID string, statuses []domain.TicketStatus) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
             FROM tickets
             WHERE contact_id=$1 AND channel_id=$2 AND status = ANY($3)
             ORDER BY updated_at DESC`
	rows, err := r.pool.Query(ctx, query, contactID, channelID, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) FindLatestClosed(ctx context.Context, contactID, channelID string, since *time.Time) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
             FROM tickets
             WHERE contact_id=$1 AND channel_id=$2 AND status=$3
               AND ($4::timestamptz IS NULL OR updated_at >= $4::timestamptz)
             ORDER BY updated_at DESC
             LIMIT 1`
	var ticket domain.Ticket
	if err := scanTicket(r.pool.QueryRow(ctx, query, contactID, channelID, domain.TicketStatusClosed, since), &ticket); err != nil {
		return nil, mapErr(err)
	}
	return &ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT ` + ticketColumns + ` FROM tickets`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.ContactID != nil {
		args = append(args, *filter.ContactID)
		clauses = append(clauses, fmt.Sprintf("contact_id=$%d", len(args)))
	}
	if filter.ChannelID != nil {
		args = append(args, *filter.ChannelID)
		clauses = append(clauses, fmt.Sprintf("channel_id=$%d", len(args)))
	}
	if filter.AssignedUserID != nil {
		args = append(args, *filter.AssignedUserID)
		clauses = append(clauses, fmt.Sprintf("assigned_user_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, statusStrings(filter.Statuses))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.UpdatedFrom != nil {
		args = append(args, *filter.UpdatedFrom)
		clauses = append(clauses, fmt.Sprintf("updated_at >= $%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		clauses = append(clauses, fmt.Sprintf("LOWER(last_message_preview) LIKE $%d", len(args)))
	}

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`%s WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func statusStrings(statuses []domain.TicketStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.ContactID,
		&ticket.ChannelID,
		&ticket.Status,
		&ticket.AssignedUserID,
		&ticket.UnreadCount,
		&ticket.IsGroup,
		&ticket.LastMessagePreview,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
