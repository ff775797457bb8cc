package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketUpdated       EventType = "ticket_updated"
	EventTicketDeleted       EventType = "ticket_deleted"
	EventMessageCreated      EventType = "message_created"
	EventMessageAckUpdated   EventType = "message_ack_updated"
)

// AllTypes lists every event type, in declaration order.
func AllTypes() []EventType {
	return []EventType{
		EventTicketCreated,
		EventTicketStatusChanged,
		EventTicketUpdated,
		EventTicketDeleted,
		EventMessageCreated,
		EventMessageAckUpdated,
	}
}

// Event represents a domain event emitted by services. ActorID is the agent
// behind the change, nil for changes driven by the messaging pipeline.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	ActorID   *string     `json:"actor_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with an id and the current time.
func New(eventType EventType, ticketID string, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// TicketPayload accompanies ticket created, updated and status changed events.
// OldStatus is only set for status changes.
type TicketPayload struct {
	Ticket    *domain.Ticket      `json:"ticket"`
	Contact   *domain.Contact     `json:"contact,omitempty"`
	OldStatus domain.TicketStatus `json:"old_status,omitempty"`
}

// TicketDeletedPayload carries the status the ticket had when it was removed.
type TicketDeletedPayload struct {
	TicketID string              `json:"ticket_id"`
	Status   domain.TicketStatus `json:"status"`
}

// MessagePayload accompanies message created and ack updated events.
type MessagePayload struct {
	Message *domain.Message `json:"message"`
	Ticket  *domain.Ticket  `json:"ticket,omitempty"`
	Contact *domain.Contact `json:"contact,omitempty"`
}
