package dto

import "time"

// MessageResponse is one message of a ticket thread.
type MessageResponse struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	ContactID *string   `json:"contact_id"`
	Body      string    `json:"body"`
	FromMe    bool      `json:"from_me"`
	Read      bool      `json:"read"`
	MediaType string    `json:"media_type,omitempty"`
	MediaURL  string    `json:"media_url,omitempty"`
	Ack       int       `json:"ack"`
	CreatedAt time.Time `json:"created_at"`
}

// SendMessageRequest payload.
type SendMessageRequest struct {
	Body string `json:"body"`
}

// ScheduleMessageRequest payload.
type ScheduleMessageRequest struct {
	Body   string    `json:"body"`
	SendAt time.Time `json:"send_at"`
}

// ScheduleMessageResponse acknowledges a queued send.
type ScheduleMessageResponse struct {
	TaskID string    `json:"task_id"`
	SendAt time.Time `json:"send_at"`
}
