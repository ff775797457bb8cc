package domain

import "time"

// AckLevel is the delivery state reported by WhatsApp for an outbound message.
type AckLevel int

const (
	AckPending AckLevel = iota
	AckServer
	AckDelivered
	AckRead
	AckPlayed
)

// Message is a single WhatsApp message attached to a ticket. ID is the
// transport's message id, which makes persistence idempotent.
type Message struct {
	ID        string
	TicketID  string
	ContactID *string
	Body      string
	FromMe    bool
	Read      bool
	MediaType string
	MediaURL  string
	Ack       AckLevel
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Preview trims a body down to what the ticket list shows.
func Preview(body string) string {
	const max = 255
	r := []rune(body)
	if len(r) <= max {
		return body
	}
	return string(r[:max])
}
