package realtime

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Server-to-client event names.
const (
	EventTicket     = "ticket"
	EventAppMessage = "appMessage"
)

// Client-to-server control event names.
const (
	ControlJoinTickets      = "joinTickets"
	ControlLeaveTickets     = "leaveTickets"
	ControlJoinChatBox      = "joinChatBox"
	ControlLeaveChatBox     = "leaveChatBox"
	ControlJoinNotification = "joinNotification"
	ControlRefreshAuth      = "refresh-auth"
)

// Actions carried inside frames.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// NotificationRoom receives every ticket change and every inbound message.
const NotificationRoom = "notification"

// StatusRoom names the room for dashboards listing tickets in status s.
func StatusRoom(s domain.TicketStatus) string {
	return "status:" + string(s)
}

// TicketRoom names the room for the chat view of one ticket.
func TicketRoom(ticketID string) string {
	return "ticket:" + ticketID
}

// Frame is the envelope for every socket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TicketFrameData is the data of a "ticket" frame. Ticket is omitted on
// delete; Status then names the column being vacated and UpdatedAt the
// moment the ticket left it.
type TicketFrameData struct {
	Action    string      `json:"action"`
	TicketID  string      `json:"ticketId"`
	Status    string      `json:"status,omitempty"`
	UpdatedAt *time.Time  `json:"updatedAt,omitempty"`
	Ticket    *TicketView `json:"ticket,omitempty"`
}

// MessageFrameData is the data of an "appMessage" frame.
type MessageFrameData struct {
	Action  string       `json:"action"`
	Message *MessageView `json:"message"`
	Ticket  *TicketView  `json:"ticket,omitempty"`
	Contact *ContactView `json:"contact,omitempty"`
}

// TicketView is the dashboard shape of a ticket; Status is the wire label.
type TicketView struct {
	ID             string       `json:"id"`
	Status         string       `json:"status"`
	ContactID      string       `json:"contactId"`
	ChannelID      string       `json:"channelId"`
	UserID         *string      `json:"userId"`
	UnreadMessages int          `json:"unreadMessages"`
	IsGroup        bool         `json:"isGroup"`
	LastMessage    string       `json:"lastMessage"`
	Contact        *ContactView `json:"contact,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// ContactView is the dashboard shape of a contact.
type ContactView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Number        string `json:"number"`
	ProfilePicURL string `json:"profilePicUrl"`
	IsGroup       bool   `json:"isGroup"`
}

// MessageView is the chat shape of a message.
type MessageView struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticketId"`
	ContactID *string   `json:"contactId"`
	Body      string    `json:"body"`
	FromMe    bool      `json:"fromMe"`
	Read      bool      `json:"read"`
	MediaType string    `json:"mediaType,omitempty"`
	MediaURL  string    `json:"mediaUrl,omitempty"`
	Ack       int       `json:"ack"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTicketView converts a ticket for the wire. contact may be nil.
func NewTicketView(t *domain.Ticket, contact *domain.Contact) *TicketView {
	if t == nil {
		return nil
	}
	return &TicketView{
		ID:             t.ID,
		Status:         t.Status.Label(),
		ContactID:      t.ContactID,
		ChannelID:      t.ChannelID,
		UserID:         t.AssignedUserID,
		UnreadMessages: t.UnreadCount,
		IsGroup:        t.IsGroup,
		LastMessage:    t.LastMessagePreview,
		Contact:        NewContactView(contact),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

// NewContactView converts a contact for the wire.
func NewContactView(c *domain.Contact) *ContactView {
	if c == nil {
		return nil
	}
	return &ContactView{
		ID:            c.ID,
		Name:          c.Name,
		Number:        c.Number,
		ProfilePicURL: c.AvatarURL,
		IsGroup:       c.IsGroup,
	}
}

// NewMessageView converts a message for the wire.
func NewMessageView(m *domain.Message) *MessageView {
	if m == nil {
		return nil
	}
	return &MessageView{
		ID:        m.ID,
		TicketID:  m.TicketID,
		ContactID: m.ContactID,
		Body:      m.Body,
		FromMe:    m.FromMe,
		Read:      m.Read,
		MediaType: m.MediaType,
		MediaURL:  m.MediaURL,
		Ack:       int(m.Ack),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// EncodeFrame marshals data into a frame envelope.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
