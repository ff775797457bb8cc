package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
)

// Subscriber is one connected client. Send must not block for long; slow
// clients are expected to drop themselves.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
}

// Hub tracks room membership and fans ticket and message events out to
// subscribed clients. Safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]Subscriber
	rooms    map[string]map[string]Subscriber // room -> subscriberID -> subscriber
	subRooms map[string]map[string]struct{}   // subscriberID -> rooms

	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewHub constructs an empty Hub.
func NewHub(logger *zap.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:     make(map[string]Subscriber),
		rooms:    make(map[string]map[string]Subscriber),
		subRooms: make(map[string]map[string]struct{}),
		logger:   logger,
		metrics:  metrics,
	}
}

// Register subscribes the hub to every event type on the dispatcher.
func (h *Hub) Register(d events.Dispatcher) {
	for _, et := range events.AllTypes() {
		d.Subscribe(et, h.Publish)
	}
}

// Attach starts tracking a subscriber and joins it to the notification room.
func (h *Hub) Attach(sub Subscriber) {
	h.mu.Lock()
	h.subs[sub.ID()] = sub
	if h.subRooms[sub.ID()] == nil {
		h.subRooms[sub.ID()] = make(map[string]struct{})
	}
	h.joinLocked(sub.ID(), NotificationRoom)
	h.mu.Unlock()
}

// Detach drops a subscriber from every room.
func (h *Hub) Detach(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.subRooms[subscriberID] {
		h.leaveLocked(subscriberID, room)
	}
	delete(h.subRooms, subscriberID)
	delete(h.subs, subscriberID)
}

// Join adds an attached subscriber to room. Joining twice is a no-op.
func (h *Hub) Join(subscriberID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(subscriberID, room)
}

// Leave removes a subscriber from room. Leaving a room not joined is a no-op.
func (h *Hub) Leave(subscriberID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(subscriberID, room)
}

// Rooms lists the rooms a subscriber is in.
func (h *Hub) Rooms(subscriberID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subRooms[subscriberID]))
	for room := range h.subRooms[subscriberID] {
		out = append(out, room)
	}
	return out
}

// Members counts the subscribers in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) joinLocked(subscriberID, room string) {
	sub, ok := h.subs[subscriberID]
	if !ok {
		return
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]Subscriber)
		h.rooms[room] = members
	}
	members[subscriberID] = sub

	memberships := h.subRooms[subscriberID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		h.subRooms[subscriberID] = memberships
	}
	memberships[room] = struct{}{}
}

func (h *Hub) leaveLocked(subscriberID, room string) {
	members := h.rooms[room]
	if members != nil {
		delete(members, subscriberID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if memberships, ok := h.subRooms[subscriberID]; ok {
		delete(memberships, room)
	}
}

// Emit delivers one frame to every subscriber in the union of rooms, at most
// once per subscriber. It returns the number of successful deliveries. A
// failed delivery is logged and never affects the others.
func (h *Hub) Emit(rooms []string, event string, data any) int {
	payload, err := EncodeFrame(event, data)
	if err != nil {
		h.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make(map[string]Subscriber)
	for _, room := range rooms {
		for id, sub := range h.rooms[room] {
			targets[id] = sub
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for id, sub := range targets {
		if err := sub.Send(payload); err != nil {
			h.metrics.RecordFanout(event, false)
			h.logger.Warn("fanout delivery failed",
				zap.String("subscriber_id", id),
				zap.String("event", event),
				zap.Strings("rooms", rooms),
				zap.Error(err))
			continue
		}
		h.metrics.RecordFanout(event, true)
		delivered++
	}
	return delivered
}

// Publish routes a domain event to rooms. It never fails because of a
// subscriber; only a malformed event returns an error.
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	switch event.Type {
	case events.EventTicketCreated:
		p, ok := event.Payload.(events.TicketPayload)
		if !ok || p.Ticket == nil {
			return malformed(event)
		}
		h.Emit([]string{StatusRoom(p.Ticket.Status), NotificationRoom}, EventTicket, TicketFrameData{
			Action:   ActionCreate,
			TicketID: p.Ticket.ID,
			Ticket:   NewTicketView(p.Ticket, p.Contact),
		})

	case events.EventTicketStatusChanged:
		p, ok := event.Payload.(events.TicketPayload)
		if !ok || p.Ticket == nil {
			return malformed(event)
		}
		view := NewTicketView(p.Ticket, p.Contact)
		// Order matters: dashboards must drop the card from the old column
		// before it shows up in the new one.
		if p.OldStatus != "" && p.OldStatus != p.Ticket.Status {
			left := p.Ticket.UpdatedAt
			h.Emit([]string{StatusRoom(p.OldStatus)}, EventTicket, TicketFrameData{
				Action:    ActionDelete,
				TicketID:  p.Ticket.ID,
				Status:    p.OldStatus.Label(),
				UpdatedAt: &left,
			})
		}
		h.Emit([]string{StatusRoom(p.Ticket.Status)}, EventTicket, TicketFrameData{
			Action:   ActionCreate,
			TicketID: p.Ticket.ID,
			Ticket:   view,
		})
		h.Emit([]string{NotificationRoom}, EventTicket, TicketFrameData{
			Action:   ActionUpdate,
			TicketID: p.Ticket.ID,
			Ticket:   view,
		})

	case events.EventTicketUpdated:
		p, ok := event.Payload.(events.TicketPayload)
		if !ok || p.Ticket == nil {
			return malformed(event)
		}
		h.Emit([]string{StatusRoom(p.Ticket.Status), NotificationRoom}, EventTicket, TicketFrameData{
			Action:   ActionUpdate,
			TicketID: p.Ticket.ID,
			Ticket:   NewTicketView(p.Ticket, p.Contact),
		})

	case events.EventTicketDeleted:
		p, ok := event.Payload.(events.TicketDeletedPayload)
		if !ok || p.TicketID == "" {
			return malformed(event)
		}
		at := event.Timestamp
		h.Emit([]string{StatusRoom(p.Status), TicketRoom(p.TicketID), NotificationRoom}, EventTicket, TicketFrameData{
			Action:    ActionDelete,
			TicketID:  p.TicketID,
			Status:    p.Status.Label(),
			UpdatedAt: &at,
		})

	case events.EventMessageCreated:
		p, ok := event.Payload.(events.MessagePayload)
		if !ok || p.Message == nil {
			return malformed(event)
		}
		rooms := []string{TicketRoom(p.Message.TicketID)}
		if !p.Message.FromMe {
			rooms = append(rooms, NotificationRoom)
		}
		h.Emit(rooms, EventAppMessage, MessageFrameData{
			Action:  ActionCreate,
			Message: NewMessageView(p.Message),
			Ticket:  NewTicketView(p.Ticket, p.Contact),
			Contact: NewContactView(p.Contact),
		})

	case events.EventMessageAckUpdated:
		p, ok := event.Payload.(events.MessagePayload)
		if !ok || p.Message == nil {
			return malformed(event)
		}
		h.Emit([]string{TicketRoom(p.Message.TicketID)}, EventAppMessage, MessageFrameData{
			Action:  ActionUpdate,
			Message: NewMessageView(p.Message),
		})

	default:
		return fmt.Errorf("realtime: unknown event type %q", event.Type)
	}
	return nil
}

func malformed(event events.Event) error {
	return fmt.Errorf("realtime: malformed payload for %s (event %s)", event.Type, event.ID)
}

// ErrUnknownControl is returned for control frames the hub does not handle.
var ErrUnknownControl = errors.New("realtime: unknown control event")

// HandleControl applies a client control frame to the subscriber's rooms.
func (h *Hub) HandleControl(subscriberID string, frame Frame) error {
	switch frame.Event {
	case ControlJoinNotification:
		h.Join(subscriberID, NotificationRoom)
	case ControlJoinTickets, ControlLeaveTickets:
		arg, err := decodeArg(frame.Data)
		if err != nil {
			return err
		}
		room := StatusRoom(domain.NormalizeStatus(arg))
		if frame.Event == ControlJoinTickets {
			h.Join(subscriberID, room)
		} else {
			h.Leave(subscriberID, room)
		}
	case ControlJoinChatBox, ControlLeaveChatBox:
		arg, err := decodeArg(frame.Data)
		if err != nil {
			return err
		}
		if arg == "" {
			return errors.New("realtime: ticket id required")
		}
		if frame.Event == ControlJoinChatBox {
			h.Join(subscriberID, TicketRoom(arg))
		} else {
			h.Leave(subscriberID, TicketRoom(arg))
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownControl, frame.Event)
	}
	return nil
}

// decodeArg accepts a JSON string or number, since dashboards send ticket ids both ways.
func decodeArg(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, convErr := strconv.ParseFloat(n.String(), 64); convErr == nil {
			return n.String(), nil
		}
	}
	return "", fmt.Errorf("realtime: unsupported control argument %s", string(raw))
}
