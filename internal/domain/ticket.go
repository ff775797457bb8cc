package domain

import (
	"strings"
	"time"
)

// TicketStatus is the canonical, storage-level lifecycle state of a ticket.
type TicketStatus string

const (
	TicketStatusPending      TicketStatus = "pending"
	TicketStatusInService    TicketStatus = "in_service"
	TicketStatusAgentWorking TicketStatus = "agent_working"
	TicketStatusWaiting      TicketStatus = "waiting"
	TicketStatusClosed       TicketStatus = "closed"
)

// statusTable is the only place wire labels and aliases are defined.
var statusTable = []struct {
	status  TicketStatus
	label   string
	aliases []string
}{
	{TicketStatusPending, "pending", []string{"pending"}},
	{TicketStatusInService, "open", []string{"open", "in_service"}},
	{TicketStatusAgentWorking, "atendendo", []string{"atendendo", "agent_working"}},
	{TicketStatusWaiting, "aguardando", []string{"aguardando", "waiting"}},
	{TicketStatusClosed, "fechado", []string{"fechado", "closed"}},
}

// ParseStatus maps any accepted spelling (canonical value or wire label,
// case-insensitive) to a canonical status.
func ParseStatus(raw string) (TicketStatus, bool) {
	needle := strings.ToLower(strings.TrimSpace(raw))
	if needle == "" {
		return "", false
	}
	for _, row := range statusTable {
		for _, alias := range row.aliases {
			if alias == needle {
				return row.status, true
			}
		}
	}
	return "", false
}

// NormalizeStatus is ParseStatus with unknown input folded into pending.
// Used for room joins where a typo must not leave a dashboard subscribed to nothing.
func NormalizeStatus(raw string) TicketStatus {
	if s, ok := ParseStatus(raw); ok {
		return s
	}
	return TicketStatusPending
}

// Label returns the wire label dashboards render.
func (s TicketStatus) Label() string {
	for _, row := range statusTable {
		if row.status == s {
			return row.label
		}
	}
	return string(s)
}

// Valid reports whether s is one of the canonical statuses.
func (s TicketStatus) Valid() bool {
	for _, row := range statusTable {
		if row.status == s {
			return true
		}
	}
	return false
}

// AllStatuses lists the canonical statuses in lifecycle order.
func AllStatuses() []TicketStatus {
	out := make([]TicketStatus, 0, len(statusTable))
	for _, row := range statusTable {
		out = append(out, row.status)
	}
	return out
}

var (
	// ActiveServiceStatuses are states in which an agent is already engaged.
	ActiveServiceStatuses = []TicketStatus{TicketStatusInService, TicketStatusAgentWorking}
	// PendingStatuses are open states nobody has picked up yet.
	PendingStatuses = []TicketStatus{TicketStatusPending, TicketStatusWaiting}
	// NonClosedStatuses is the union of the two.
	NonClosedStatuses = []TicketStatus{TicketStatusInService, TicketStatusAgentWorking, TicketStatusPending, TicketStatusWaiting}
)

// IsActiveService reports whether s is in_service or agent_working.
func (s TicketStatus) IsActiveService() bool {
	return s == TicketStatusInService || s == TicketStatusAgentWorking
}

// IsPending reports whether s is pending or waiting.
func (s TicketStatus) IsPending() bool {
	return s == TicketStatusPending || s == TicketStatusWaiting
}

// Ticket is a conversation thread with one contact on one channel.
type Ticket struct {
	ID                 string
	ContactID          string
	ChannelID          string
	Status             TicketStatus
	AssignedUserID     *string
	UnreadCount        int
	IsGroup            bool
	LastMessagePreview string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Clone returns a copy that does not share the assignee pointer.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	if t.AssignedUserID != nil {
		id := *t.AssignedUserID
		cp.AssignedUserID = &id
	}
	return &cp
}
