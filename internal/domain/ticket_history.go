package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeCreated  TicketChangeType = "CREATED"
	ChangeTypeStatus   TicketChangeType = "STATUS_CHANGE"
	ChangeTypeAssignee TicketChangeType = "ASSIGNEE_CHANGE"
)

// ChangeReason says which path produced a status transition.
type ChangeReason string

const (
	ReasonCreated     ChangeReason = "created"
	ReasonReopened    ChangeReason = "reopened"
	ReasonPromoted    ChangeReason = "promoted"
	ReasonAgentUpdate ChangeReason = "agent_update"
)

// TicketHistory is an immutable audit trail entry. ChangedByID is nil when
// the change came from the messaging pipeline rather than an agent.
type TicketHistory struct {
	ID          string
	TicketID    string
	ChangedByID *string
	ChangeType  TicketChangeType
	Reason      ChangeReason
	OldValue    map[string]any
	NewValue    map[string]any
	CreatedAt   time.Time
}
