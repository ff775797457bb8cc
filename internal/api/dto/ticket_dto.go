package dto

import "time"

// TicketResponse is a ticket as dashboards list it. Status is the wire label.
type TicketResponse struct {
	ID             string           `json:"id"`
	ContactID      string           `json:"contact_id"`
	ChannelID      string           `json:"channel_id"`
	Status         string           `json:"status"`
	AssignedUserID *string          `json:"assigned_user_id"`
	UnreadCount    int              `json:"unread_count"`
	IsGroup        bool             `json:"is_group"`
	LastMessage    string           `json:"last_message"`
	Contact        *ContactResponse `json:"contact,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// TicketUpdateRequest payload. Status accepts canonical values and wire labels.
type TicketUpdateRequest struct {
	Status         *string `json:"status"`
	AssignedUserID *string `json:"assigned_user_id"`
	Unassign       bool    `json:"unassign"`
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID          string         `json:"id"`
	ChangeType  string         `json:"change_type"`
	Reason      string         `json:"reason"`
	ChangedByID *string        `json:"changed_by_id"`
	OldValue    map[string]any `json:"old_value"`
	NewValue    map[string]any `json:"new_value"`
	CreatedAt   time.Time      `json:"created_at"`
}
