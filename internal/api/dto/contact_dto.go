package dto

import "time"

// ContactUpsertRequest payload.
type ContactUpsertRequest struct {
	Number    string `json:"number"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	IsGroup   bool   `json:"is_group"`
}

// ContactResponse is the public view of a contact.
type ContactResponse struct {
	ID        string    `json:"id"`
	Number    string    `json:"number"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	IsGroup   bool      `json:"is_group"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
