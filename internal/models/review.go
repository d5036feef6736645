package models

import "time"

// Review is a user's rating of a provider.
type Review struct {
	ID        int64     `json:"id,omitempty"`
	Provider  int64     `json:"provider"`
	User      int64     `json:"user,omitempty"`
	Username  string    `json:"username,omitempty"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
