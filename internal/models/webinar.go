package models

import "time"

// Webinar is an event listed by GET /api/webinars/.
type Webinar struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Host        string    `json:"host,omitempty"`
	StartsAt    time.Time `json:"start_time,omitempty"`
	Registered  bool      `json:"registered,omitempty"`
}
