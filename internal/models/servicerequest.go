package models

import "time"

// Service request lifecycle statuses used by the backend.
const (
	RequestStatusPending   = "pending"
	RequestStatusAccepted  = "accepted"
	RequestStatusRejected  = "rejected"
	RequestStatusCancelled = "cancelled"
	RequestStatusCompleted = "completed"
)

// ServiceRequest is a service request as returned by the backend.
type ServiceRequest struct {
	ID              int64     `json:"id"`
	User            int64     `json:"user"`
	Provider        int64     `json:"provider"`
	ServiceCategory int64     `json:"service_category,omitempty"`
	Description     string    `json:"description"`
	Status          string    `json:"status"`
	ChatRoomID      *int64    `json:"chatroom_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateServiceRequest is the payload for POST /api/service-requests/.
type CreateServiceRequest struct {
	Provider        int64  `json:"provider"`
	ServiceCategory int64  `json:"service_category,omitempty"`
	Description     string `json:"description"`
}
