// internal/models/notification.go
package models

import (
	"encoding/json"
	"time"
)

// Notification kinds used by the backend.
const (
	NotificationKindChat           = "chat"
	NotificationKindRequestCreated = "request_created"
	NotificationKindNewCategory    = "new_category"
	NotificationKindBroadcast      = "broadcast"
)

// Notification is one record from GET /api/notifications/.
// A nil Recipient marks a broadcast addressed to everyone.
type Notification struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"type"`
	Message   string          `json:"message"`
	ExtraData json.RawMessage `json:"extra_data,omitempty"`
	IsRead    bool            `json:"is_read"`
	Recipient *int64          `json:"recipient"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsBroadcast reports whether the notification is addressed to everyone.
func (n Notification) IsBroadcast() bool {
	return n.Recipient == nil || n.Kind == NotificationKindBroadcast
}
