package models

import "time"

// ChatRoom is the room created by POST /api/chat/start/{serviceRequestID}/.
type ChatRoom struct {
	ID             int64 `json:"id"`
	ServiceRequest int64 `json:"service_request,omitempty"`
	User           int64 `json:"user,omitempty"`
	Provider       int64 `json:"provider,omitempty"`
}

// ChatMessage is one message inside a chat room.
type ChatMessage struct {
	ID        int64     `json:"id,omitempty"`
	Room      int64     `json:"room,omitempty"`
	Sender    int64     `json:"sender,omitempty"`
	Username  string    `json:"username,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
