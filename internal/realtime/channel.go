package realtime

import (
	"encoding/json"
	"fmt"
)

// ChannelKind identifies one of the backend's websocket endpoints.
type ChannelKind string

const (
	KindProviderFeed ChannelKind = "provider_feed"
	KindUserFeed     ChannelKind = "user_feed"
	KindChatRoom     ChannelKind = "chat"
	KindNegotiation  ChannelKind = "service_request"
)

// Channel names a concrete websocket endpoint: a kind plus the id it is
// scoped to (provider id, user id, chat room id or service request id).
type Channel struct {
	Kind ChannelKind
	ID   string
}

func ProviderFeed(providerID string) Channel {
	return Channel{Kind: KindProviderFeed, ID: providerID}
}

func UserFeed(userID string) Channel {
	return Channel{Kind: KindUserFeed, ID: userID}
}

func ChatRoom(roomID string) Channel {
	return Channel{Kind: KindChatRoom, ID: roomID}
}

func Negotiation(requestID string) Channel {
	return Channel{Kind: KindNegotiation, ID: requestID}
}

// Key returns the stable identity of the channel, used for connection
// bookkeeping, bus topics and metric labels.
func (c Channel) Key() string {
	return fmt.Sprintf("%s.%s", c.Kind, c.ID)
}

// Path returns the websocket request path for the channel.
func (c Channel) Path() string {
	switch c.Kind {
	case KindProviderFeed:
		return fmt.Sprintf("/ws/requests/provider/%s/", c.ID)
	case KindUserFeed:
		return fmt.Sprintf("/ws/requests/user/%s/", c.ID)
	case KindChatRoom:
		return fmt.Sprintf("/ws/chat/%s/", c.ID)
	case KindNegotiation:
		return fmt.Sprintf("/ws/service-request/%s/", c.ID)
	default:
		return ""
	}
}

// State is the lifecycle state of a channel connection.
type State string

const (
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// StateChange is published on the channel's state topic.
type StateChange struct {
	Channel Channel
	State   State
	Err     error
}

// Message type discriminators used by the backend.
const (
	MsgConnected             = "connected"
	MsgConnectionEstablished = "connection_established"
	MsgNewRequest            = "new_request"
	MsgNewChatNotification   = "new_chat_notification"
	MsgChatMessage           = "chat_message"
	MsgChatHistory           = "chat_history"
	MsgRequestAccepted       = "request.accepted"
	MsgRequestRejected       = "request.rejected"
)

// Envelope is one inbound websocket frame: the type discriminator plus
// the raw JSON for consumers that need the full payload.
type Envelope struct {
	Channel Channel
	Type    string
	Raw     json.RawMessage
}

// Decode unmarshals the raw payload into out.
func (e Envelope) Decode(out interface{}) error {
	return json.Unmarshal(e.Raw, out)
}

func parseEnvelope(ch Channel, data []byte) (Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, err
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Envelope{Channel: ch, Type: head.Type, Raw: raw}, nil
}
