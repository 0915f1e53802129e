package models

import "encoding/json"

type EventType string

// Inbound events.
const (
	EventConnect        EventType = "connect"
	EventJoinRoom       EventType = "join_room"
	EventLeaveRoom      EventType = "leave_room"
	EventSendMessage    EventType = "send_message"
	EventMarkRead       EventType = "mark_read"
	EventTyping         EventType = "typing"
	EventStopTyping     EventType = "stop_typing"
	EventGetOnlineUsers EventType = "get_online_users"
	EventSetStatus      EventType = "set_status"
)

// Outbound events. Typing and stop_typing are relayed under their inbound
// names.
const (
	EventConnected           EventType = "connected"
	EventPresenceChanged     EventType = "presence_changed"
	EventMessageDelivered    EventType = "message_delivered"
	EventOnlineUsersSnapshot EventType = "online_users_snapshot"
	EventError               EventType = "error"
)

// Envelope is the frame exchanged over a live connection in both directions.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope encodes payload into a frame ready to push.
func NewEnvelope(t EventType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

type ConnectPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// RoomPayload carries join_room, leave_room, mark_read and typing requests.
// The acting user is always the connection's owner.
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// SendMessagePayload accepts the target either as plain ids or as
// references that may arrive populated.
type SendMessagePayload struct {
	ConversationID string            `json:"conversation_id,omitempty"`
	GroupID        string            `json:"group_id,omitempty"`
	Conversation   Ref[Conversation] `json:"conversation"`
	Group          Ref[Group]        `json:"group"`
	Content        string            `json:"content,omitempty"`
	Attachment     *Attachment       `json:"attachment,omitempty"`
}

// Target folds the id fields and the references into a single pair.
func (p *SendMessagePayload) Target() (conversationID, groupID string) {
	conversationID = p.ConversationID
	if conversationID == "" {
		conversationID = p.Conversation.ID()
	}
	groupID = p.GroupID
	if groupID == "" {
		groupID = p.Group.ID()
	}
	return conversationID, groupID
}

type PresenceChangedPayload struct {
	UserID string         `json:"user_id"`
	Status PresenceStatus `json:"status"`
}

type TypingPayload struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type StatusPayload struct {
	Status PresenceStatus `json:"status"`
}

type OnlineUsersPayload struct {
	UserIDs []string `json:"user_ids"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}
