package models

import "time"

type Attachment struct {
	URL  string `json:"url" bson:"url"`
	Name string `json:"name,omitempty" bson:"name,omitempty"`
	Type string `json:"type,omitempty" bson:"type,omitempty"`
	Size int64  `json:"size,omitempty" bson:"size,omitempty"`
}

// Message is immutable once persisted. Exactly one of ConversationID and
// GroupID is set.
type Message struct {
	ID             string      `json:"id" bson:"_id"`
	SenderID       string      `json:"sender_id" bson:"sender_id"`
	ConversationID string      `json:"conversation_id,omitempty" bson:"conversation_id,omitempty"`
	GroupID        string      `json:"group_id,omitempty" bson:"group_id,omitempty"`
	Content        string      `json:"content" bson:"content"`
	Attachment     *Attachment `json:"attachment,omitempty" bson:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"created_at" bson:"created_at"`
}

func (m *Message) RoomID() string {
	if m.ConversationID != "" {
		return m.ConversationID
	}
	return m.GroupID
}

func (m *Message) RoomKind() RoomKind {
	if m.ConversationID != "" {
		return RoomKindConversation
	}
	return RoomKindGroup
}
