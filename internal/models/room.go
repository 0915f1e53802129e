package models

import "time"

type RoomKind string

const (
	RoomKindConversation RoomKind = "conversation"
	RoomKindGroup        RoomKind = "group"
)

// Room is the normalized broadcast target behind a conversation or group.
type Room struct {
	ID      string   `json:"id"`
	Kind    RoomKind `json:"kind"`
	Members []string `json:"members"`
}

func (r *Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Recipients returns the members other than the sender, in member order.
func (r *Room) Recipients(senderID string) []string {
	out := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		if m != senderID {
			out = append(out, m)
		}
	}
	return out
}

type Conversation struct {
	ID            string         `json:"id"`
	Participants  []string       `json:"participants"`
	LastMessageID string         `json:"last_message_id,omitempty"`
	UnreadCount   map[string]int `json:"unread_count,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (c Conversation) Identity() string {
	return c.ID
}

func (c *Conversation) Room() *Room {
	return &Room{ID: c.ID, Kind: RoomKindConversation, Members: c.Participants}
}

type Group struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	AdminID       string         `json:"admin_id"`
	Members       []string       `json:"members"`
	LastMessageID string         `json:"last_message_id,omitempty"`
	UnreadCount   map[string]int `json:"unread_count,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (g Group) Identity() string {
	return g.ID
}

func (g *Group) Room() *Room {
	return &Room{ID: g.ID, Kind: RoomKindGroup, Members: g.Members}
}

// NormalizeMembers puts the admin first and removes duplicates and blanks,
// keeping the order of first appearance.
func NormalizeMembers(adminID string, members []string) []string {
	seen := map[string]bool{adminID: true}
	out := []string{adminID}
	for _, m := range members {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// PairKey identifies a conversation by its unordered participant pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
