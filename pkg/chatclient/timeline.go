// Package chatclient is the consumer side of a chatrelay server: a websocket
// client plus the local state a chat view keeps while it is open.
package chatclient

import (
	"sort"
	"sync"

	"chatrelay/internal/models"
)

// Timeline is the local copy of one room's messages, oldest first. A message
// may reach a client twice (once through the room, once through the
// mailbox), so every insert is keyed by message id.
type Timeline struct {
	mu       sync.RWMutex
	roomID   string
	messages []*models.Message
	seen     map[string]struct{}
}

func NewTimeline(roomID string) *Timeline {
	return &Timeline{
		roomID: roomID,
		seen:   make(map[string]struct{}),
	}
}

func (t *Timeline) RoomID() string {
	return t.roomID
}

// Add inserts a live message. It returns false for duplicates and for
// messages of other rooms.
func (t *Timeline) Add(msg *models.Message) bool {
	if msg == nil || msg.RoomID() != t.roomID {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[msg.ID]; ok {
		return false
	}
	t.seen[msg.ID] = struct{}{}

	i := sort.Search(len(t.messages), func(i int) bool {
		return before(msg, t.messages[i])
	})
	t.messages = append(t.messages, nil)
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = msg
	return true
}

// Prepend merges an older history page and returns how many messages now sit
// in front of the message that was first before the call. A view keeps its
// scroll position by moving its anchor down by that many rows.
func (t *Timeline) Prepend(older []*models.Message) int {
	t.mu.Lock()
	var anchor *models.Message
	if len(t.messages) > 0 {
		anchor = t.messages[0]
	}
	t.mu.Unlock()

	for _, msg := range older {
		t.Add(msg)
	}

	if anchor == nil {
		return t.Len()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, msg := range t.messages {
		if msg.ID == anchor.ID {
			return i
		}
	}
	return 0
}

// Messages returns a snapshot, oldest first.
func (t *Timeline) Messages() []*models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// before orders by creation time, then by id. Ids are time ordered so the
// tie break agrees with the server.
func before(a, b *models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
