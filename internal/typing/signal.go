// Package typing relays transient typing indicators to a room. Nothing here
// is persisted; debouncing belongs to the sending client.
package typing

import (
	"chatrelay/internal/errs"
	"chatrelay/internal/live"
	"chatrelay/internal/models"
	"chatrelay/internal/presence"
)

type RoomPath interface {
	MembersOf(roomID string) []live.Conn
}

type Owners interface {
	OwnerOf(connID string) (presence.Identity, bool)
	ConnectionsOf(userID string) []live.Conn
}

type Signal struct {
	rooms  RoomPath
	owners Owners
}

func NewSignal(rooms RoomPath, owners Owners) *Signal {
	return &Signal{rooms: rooms, owners: owners}
}

// NotifyTyping tells the room that the sender's user is typing. None of the
// user's own connections receive it.
func (s *Signal) NotifyTyping(roomID string, sender live.Conn) (int, error) {
	return s.relay(models.EventTyping, roomID, sender)
}

func (s *Signal) NotifyStopTyping(roomID string, sender live.Conn) (int, error) {
	return s.relay(models.EventStopTyping, roomID, sender)
}

func (s *Signal) relay(event models.EventType, roomID string, sender live.Conn) (int, error) {
	if roomID == "" {
		return 0, errs.ErrValidation.WithMessage("room id is required")
	}
	id, ok := s.owners.OwnerOf(sender.ID())
	if !ok {
		return 0, errs.ErrValidation.WithMessage("connection has not identified")
	}

	payload := models.TypingPayload{RoomID: roomID, UserID: id.UserID}
	if event == models.EventTyping {
		payload.DisplayName = id.DisplayName
	}
	frame, err := models.NewEnvelope(event, payload)
	if err != nil {
		return 0, errs.ErrInternal.Wrap(err)
	}

	skip := map[string]bool{sender.ID(): true}
	for _, c := range s.owners.ConnectionsOf(id.UserID) {
		skip[c.ID()] = true
	}
	return live.PushAll(s.rooms.MembersOf(roomID), frame, skip), nil
}
