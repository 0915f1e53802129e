package database

import (
	"context"
	"errors"

	"chatrelay/internal/models"
)

var (
	// ErrNotFound is returned by lookups that match no row or document.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert would repeat an existing key.
	ErrDuplicate = errors.New("record already exists")
)

type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	// UpdatePresence upserts the user row; an empty DisplayName keeps the
	// stored one.
	UpdatePresence(ctx context.Context, update models.PresenceUpdate) error
}

type RoomRepository interface {
	// GetOrCreateConversation returns the conversation between a and b in
	// either order, creating it with participants [a, b] if none exists.
	GetOrCreateConversation(ctx context.Context, a, b string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error)

	CreateGroup(ctx context.Context, name, adminID string, members []string) (*models.Group, error)
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	ListUserGroups(ctx context.Context, userID string) ([]*models.Group, error)
	RenameGroup(ctx context.Context, groupID, name string) (*models.Group, error)
	// AddGroupMember appends userID to the member list, ErrDuplicate if it
	// is already there.
	AddGroupMember(ctx context.Context, groupID, userID string) (*models.Group, error)
	// RemoveGroupMember drops userID, ErrNotFound if it was not a member.
	RemoveGroupMember(ctx context.Context, groupID, userID string) (*models.Group, error)

	// FindRoom resolves a conversation or group id into its member view.
	FindRoom(ctx context.Context, roomID string) (*models.Room, error)
	SetLastMessage(ctx context.Context, room *models.Room, messageID string) error
}

type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns messages of a room newest first.
	ListMessages(ctx context.Context, roomID string, offset, limit int) ([]*models.Message, error)
}

// LedgerRepository stores per-room unread counters. Both mutations must be
// atomic per (room, user) key.
type LedgerRepository interface {
	IncrementUnread(ctx context.Context, roomID string, userIDs []string) error
	ResetUnread(ctx context.Context, roomID, userID string) error
	UnreadCount(ctx context.Context, roomID, userID string) (int, error)
	UnreadCounts(ctx context.Context, roomID string) (map[string]int, error)
}

type Database interface {
	UserRepository
	RoomRepository
	MessageRepository
	LedgerRepository
	Ping(ctx context.Context) error
	Close() error
}
