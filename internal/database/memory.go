package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/models"
)

// MemoryDB keeps everything in process memory behind one mutex. It backs
// local runs with STORE_DRIVER=memory and the package tests.
type MemoryDB struct {
	mu            sync.Mutex
	users         map[string]*models.User
	conversations map[string]*models.Conversation
	pairs         map[string]string // pair key -> conversation id
	groups        map[string]*models.Group
	messages      map[string][]*models.Message // room id -> messages in insert order
	unread        map[string]map[string]int    // room id -> user id -> count
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:         make(map[string]*models.User),
		conversations: make(map[string]*models.Conversation),
		pairs:         make(map[string]string),
		groups:        make(map[string]*models.Group),
		messages:      make(map[string][]*models.Message),
		unread:        make(map[string]map[string]int),
	}
}

func (db *MemoryDB) Ping(context.Context) error { return nil }

func (db *MemoryDB) Close() error { return nil }

func (db *MemoryDB) GetUserByID(_ context.Context, id string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (db *MemoryDB) UpdatePresence(_ context.Context, update models.PresenceUpdate) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[update.UserID]
	if !ok {
		u = &models.User{ID: update.UserID}
		db.users[update.UserID] = u
	}
	if update.DisplayName != "" {
		u.DisplayName = update.DisplayName
	}
	if update.Status != "" {
		u.Status = update.Status
	} else if u.Status == "" {
		u.Status = models.StatusOffline
	}
	u.LastActiveAt = update.At
	return nil
}

func copyConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	cp.UnreadCount = nil
	return &cp
}

func copyGroup(g *models.Group) *models.Group {
	cp := *g
	cp.Members = append([]string(nil), g.Members...)
	cp.UnreadCount = nil
	return &cp
}

func (db *MemoryDB) GetOrCreateConversation(_ context.Context, a, b string) (*models.Conversation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := models.PairKey(a, b)
	if id, ok := db.pairs[key]; ok {
		return copyConversation(db.conversations[id]), nil
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:           uuid.NewString(),
		Participants: []string{a, b},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	db.conversations[conv.ID] = conv
	db.pairs[key] = conv.ID
	return copyConversation(conv), nil
}

func (db *MemoryDB) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	conv, ok := db.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

func (db *MemoryDB) ListUserConversations(_ context.Context, userID string) ([]*models.Conversation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []*models.Conversation
	for _, conv := range db.conversations {
		if conv.Room().HasMember(userID) {
			out = append(out, copyConversation(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (db *MemoryDB) CreateGroup(_ context.Context, name, adminID string, members []string) (*models.Group, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now().UTC()
	group := &models.Group{
		ID:        uuid.NewString(),
		Name:      name,
		AdminID:   adminID,
		Members:   models.NormalizeMembers(adminID, members),
		CreatedAt: now,
		UpdatedAt: now,
	}
	db.groups[group.ID] = group
	return copyGroup(group), nil
}

func (db *MemoryDB) GetGroup(_ context.Context, id string) (*models.Group, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	group, ok := db.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGroup(group), nil
}

func (db *MemoryDB) ListUserGroups(_ context.Context, userID string) ([]*models.Group, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []*models.Group
	for _, group := range db.groups {
		if group.Room().HasMember(userID) {
			out = append(out, copyGroup(group))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (db *MemoryDB) RenameGroup(_ context.Context, groupID, name string) (*models.Group, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	group, ok := db.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	group.Name = name
	group.UpdatedAt = time.Now().UTC()
	return copyGroup(group), nil
}

func (db *MemoryDB) AddGroupMember(_ context.Context, groupID, userID string) (*models.Group, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	group, ok := db.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	if group.Room().HasMember(userID) {
		return nil, ErrDuplicate
	}
	group.Members = append(group.Members, userID)
	group.UpdatedAt = time.Now().UTC()
	return copyGroup(group), nil
}

func (db *MemoryDB) RemoveGroupMember(_ context.Context, groupID, userID string) (*models.Group, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	group, ok := db.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	kept := make([]string, 0, len(group.Members))
	for _, m := range group.Members {
		if m != userID {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(group.Members) {
		return nil, ErrNotFound
	}
	group.Members = kept
	group.UpdatedAt = time.Now().UTC()
	return copyGroup(group), nil
}

func (db *MemoryDB) FindRoom(_ context.Context, roomID string) (*models.Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if conv, ok := db.conversations[roomID]; ok {
		return copyConversation(conv).Room(), nil
	}
	if group, ok := db.groups[roomID]; ok {
		return copyGroup(group).Room(), nil
	}
	return nil, ErrNotFound
}

func (db *MemoryDB) SetLastMessage(_ context.Context, room *models.Room, messageID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now().UTC()
	switch room.Kind {
	case models.RoomKindConversation:
		if conv, ok := db.conversations[room.ID]; ok {
			conv.LastMessageID = messageID
			conv.UpdatedAt = now
			return nil
		}
	case models.RoomKindGroup:
		if group, ok := db.groups[room.ID]; ok {
			group.LastMessageID = messageID
			group.UpdatedAt = now
			return nil
		}
	}
	return ErrNotFound
}

func (db *MemoryDB) SaveMessage(_ context.Context, msg *models.Message) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	cp := *msg
	db.messages[msg.RoomID()] = append(db.messages[msg.RoomID()], &cp)
	return nil
}

func (db *MemoryDB) ListMessages(_ context.Context, roomID string, offset, limit int) ([]*models.Message, error) {
	if offset < 0 || limit < 0 {
		return nil, errInvalidWindow(offset, limit)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	all := append([]*models.Message(nil), db.messages[roomID]...)
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) || end < offset {
		end = len(all)
	}
	out := make([]*models.Message, 0, end-offset)
	for _, m := range all[offset:end] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (db *MemoryDB) IncrementUnread(_ context.Context, roomID string, userIDs []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	counts, ok := db.unread[roomID]
	if !ok {
		counts = make(map[string]int)
		db.unread[roomID] = counts
	}
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		counts[id]++
	}
	return nil
}

func (db *MemoryDB) ResetUnread(_ context.Context, roomID, userID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	counts, ok := db.unread[roomID]
	if !ok {
		counts = make(map[string]int)
		db.unread[roomID] = counts
	}
	counts[userID] = 0
	return nil
}

func (db *MemoryDB) UnreadCount(_ context.Context, roomID, userID string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.unread[roomID][userID], nil
}

func (db *MemoryDB) UnreadCounts(_ context.Context, roomID string) (map[string]int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make(map[string]int, len(db.unread[roomID]))
	for k, v := range db.unread[roomID] {
		out[k] = v
	}
	return out, nil
}

func errInvalidWindow(offset, limit int) error {
	return fmt.Errorf("invalid message window offset=%d limit=%d", offset, limit)
}
