package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/models"
)

func TestMemoryDB_ConversationIsUniquePerPair(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()

	first, err := db.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	second, err := db.GetOrCreateConversation(ctx, "bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"alice", "bob"}, second.Participants)

	room, err := db.FindRoom(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomKindConversation, room.Kind)
	assert.True(t, room.HasMember("bob"))
}

func TestMemoryDB_GroupMembersAdminFirst(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()

	group, err := db.CreateGroup(ctx, "team", "carol", []string{"alice", "carol", "bob", "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "alice", "bob"}, group.Members)

	groups, err := db.ListUserGroups(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, groups, 1)

	_, err = db.GetGroup(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.FindRoom(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDB_ListMessagesNewestFirst(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.SaveMessage(ctx, &models.Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: "c1",
			SenderID:       "alice",
			Content:        fmt.Sprintf("hello %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	// Same timestamp as m4, ordered after it by id.
	require.NoError(t, db.SaveMessage(ctx, &models.Message{
		ID: "m5", ConversationID: "c1", SenderID: "bob", Content: "tie", CreatedAt: base.Add(4 * time.Second),
	}))

	got, err := db.ListMessages(ctx, "c1", 0, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m5", got[0].ID)
	assert.Equal(t, "m4", got[1].ID)
	assert.Equal(t, "m3", got[2].ID)

	got, err = db.ListMessages(ctx, "c1", 5, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m0", got[0].ID)

	got, err = db.ListMessages(ctx, "c1", 10, 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = db.ListMessages(ctx, "c1", -7, 3)
	assert.Error(t, err)
	_, err = db.ListMessages(ctx, "c1", 0, -1)
	assert.Error(t, err)
}

func TestMemoryDB_SetLastMessage(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()

	conv, err := db.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, db.SetLastMessage(ctx, conv.Room(), "m1"))

	conv, err = db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "m1", conv.LastMessageID)

	missing := &models.Room{ID: "gone", Kind: models.RoomKindGroup}
	assert.ErrorIs(t, db.SetLastMessage(ctx, missing, "m2"), ErrNotFound)
}

func TestMemoryDB_UnreadCounters(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()

	require.NoError(t, db.IncrementUnread(ctx, "r1", []string{"bob", "carol", "bob"}))
	require.NoError(t, db.IncrementUnread(ctx, "r1", []string{"bob"}))

	n, err := db.UnreadCount(ctx, "r1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, db.ResetUnread(ctx, "r1", "bob"))
	counts, err := db.UnreadCounts(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"bob": 0, "carol": 1}, counts)

	n, err = db.UnreadCount(ctx, "other", "bob")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryDB_ConcurrentIncrements(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = db.IncrementUnread(ctx, "r1", []string{"bob"})
		}()
	}
	wg.Wait()

	n, err := db.UnreadCount(ctx, "r1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}

func TestMemoryDB_UpdatePresenceKeepsDisplayName(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.UpdatePresence(ctx, models.PresenceUpdate{UserID: "alice", DisplayName: "Alice", Status: models.StatusOnline, At: at}))
	require.NoError(t, db.UpdatePresence(ctx, models.PresenceUpdate{UserID: "alice", Status: models.StatusOffline, At: at.Add(time.Minute)}))

	u, err := db.GetUserByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, models.StatusOffline, u.Status)
	assert.True(t, u.LastActiveAt.Equal(at.Add(time.Minute)))
}

func TestMemoryDB_UpdatePresenceWithoutStatusKeepsIt(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.UpdatePresence(ctx, models.PresenceUpdate{UserID: "alice", Status: models.StatusAway, At: at}))
	require.NoError(t, db.UpdatePresence(ctx, models.PresenceUpdate{UserID: "alice", At: at.Add(time.Minute)}))

	u, err := db.GetUserByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAway, u.Status)
	assert.True(t, u.LastActiveAt.Equal(at.Add(time.Minute)))
}

func TestMemoryDB_GroupMemberChanges(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()

	group, err := db.CreateGroup(ctx, "crew", "alice", []string{"bob"})
	require.NoError(t, err)

	got, err := db.AddGroupMember(ctx, group.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, got.Members)
	_, err = db.AddGroupMember(ctx, group.ID, "carol")
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err = db.RemoveGroupMember(ctx, group.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, got.Members)
	_, err = db.RemoveGroupMember(ctx, group.ID, "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = db.RenameGroup(ctx, group.ID, "deck")
	require.NoError(t, err)
	assert.Equal(t, "deck", got.Name)

	room, err := db.FindRoom(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, room.Members)

	_, err = db.AddGroupMember(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.RenameGroup(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}
