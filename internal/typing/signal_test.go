package typing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/channels"
	"chatrelay/internal/database"
	"chatrelay/internal/errs"
	"chatrelay/internal/live/livetest"
	"chatrelay/internal/models"
	"chatrelay/internal/presence"
)

func setup(t *testing.T) (*Signal, *channels.Membership, *presence.Registry) {
	t.Helper()
	members := channels.NewMembership()
	registry := presence.NewRegistry(database.NewMemoryDB(), nil)
	return NewSignal(members, registry), members, registry
}

func register(t *testing.T, r *presence.Registry, connID, userID, name string) *livetest.Conn {
	t.Helper()
	c := livetest.NewConn(connID)
	require.NoError(t, r.Register(context.Background(), presence.Identity{UserID: userID, DisplayName: name}, c))
	return c
}

func TestSignal_TypingSkipsAllSenderConnections(t *testing.T) {
	sig, members, registry := setup(t)

	alicePhone := register(t, registry, "a1", "alice", "Alice")
	aliceLaptop := register(t, registry, "a2", "alice", "Alice")
	bob := register(t, registry, "b1", "bob", "Bob")
	carol := register(t, registry, "c1", "carol", "Carol")
	for _, c := range []*livetest.Conn{alicePhone, aliceLaptop, bob} {
		members.Join(c, "room-1")
	}
	// carol is only in her mailbox room, which typing never uses.
	members.Join(carol, "carol")

	n, err := sig.NotifyTyping("room-1", alicePhone)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Empty(t, alicePhone.Envelopes())
	assert.Empty(t, aliceLaptop.Envelopes())
	assert.Empty(t, carol.Envelopes())

	got := bob.OfType(models.EventTyping)
	require.Len(t, got, 1)
	var p models.TypingPayload
	require.NoError(t, json.Unmarshal(got[0].Payload, &p))
	assert.Equal(t, models.TypingPayload{RoomID: "room-1", UserID: "alice", DisplayName: "Alice"}, p)
}

func TestSignal_StopTyping(t *testing.T) {
	sig, members, registry := setup(t)

	alice := register(t, registry, "a1", "alice", "Alice")
	bob := register(t, registry, "b1", "bob", "Bob")
	members.Join(alice, "room-1")
	members.Join(bob, "room-1")

	_, err := sig.NotifyStopTyping("room-1", alice)
	require.NoError(t, err)

	got := bob.OfType(models.EventStopTyping)
	require.Len(t, got, 1)
	var p models.TypingPayload
	require.NoError(t, json.Unmarshal(got[0].Payload, &p))
	assert.Equal(t, "room-1", p.RoomID)
	assert.Empty(t, p.DisplayName)
}

func TestSignal_RejectsUnidentifiedSender(t *testing.T) {
	sig, members, _ := setup(t)
	anon := livetest.NewConn("x")
	members.Join(anon, "room-1")

	_, err := sig.NotifyTyping("room-1", anon)
	assert.True(t, errs.Is(err, errs.ErrValidation))

	_, err = sig.NotifyTyping("", anon)
	assert.True(t, errs.Is(err, errs.ErrValidation))
}
