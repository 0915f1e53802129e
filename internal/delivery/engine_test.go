package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/channels"
	"chatrelay/internal/database"
	"chatrelay/internal/errs"
	"chatrelay/internal/ledger"
	"chatrelay/internal/live/livetest"
	"chatrelay/internal/models"
	"chatrelay/internal/presence"
)

type harness struct {
	db       *database.MemoryDB
	ledger   *ledger.Ledger
	channels *channels.Membership
	presence *presence.Registry
	engine   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := database.NewMemoryDB()
	h := &harness{
		db:       db,
		ledger:   ledger.New(db),
		channels: channels.NewMembership(),
		presence: presence.NewRegistry(db, nil),
	}
	h.engine = NewEngine(db, db, h.ledger, h.channels, h.presence)
	return h
}

// connect registers a connection for user and joins its personal mailbox
// plus any extra rooms, the way the gateway does.
func (h *harness) connect(t *testing.T, connID, userID string, rooms ...string) *livetest.Conn {
	t.Helper()
	c := livetest.NewConn(connID)
	require.NoError(t, h.presence.Register(context.Background(), presence.Identity{UserID: userID}, c))
	h.channels.Join(c, userID)
	for _, r := range rooms {
		h.channels.Join(c, r)
	}
	return c
}

func (h *harness) count(t *testing.T, roomID, userID string) int {
	t.Helper()
	n, err := h.ledger.CountFor(context.Background(), roomID, userID)
	require.NoError(t, err)
	return n
}

func TestSend_ConversationScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conv, err := h.db.GetOrCreateConversation(ctx, "A", "B")
	require.NoError(t, err)

	a1 := h.connect(t, "a1", "A", conv.ID)
	b1 := h.connect(t, "b1", "B", conv.ID)
	b2 := h.connect(t, "b2", "B")

	receipt, err := h.engine.Send(ctx, SendRequest{SenderID: "A", ConversationID: conv.ID, Content: "hi"})
	require.NoError(t, err)

	msg := receipt.Message
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "A", msg.SenderID)
	assert.Equal(t, conv.ID, msg.ConversationID)
	assert.Equal(t, []string{"B"}, receipt.Recipients)

	stored, err := h.db.ListMessages(ctx, conv.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)

	assert.Equal(t, 1, h.count(t, conv.ID, "B"))
	assert.Equal(t, 0, h.count(t, conv.ID, "A"))

	// b1 sits on both paths, b2 only on the mailbox path.
	b1msgs := b1.Messages()
	require.Len(t, b1msgs, 2)
	assert.Equal(t, msg.ID, b1msgs[0].ID)
	assert.Equal(t, msg.ID, b1msgs[1].ID)
	b2msgs := b2.Messages()
	require.Len(t, b2msgs, 1)
	assert.Equal(t, "hi", b2msgs[0].Content)

	// The sender's viewing connection gets the room echo only.
	require.Len(t, a1.Messages(), 1)
	assert.Equal(t, 2, receipt.RoomPushes)
	assert.Equal(t, 2, receipt.MailboxPushes)

	updated, err := h.db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, updated.LastMessageID)
}

func TestSend_GroupScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	group, err := h.db.CreateGroup(ctx, "G", "A", []string{"B", "C"})
	require.NoError(t, err)
	c1 := h.connect(t, "c1", "C")

	receipt, err := h.engine.Send(ctx, SendRequest{SenderID: "B", GroupID: group.ID, Content: "hello team"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"A", "C"}, receipt.Recipients)
	assert.Equal(t, 1, h.count(t, group.ID, "A"))
	assert.Equal(t, 1, h.count(t, group.ID, "C"))
	assert.Equal(t, 0, h.count(t, group.ID, "B"))

	require.Len(t, c1.Messages(), 1)
	assert.Equal(t, group.ID, c1.Messages()[0].GroupID)
}

func TestSend_AttachmentOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv, err := h.db.GetOrCreateConversation(ctx, "A", "B")
	require.NoError(t, err)

	receipt, err := h.engine.Send(ctx, SendRequest{
		SenderID:       "B",
		ConversationID: conv.ID,
		Attachment:     &models.Attachment{URL: "https://files.example/cat.png", Type: "image/png"},
	})
	require.NoError(t, err)
	require.NotNil(t, receipt.Message.Attachment)
	assert.Equal(t, 1, h.count(t, conv.ID, "A"))
}

func TestSend_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  SendRequest
		want *errs.AppError
	}{
		{"no content", SendRequest{SenderID: "A", ConversationID: "c"}, errs.ErrMissingContent},
		{"empty attachment", SendRequest{SenderID: "A", ConversationID: "c", Attachment: &models.Attachment{}}, errs.ErrMissingContent},
		{"no target", SendRequest{SenderID: "A", Content: "x"}, errs.ErrMalformedTarget},
		{"both targets", SendRequest{SenderID: "A", ConversationID: "c", GroupID: "g", Content: "x"}, errs.ErrMalformedTarget},
		{"no sender", SendRequest{ConversationID: "c", Content: "x"}, errs.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Send(ctx, tc.req)
			require.Error(t, err)
			assert.True(t, errs.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestSend_NotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv, err := h.db.GetOrCreateConversation(ctx, "A", "B")
	require.NoError(t, err)

	_, err = h.engine.Send(ctx, SendRequest{SenderID: "A", ConversationID: "missing", Content: "x"})
	assert.True(t, errs.Is(err, errs.ErrNotFound))

	_, err = h.engine.Send(ctx, SendRequest{SenderID: "Z", ConversationID: conv.ID, Content: "x"})
	assert.True(t, errs.Is(err, errs.ErrNotFound))

	// A conversation id passed as a group id does not resolve.
	_, err = h.engine.Send(ctx, SendRequest{SenderID: "A", GroupID: conv.ID, Content: "x"})
	assert.True(t, errs.Is(err, errs.ErrNotFound))

	msgs, err := h.db.ListMessages(ctx, conv.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

type failingMessages struct{}

func (failingMessages) SaveMessage(context.Context, *models.Message) error {
	return errors.New("disk full")
}

func TestSend_StoreFailureLeavesLedgerUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv, err := h.db.GetOrCreateConversation(ctx, "A", "B")
	require.NoError(t, err)
	b1 := h.connect(t, "b1", "B", conv.ID)

	engine := NewEngine(h.db, failingMessages{}, h.ledger, h.channels, h.presence)
	_, err = engine.Send(ctx, SendRequest{SenderID: "A", ConversationID: conv.ID, Content: "hi"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrStoreUnavailable))

	assert.Equal(t, 0, h.count(t, conv.ID, "B"))
	assert.Empty(t, b1.Messages())

	updated, err := h.db.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.LastMessageID)
}

type failingCounter struct{}

func (failingCounter) Increment(context.Context, string, []string) error {
	return errs.ErrStoreUnavailable
}

func TestSend_LedgerFailureStillDelivers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv, err := h.db.GetOrCreateConversation(ctx, "A", "B")
	require.NoError(t, err)
	b1 := h.connect(t, "b1", "B")

	engine := NewEngine(h.db, h.db, failingCounter{}, h.channels, h.presence)
	receipt, err := engine.Send(ctx, SendRequest{SenderID: "A", ConversationID: conv.ID, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.MailboxPushes)
	assert.Len(t, b1.Messages(), 1)
}

func TestSend_ClosedConnectionIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv, err := h.db.GetOrCreateConversation(ctx, "A", "B")
	require.NoError(t, err)
	b1 := h.connect(t, "b1", "B", conv.ID)
	b1.Close()

	receipt, err := h.engine.Send(ctx, SendRequest{SenderID: "A", ConversationID: conv.ID, Content: "hi"})
	require.NoError(t, err)
	assert.Zero(t, receipt.RoomPushes)
	assert.Zero(t, receipt.MailboxPushes)
	assert.Equal(t, 1, h.count(t, conv.ID, "B"))
}

func TestSend_IDsAreTimeOrdered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv, err := h.db.GetOrCreateConversation(ctx, "A", "B")
	require.NoError(t, err)

	var last string
	for i := 0; i < 5; i++ {
		r, err := h.engine.Send(ctx, SendRequest{SenderID: "A", ConversationID: conv.ID, Content: "x"})
		require.NoError(t, err)
		assert.Greater(t, r.Message.ID, last)
		last = r.Message.ID
	}
	assert.Equal(t, 5, h.count(t, conv.ID, "B"))
}
