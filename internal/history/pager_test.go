package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/database"
	"chatrelay/internal/errs"
	"chatrelay/internal/models"
)

func seed(t *testing.T, n int) *database.MemoryDB {
	t.Helper()
	db := database.NewMemoryDB()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, db.SaveMessage(context.Background(), &models.Message{
			ID:             fmt.Sprintf("m%03d", i),
			ConversationID: "c1",
			SenderID:       "alice",
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	return db
}

func ids(msgs []*models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestPager_PagesWalkBackwardsWithoutGaps(t *testing.T) {
	p := NewPager(seed(t, 120), 50, 200)
	ctx := context.Background()

	first, err := p.Page(ctx, "c1", 1, 50)
	require.NoError(t, err)
	require.Len(t, first.Messages, 50)
	assert.True(t, first.HasMore)
	assert.Equal(t, "m070", first.Messages[0].ID)
	assert.Equal(t, "m119", first.Messages[49].ID)

	second, err := p.Page(ctx, "c1", 2, 50)
	require.NoError(t, err)
	require.Len(t, second.Messages, 50)
	assert.True(t, second.HasMore)
	assert.Equal(t, "m020", second.Messages[0].ID)
	assert.Equal(t, "m069", second.Messages[49].ID)
	assert.True(t, second.Messages[49].CreatedAt.Before(first.Messages[0].CreatedAt))

	third, err := p.Page(ctx, "c1", 3, 50)
	require.NoError(t, err)
	require.Len(t, third.Messages, 20)
	assert.False(t, third.HasMore)
	assert.Equal(t, "m000", third.Messages[0].ID)

	seen := map[string]bool{}
	for _, page := range []*Page{first, second, third} {
		for _, id := range ids(page.Messages) {
			assert.False(t, seen[id], "duplicate %s", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 120)
}

func TestPager_ExactlyOnePage(t *testing.T) {
	p := NewPager(seed(t, 50), 50, 200)

	page, err := p.Page(context.Background(), "c1", 1, 50)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 50)
	assert.False(t, page.HasMore)
}

func TestPager_FewerThanPageSize(t *testing.T) {
	p := NewPager(seed(t, 3), 50, 200)

	page, err := p.Page(context.Background(), "c1", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"m000", "m001", "m002"}, ids(page.Messages))
	assert.False(t, page.HasMore)
}

func TestPager_PastTheEndIsEmpty(t *testing.T) {
	p := NewPager(seed(t, 10), 50, 200)

	page, err := p.Page(context.Background(), "c1", 4, 5)
	require.NoError(t, err)
	assert.NotNil(t, page.Messages)
	assert.Empty(t, page.Messages)
	assert.False(t, page.HasMore)
}

func TestPager_EarlierPageUnchangedByNewerInserts(t *testing.T) {
	db := seed(t, 100)
	p := NewPager(db, 50, 200)
	ctx := context.Background()

	before, err := p.Page(ctx, "c1", 1, 50)
	require.NoError(t, err)

	require.NoError(t, db.SaveMessage(ctx, &models.Message{
		ID: "m999", ConversationID: "c1", SenderID: "bob", Content: "late",
		CreatedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}))

	after, err := p.Page(ctx, "c1", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, "m999", after.Messages[49].ID)
	assert.Equal(t, ids(before.Messages)[1:], ids(after.Messages)[:49])
}

func TestPager_Validation(t *testing.T) {
	p := NewPager(seed(t, 1), 50, 200)
	ctx := context.Background()

	_, err := p.Page(ctx, "c1", 0, 50)
	assert.True(t, errs.Is(err, errs.ErrValidation))
	_, err = p.Page(ctx, "c1", 1, 0)
	assert.True(t, errs.Is(err, errs.ErrValidation))
	_, err = p.Page(ctx, "", 1, 10)
	assert.True(t, errs.Is(err, errs.ErrValidation))
}

func TestPager_HugePageIsRejected(t *testing.T) {
	p := NewPager(seed(t, 10), 50, 200)
	ctx := context.Background()

	for _, page := range []int{math.MaxInt, math.MaxInt / 4, math.MaxInt/8 + 2} {
		_, err := p.Page(ctx, "c1", page, 8)
		assert.True(t, errs.Is(err, errs.ErrValidation), "page %d", page)
	}

	// The largest page whose offset still fits is simply empty.
	last, err := p.Page(ctx, "c1", (math.MaxInt-1)/8+1, 8)
	require.NoError(t, err)
	assert.Empty(t, last.Messages)
	assert.False(t, last.HasMore)
}

func TestPager_ClampsSize(t *testing.T) {
	p := NewPager(seed(t, 30), 10, 20)

	page, err := p.Page(context.Background(), "c1", 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, 20, page.Size)
	assert.Len(t, page.Messages, 20)
	assert.True(t, page.HasMore)
	assert.Equal(t, 10, p.DefaultSize())
}

type brokenSource struct{}

func (brokenSource) ListMessages(context.Context, string, int, int) ([]*models.Message, error) {
	return nil, errors.New("timeout")
}

func TestPager_StoreFailure(t *testing.T) {
	p := NewPager(brokenSource{}, 0, 0)

	_, err := p.Page(context.Background(), "c1", 1, 10)
	assert.True(t, errs.Is(err, errs.ErrStoreUnavailable))
	assert.Equal(t, DefaultPageSize, p.DefaultSize())
}
