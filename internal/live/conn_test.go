package live_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chatrelay/internal/live"
	"chatrelay/internal/live/livetest"
)

func TestPushAll_DedupesAndSkips(t *testing.T) {
	a := livetest.NewConn("a")
	b := livetest.NewConn("b")
	c := livetest.NewConn("c")
	c.Close()

	n := live.PushAll([]live.Conn{a, b, a, c}, []byte(`{}`), map[string]bool{"b": true})

	assert.Equal(t, 1, n)
	assert.Len(t, a.Envelopes(), 1)
	assert.Empty(t, b.Envelopes())
}
