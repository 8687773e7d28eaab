package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/app/model"
)

func TestMessageCache_StaleFillIsRejected(t *testing.T) {
	c, err := NewMessageCache(2)
	require.NoError(t, err)

	gen := c.Generation("r1")
	c.Invalidate("r1")
	assert.False(t, c.Fill("r1", gen, []model.Message{{ID: "old"}}))
	_, ok := c.Get("r1")
	assert.False(t, ok)

	assert.True(t, c.Fill("r1", c.Generation("r1"), []model.Message{{ID: "new"}}))
	got, ok := c.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "new", got[0].ID)

	got[0].ID = "mutated"
	again, _ := c.Get("r1")
	assert.Equal(t, "new", again[0].ID)
}

func TestMessageCache_EvictsLeastRecentRoom(t *testing.T) {
	c, err := NewMessageCache(2)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, c.Fill(id, c.Generation(id), []model.Message{{ID: id}}))
	}

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestRoomCache(t *testing.T) {
	var c RoomCache
	_, ok := c.Get()
	assert.False(t, ok)

	gen := c.Generation()
	assert.True(t, c.Fill(gen, []model.Room{{ID: "r1"}}))
	r, ok := c.Find("r1")
	assert.True(t, ok)
	assert.Equal(t, "r1", r.ID)

	c.Invalidate()
	assert.False(t, c.Fill(gen, []model.Room{{ID: "stale"}}))
	_, ok = c.Find("r1")
	assert.False(t, ok)
}
