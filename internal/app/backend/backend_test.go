package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_Matches(t *testing.T) {
	insert := Change{Table: TableMessages, Event: EventInsert, RoomID: "r1", RowID: "m1"}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "table and room", filter: Filter{Table: TableMessages, Event: EventAll, RoomID: "r1"}, want: true},
		{name: "empty event matches all", filter: Filter{Table: TableMessages}, want: true},
		{name: "other room", filter: Filter{Table: TableMessages, RoomID: "r2"}, want: false},
		{name: "other table", filter: Filter{Table: TableRooms}, want: false},
		{name: "other event", filter: Filter{Table: TableMessages, Event: EventDelete}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(insert))
		})
	}
}

func TestRoomTopic(t *testing.T) {
	id, ok := RoomIDFromTopic(RoomTopic("abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = RoomIDFromTopic("lobby")
	assert.False(t, ok)
	_, ok = RoomIDFromTopic("room:")
	assert.False(t, ok)
}

func TestBroadcastKind_Publishable(t *testing.T) {
	assert.True(t, BroadcastTyping.Publishable())
	assert.True(t, BroadcastStopTyping.Publishable())
	assert.False(t, PresenceJoin.Publishable())
	assert.False(t, PresenceSync.Publishable())
}
