package backend

import (
	"context"
	"time"
)

// Table names a change-feed source.
type Table string

const (
	TableRooms    Table = "rooms"
	TableMessages Table = "messages"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"

	// EventAll matches every event type in a Filter.
	EventAll EventType = "*"
)

// Change is one row change notification. It never carries row content:
// consumers re-fetch from the Store.
type Change struct {
	Table  Table     `json:"table"`
	Event  EventType `json:"event"`
	RowID  string    `json:"row_id"`
	RoomID string    `json:"room_id,omitempty"`
	At     time.Time `json:"at"`
}

// Filter selects changes by table, event type and optionally room.
type Filter struct {
	Table  Table
	Event  EventType
	RoomID string
}

// Matches reports whether c passes the filter.
func (f Filter) Matches(c Change) bool {
	if f.Table != c.Table {
		return false
	}
	if f.Event != "" && f.Event != EventAll && f.Event != c.Event {
		return false
	}
	if f.RoomID != "" && f.RoomID != c.RoomID {
		return false
	}
	return true
}

// ChangeHandler receives matching changes, one at a time per subscription.
type ChangeHandler func(Change)

// Subscription is a live change-feed registration.
type Subscription interface {
	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe()
}

// ChangeFeed is the change-notification interface. ctx bounds the Subscribe
// call only; the subscription lives until Unsubscribe.
type ChangeFeed interface {
	Subscribe(ctx context.Context, filter Filter, handler ChangeHandler) (Subscription, error)
}
