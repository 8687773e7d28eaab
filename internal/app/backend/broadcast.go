package backend

import (
	"context"
	"strings"
	"time"
)

// RoomTopicPrefix prefixes per-room broadcast topics.
const RoomTopicPrefix = "room:"

// RoomTopic returns the broadcast topic for a room.
func RoomTopic(roomID string) string {
	return RoomTopicPrefix + roomID
}

// RoomIDFromTopic is the inverse of RoomTopic.
func RoomIDFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, RoomTopicPrefix)
	return id, ok && id != ""
}

// UserMemberPrefix prefixes the presence key of a member appearing under their account.
const UserMemberPrefix = "user:"

// UserMemberKey returns the presence key of a signed-in member appearing as themselves.
// Members appearing under a room identity use the identity ID.
func UserMemberKey(userID string) string {
	return UserMemberPrefix + userID
}

// Member is a participant of a broadcast topic. Key is the session token
// or user ID and is unique per topic.
type Member struct {
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color,omitempty"`
}

// BroadcastKind is the kind of ephemeral event.
type BroadcastKind string

const (
	BroadcastTyping     BroadcastKind = "typing"
	BroadcastStopTyping BroadcastKind = "stop_typing"

	// Presence events are produced by the bus, never published by members.
	PresenceJoin  BroadcastKind = "presence_join"
	PresenceLeave BroadcastKind = "presence_leave"
	PresenceSync  BroadcastKind = "presence_sync"
)

// Publishable reports whether members may publish k.
func (k BroadcastKind) Publishable() bool {
	return k == BroadcastTyping || k == BroadcastStopTyping
}

// BroadcastEvent is one ephemeral event. Members is set on PresenceSync only.
type BroadcastEvent struct {
	Kind    BroadcastKind `json:"kind"`
	Topic   string        `json:"topic"`
	From    Member        `json:"from"`
	Members []Member      `json:"members,omitempty"`
	At      time.Time     `json:"at"`
}

// BroadcastHandler receives events, one at a time per channel.
type BroadcastHandler func(BroadcastEvent)

// Channel is a joined topic.
type Channel interface {
	Publish(ctx context.Context, kind BroadcastKind) error
	Members() []Member
	// Leave removes the member and stops delivery. It is safe to call more than once.
	Leave() error
}

// Broadcaster is the ephemeral publish/subscribe interface with presence.
// Delivery is best effort and may drop events on reconnect. ctx bounds the
// Join call only; the channel lives until Leave.
type Broadcaster interface {
	Join(ctx context.Context, topic string, self Member, handler BroadcastHandler) (Channel, error)
}
