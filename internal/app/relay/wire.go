/*
Package relay is the websocket broadcast server behind the wsbus client.

Each topic is a hub goroutine that owns its member connections. A member joins
with a channel token, receives a presence sync, and from then on receives every
typing event and presence change published by the other members of the topic.
Nothing is stored: a member that is not connected misses the event.

This file defines the JSON frames exchanged over the websocket.
*/
package relay

import (
	"time"

	"chatsync/internal/app/backend"
	"chatsync/internal/pkg/randx"
)

const (
	// CloseSessionKicked is the websocket close code (4000-4999 range) sent to a
	// connection replaced by a newer connection with the same presence key.
	CloseSessionKicked = 4001

	// CloseTopicFull is the websocket close code sent when a topic rejected the member.
	CloseTopicFull = 4002
)

// FrameType tags a server-to-client frame.
type FrameType string

const (
	FrameEvent       FrameType = "event"
	FrameError       FrameType = "error"
	FrameTokenUpdate FrameType = "token_update"
)

// Frame is a server-to-client message. Exactly one of Event, Error and Token is set.
type Frame struct {
	Type  FrameType               `json:"type"`
	Event *backend.BroadcastEvent `json:"event,omitempty"`
	Error *ErrorPayload           `json:"error,omitempty"`
	Token string                  `json:"token,omitempty"`
}

// ErrorPayload carries an errs code and its user message.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ChannelTokenRequest is the body of POST /api/channel/token.
type ChannelTokenRequest struct {
	Topic    string `json:"topic"`
	Key      string `json:"key"`
	Nickname string `json:"nickname"`
	Color    string `json:"color,omitempty"`
}

// ChannelTokenResponse is the data of a successful channel token response.
type ChannelTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// InboundFrame is a client-to-server message: a request to publish Kind to the topic.
type InboundFrame struct {
	Kind backend.BroadcastKind `json:"kind"`
}

// ValidTopic reports whether name is a topic the relay serves: a room topic
// carrying a well-formed room ID.
func ValidTopic(name string) bool {
	roomID, ok := backend.RoomIDFromTopic(name)
	return ok && randx.IsValidID(roomID)
}

func eventFrame(kind backend.BroadcastKind, topic string, from backend.Member, members []backend.Member) Frame {
	return Frame{
		Type: FrameEvent,
		Event: &backend.BroadcastEvent{
			Kind:    kind,
			Topic:   topic,
			From:    from,
			Members: members,
			At:      time.Now().UTC(),
		},
	}
}
