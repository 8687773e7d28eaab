/*
Package model defines the chat records shared by the client library and the backends:
rooms, anonymous identities and messages, plus the resolved sender variant.
*/
package model

import "time"

// Room is a named chat channel with a fixed anonymous-or-identity policy.
type Room struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// IsAnonymous is fixed at creation. Anonymous rooms only ever show pseudonyms.
	IsAnonymous bool `json:"isAnonymous"`

	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	// LastMessageID and LastActivityAt are maintained by message inserts.
	LastMessageID  string     `json:"lastMessageId,omitempty"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
}

// NewRoom holds the fields accepted when creating a room.
type NewRoom struct {
	Name        string
	Description string
	IsAnonymous bool
	CreatedBy   string
}

// ActivityAt returns the last activity time, falling back to the creation time.
func (r Room) ActivityAt() time.Time {
	if r.LastActivityAt != nil {
		return *r.LastActivityAt
	}
	return r.CreatedAt
}
