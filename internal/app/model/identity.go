package model

import "time"

// AnonymousIdentity is a per-room pseudonym bound to a session token or a user.
type AnonymousIdentity struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"roomId"`
	SessionToken string    `json:"-"`
	UserID       string    `json:"-"`
	DisplayName  string    `json:"displayName"`
	Color        string    `json:"color"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IdentityOwner is the (session token, user) pair an identity belongs to.
// The session token wins when both are set.
type IdentityOwner struct {
	SessionToken string
	UserID       string
}

// Key returns the unique owner key used alongside the room ID.
func (o IdentityOwner) Key() string {
	if o.SessionToken != "" {
		return "session:" + o.SessionToken
	}
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return ""
}

// OwnerKey returns the unique owner key of the identity.
func (a AnonymousIdentity) OwnerKey() string {
	return IdentityOwner{SessionToken: a.SessionToken, UserID: a.UserID}.Key()
}
