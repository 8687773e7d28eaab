package model

import "chatsync/internal/app/user"

// SenderKind tags the Sender variant.
type SenderKind string

const (
	SenderUnknown       SenderKind = "unknown"
	SenderAuthenticated SenderKind = "authenticated"
	SenderAnonymous     SenderKind = "anonymous"
)

// UnknownSenderName is shown when the author row could not be joined.
const UnknownSenderName = "Unknown"

// Sender is the resolved author of a message.
// Profile is set only for SenderAuthenticated, Identity only for SenderAnonymous.
type Sender struct {
	Kind     SenderKind         `json:"kind"`
	Profile  *user.Profile      `json:"profile,omitempty"`
	Identity *AnonymousIdentity `json:"identity,omitempty"`
}

// Authenticated builds the signed-in variant.
func Authenticated(p *user.Profile) Sender {
	return Sender{Kind: SenderAuthenticated, Profile: p}
}

// Anonymous builds the pseudonymous variant.
func Anonymous(a *AnonymousIdentity) Sender {
	return Sender{Kind: SenderAnonymous, Identity: a}
}

// Unknown builds the unresolved variant.
func Unknown() Sender {
	return Sender{Kind: SenderUnknown}
}

// ResolveSender picks the variant from the joined row shape. In anonymous rooms
// a joined profile is never exposed, even when the row carries one.
func ResolveSender(anonymousRoom bool, profile *user.Profile, identity *AnonymousIdentity) Sender {
	switch {
	case identity != nil:
		return Anonymous(identity)
	case profile != nil && !anonymousRoom:
		return Authenticated(profile)
	default:
		return Unknown()
	}
}

// DisplayName returns the name shown next to the message.
func (s Sender) DisplayName() string {
	switch s.Kind {
	case SenderAuthenticated:
		return s.Profile.Name()
	case SenderAnonymous:
		return s.Identity.DisplayName
	default:
		return UnknownSenderName
	}
}

// Color returns the identity color, empty for authenticated senders.
func (s Sender) Color() string {
	if s.Kind == SenderAnonymous {
		return s.Identity.Color
	}
	return ""
}
