/*
Package user contains core data structures and logic related to user identity and profiles.

It defines the signed-in account profile the chat client shows for identity-room messages,
and the Caller implementations that answer "who is the current caller".
*/
package user

import "strings"

// Profile represents a signed-in community member.
type Profile struct {
	// ID is the account identifier.
	ID string `json:"id"`

	// Username is the unique login handle.
	Username string `json:"username"`

	// DisplayName is the name shown next to messages in identity rooms.
	DisplayName string `json:"displayName"`

	// AvatarURL is the optional avatar image location.
	AvatarURL string `json:"avatarUrl,omitempty"`

	// OnboardingCompleted is set once the member finished the onboarding wizard.
	OnboardingCompleted bool `json:"onboardingCompleted"`
}

// IsComplete reports whether the profile may post under its own identity.
func (p *Profile) IsComplete() bool {
	return p != nil && p.OnboardingCompleted && strings.TrimSpace(p.DisplayName) != ""
}

// Name returns the best display label for the profile.
func (p *Profile) Name() string {
	if p == nil {
		return ""
	}
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name
	}
	return p.Username
}
