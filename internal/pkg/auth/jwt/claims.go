package jwt

import "github.com/golang-jwt/jwt"

const (
	// UserTypeRegistered marks a token issued to a signed-in account.
	UserTypeRegistered = "registered"

	// UserTypeAnonymous marks a token bound only to a session token.
	UserTypeAnonymous = "anonymous"
)

// Payload defines the structure of the JSON Web Token (JWT) claims used by chatsync.
// The same shape serves two purposes: user identity tokens (Topic empty) presented
// by the chat client, and relay channel tokens (Topic set) that admit one presence
// key to one broadcast topic.
type Payload struct {
	// StandardClaims embeds the necessary JWT standard fields such as Exp (Expiration),
	// Iat (Issued At), and Iss (Issuer).
	jwt.StandardClaims `json:"standard_claims"`

	// ID is the user ID for identity tokens, or the presence key for channel tokens.
	ID string `json:"id"`

	// Topic is the broadcast topic a channel token grants access to.
	Topic string `json:"topic,omitempty"`

	// UserType is UserTypeRegistered or UserTypeAnonymous.
	UserType string `json:"user_type"`

	// Nickname is the display name shown to other participants of the topic.
	Nickname string `json:"nickname,omitempty"`

	// Color is the display color shown to other participants of the topic.
	Color string `json:"color,omitempty"`
}
