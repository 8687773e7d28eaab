/*
Package randx provides functions for generating cryptographically secure random values and unique identifiers.

It is used to mint per-browser session tokens, record IDs, and the display colors
assigned to anonymous identities.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// SessionTokenPrefix is the required prefix for session tokens.
	SessionTokenPrefix = "sess_"

	// SessionTokenRawLength is the fixed length of the Base62 part of a session token.
	SessionTokenRawLength = 24
)

// IdentityColors is the palette anonymous identities draw their display color from.
var IdentityColors = []string{
	"#ef4444", "#f97316", "#f59e0b", "#84cc16", "#22c55e", "#14b8a6",
	"#06b6d4", "#3b82f6", "#6366f1", "#8b5cf6", "#d946ef", "#ec4899",
}

// base62 returns n cryptographically random Base62 characters.
func base62(n int) (string, error) {
	result := make([]byte, n)

	for i := range n {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// NewID generates a standard UUID v4 string to serve as a unique record identifier.
func NewID() string {
	return uuid.New().String()
}

// IsValidID reports whether id parses as a UUID.
func IsValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// SessionToken generates a new opaque per-client session token.
func SessionToken() (string, error) {
	raw, err := base62(SessionTokenRawLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return SessionTokenPrefix + raw, nil
}

// IsValidSessionToken checks the prefix, length and alphabet of a session token.
func IsValidSessionToken(token string) bool {
	if !strings.HasPrefix(token, SessionTokenPrefix) {
		return false
	}

	raw := token[len(SessionTokenPrefix):]
	if len(raw) != SessionTokenRawLength {
		return false
	}

	for _, char := range raw {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

// Intn returns a uniform random integer in [0, n).
func Intn(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid range %d", n)
	}
	num, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random number: %w", err)
	}
	return int(num.Int64()), nil
}

// IdentityColor picks a display color from IdentityColors.
func IdentityColor() (string, error) {
	i, err := Intn(len(IdentityColors))
	if err != nil {
		return "", err
	}
	return IdentityColors[i], nil
}
