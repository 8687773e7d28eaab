package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MessageKind distinguishes plain text from code snippets.
type MessageKind string

const (
	KindText MessageKind = "text"
	KindCode MessageKind = "code"
)

// PreviewMaxRunes bounds the reply preview snippet, ellipsis included.
const PreviewMaxRunes = 100

const ellipsis = "..."

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	return k == KindText || k == KindCode
}

// Message is a stored chat message with its read-time joins resolved.
type Message struct {
	ID      string      `json:"id"`
	RoomID  string      `json:"roomId"`
	Content string      `json:"content"`
	Kind    MessageKind `json:"kind"`

	// Exactly one of UserID and IdentityID is set.
	UserID     string `json:"userId,omitempty"`
	IdentityID string `json:"identityId,omitempty"`

	ReplyToID string     `json:"replyToId,omitempty"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`

	Sender       Sender        `json:"sender"`
	ReplyPreview *ReplyPreview `json:"replyPreview,omitempty"`
}

// ReplyPreview is the denormalized view of a reply target.
type ReplyPreview struct {
	MessageID  string `json:"messageId"`
	SenderName string `json:"senderName"`
	Snippet    string `json:"snippet"`
	Truncated  bool   `json:"truncated"`
}

// NewMessage holds the fields written when sending.
type NewMessage struct {
	RoomID     string
	Content    string
	Kind       MessageKind
	UserID     string
	IdentityID string
	ReplyToID  string
}

// Snippet shortens content to at most PreviewMaxRunes runes.
// Whitespace runs collapse to single spaces first.
func Snippet(content string) (string, bool) {
	flat := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(flat) <= PreviewMaxRunes {
		return flat, false
	}

	runes := []rune(flat)
	cut := strings.TrimRight(string(runes[:PreviewMaxRunes-len(ellipsis)]), " ")
	return cut + ellipsis, true
}
