package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/app/backend"
	"chatsync/internal/app/model"
	"chatsync/internal/app/user"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

// MaxContentBytes is the largest accepted message body.
const MaxContentBytes = 5000

// Author is who is acting on a message.
type Author struct {
	// Profile is the signed-in member, nil when anonymous.
	Profile *user.Profile

	// SessionToken identifies the browser-equivalent session.
	SessionToken string

	// PreferAnonymous posts under the room identity even when signed in.
	PreferAnonymous bool
}

func (a Author) userID() string {
	if a.Profile == nil {
		return ""
	}
	return a.Profile.ID
}

// SendInput holds one message to send.
type SendInput struct {
	RoomID    string
	Content   string
	Kind      model.MessageKind
	ReplyToID string
}

// Confirmer asks the user to approve a destructive operation.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// MessageStore reads and writes messages and resolves their senders.
type MessageStore struct {
	store     backend.Store
	directory *Directory
	resolver  *Resolver
	logger    zerolog.Logger
}

// NewMessageStore constructs a MessageStore.
func NewMessageStore(store backend.Store, directory *Directory, resolver *Resolver) *MessageStore {
	return &MessageStore{
		store:     store,
		directory: directory,
		resolver:  resolver,
		logger:    logx.Component("message_store"),
	}
}

// ListMessages returns roomID's messages oldest first with senders and reply previews resolved.
func (s *MessageStore) ListMessages(ctx context.Context, roomID string) ([]model.Message, error) {
	room, err := s.directory.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}

	msgs := make([]model.Message, 0, len(rows))
	for i := range rows {
		msgs = append(msgs, toMessage(room.IsAnonymous, &rows[i]))
	}
	return msgs, nil
}

// normalizeContent validates content for kind without touching the backend.
// Text is trimmed; code keeps its indentation and trailing lines.
func normalizeContent(content string, kind model.MessageKind) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", errs.NewError(errs.ErrMessageContentEmpty)
	}
	if kind == model.KindText {
		content = strings.TrimSpace(content)
	}
	if len(content) > MaxContentBytes {
		return "", errs.NewError(errs.ErrMessageContentTooLong)
	}
	return content, nil
}

// Send validates and writes a message, choosing the sender by room policy:
// anonymous rooms always use the room identity; identity rooms use the profile
// when it is complete and reject an incomplete one with ErrProfileRequired.
func (s *MessageStore) Send(ctx context.Context, in SendInput, author Author) (*model.Message, error) {
	kind := in.Kind
	if kind == "" {
		kind = model.KindText
	}
	if !kind.Valid() {
		return nil, errs.NewError(errs.ErrMessageKindInvalid)
	}

	content, err := normalizeContent(in.Content, kind)
	if err != nil {
		return nil, err
	}

	room, err := s.directory.GetRoom(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}

	msg := model.NewMessage{
		RoomID:    room.ID,
		Content:   content,
		Kind:      kind,
		ReplyToID: in.ReplyToID,
	}

	if room.IsAnonymous || author.Profile == nil || author.PreferAnonymous {
		identity, err := s.resolver.GetOrCreate(ctx, room.ID, author.SessionToken, author.userID())
		if err != nil {
			return nil, err
		}
		msg.IdentityID = identity.ID
	} else {
		if !author.Profile.IsComplete() {
			return nil, errs.NewError(errs.ErrProfileRequired)
		}
		msg.UserID = author.Profile.ID
	}

	row, err := s.store.InsertMessage(ctx, msg)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", room.ID).Msg("Message insert rejected.")
		return nil, err
	}

	sent := toMessage(room.IsAnonymous, row)
	s.logger.Debug().
		Str("room_id", room.ID).
		Str("message_id", sent.ID).
		Str("sender_kind", string(sent.Sender.Kind)).
		Msg("Message sent.")
	return &sent, nil
}

// Edit replaces the content of a message the author owns and stamps EditedAt.
func (s *MessageStore) Edit(ctx context.Context, messageID, content string, author Author) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errs.NewError(errs.ErrMessageContentEmpty)
	}

	row, room, err := s.owned(ctx, messageID, author)
	if err != nil {
		return nil, err
	}

	content, err = normalizeContent(content, row.Kind)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateMessageContent(ctx, messageID, content, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	msg := toMessage(room.IsAnonymous, updated)
	return &msg, nil
}

// Delete removes a message the author owns once confirm approves and returns
// the ID of the room it was in. A nil confirmer counts as declined.
func (s *MessageStore) Delete(ctx context.Context, messageID string, author Author, confirm Confirmer) (string, error) {
	row, _, err := s.owned(ctx, messageID, author)
	if err != nil {
		return "", err
	}

	if confirm == nil {
		return "", errs.NewError(errs.ErrConfirmationDeclined)
	}

	snippet, _ := model.Snippet(row.Content)
	ok, err := confirm.Confirm(ctx, "Delete message \""+snippet+"\"? This cannot be undone.")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errs.NewError(errs.ErrConfirmationDeclined)
	}

	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return "", err
	}

	s.logger.Debug().Str("room_id", row.RoomID).Str("message_id", messageID).Msg("Message deleted.")
	return row.RoomID, nil
}

// owned loads messageID and checks that author sent it.
func (s *MessageStore) owned(ctx context.Context, messageID string, author Author) (*backend.MessageRow, *model.Room, error) {
	row, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}

	room, err := s.directory.GetRoom(ctx, row.RoomID)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case row.UserID != "":
		if author.Profile == nil || author.Profile.ID != row.UserID {
			return nil, nil, errs.NewError(errs.ErrNotMessageOwner)
		}
	case row.IdentityID != "":
		identity, err := s.resolver.Lookup(ctx, row.RoomID, author.SessionToken, author.userID())
		if err != nil {
			return nil, nil, err
		}
		if identity == nil || identity.ID != row.IdentityID {
			return nil, nil, errs.NewError(errs.ErrNotMessageOwner)
		}
	default:
		return nil, nil, errs.NewError(errs.ErrNotMessageOwner)
	}

	return row, room, nil
}

// toMessage resolves the sender variant and reply preview of a row.
func toMessage(anonymousRoom bool, row *backend.MessageRow) model.Message {
	msg := row.Message
	msg.Sender = model.ResolveSender(anonymousRoom, row.Profile, row.Identity)
	msg.ReplyPreview = nil

	if row.ReplyTo != nil {
		snippet, truncated := model.Snippet(row.ReplyTo.Content)
		msg.ReplyPreview = &model.ReplyPreview{
			MessageID:  row.ReplyTo.ID,
			SenderName: model.ResolveSender(anonymousRoom, row.ReplyTo.Profile, row.ReplyTo.Identity).DisplayName(),
			Snippet:    snippet,
			Truncated:  truncated,
		}
	}
	return msg
}
