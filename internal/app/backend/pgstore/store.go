package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"chatsync/internal/app/backend"
	"chatsync/internal/app/model"
	"chatsync/internal/app/user"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
	"chatsync/internal/pkg/randx"
)

// Store is the PostgreSQL backend.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var _ backend.Store = (*Store)(nil)

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, logger: logx.Component("pgstore")}
}

const roomColumns = `id::text, name, description, is_anonymous, coalesce(created_by, ''),
	created_at, coalesce(last_message_id::text, ''), last_activity_at`

func scanRoom(row pgx.Row) (*model.Room, error) {
	var r model.Room
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsAnonymous, &r.CreatedBy,
		&r.CreatedAt, &r.LastMessageID, &r.LastActivityAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, mapError(err, errs.ErrRoomNotFound)
	}
	defer rows.Close()

	rooms := make([]model.Room, 0)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, mapError(err, errs.ErrRoomNotFound)
		}
		rooms = append(rooms, *r)
	}
	return rooms, mapError(rows.Err(), errs.ErrRoomNotFound)
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*model.Room, error) {
	if !randx.IsValidID(roomID) {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}

	r, err := scanRoom(s.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, roomID))
	if err != nil {
		return nil, mapError(err, errs.ErrRoomNotFound)
	}
	return r, nil
}

func (s *Store) InsertRoom(ctx context.Context, in model.NewRoom) (*model.Room, error) {
	r, err := scanRoom(s.pool.QueryRow(ctx, `
		INSERT INTO rooms (name, description, is_anonymous, created_by)
		VALUES ($1, $2, $3, nullif($4, ''))
		RETURNING `+roomColumns,
		in.Name, in.Description, in.IsAnonymous, in.CreatedBy))
	if err != nil {
		return nil, mapError(err, errs.ErrRoomNotFound)
	}
	return r, nil
}

// Session tokens are read only to rebuild the owner on the caller's own row;
// message joins never select them.
const identityColumns = `id::text, room_id::text, coalesce(session_token, ''), coalesce(user_id, ''),
	display_name, color, created_at`

func scanIdentity(row pgx.Row) (*model.AnonymousIdentity, error) {
	var a model.AnonymousIdentity
	if err := row.Scan(&a.ID, &a.RoomID, &a.SessionToken, &a.UserID, &a.DisplayName, &a.Color, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) FindIdentity(ctx context.Context, roomID string, owner model.IdentityOwner) (*model.AnonymousIdentity, error) {
	if !randx.IsValidID(roomID) {
		return nil, errs.NewError(errs.ErrRecordNotFound)
	}

	a, err := scanIdentity(s.pool.QueryRow(ctx, `
		SELECT `+identityColumns+` FROM anonymous_identities
		WHERE room_id = $1 AND owner_key = $2`, roomID, owner.Key()))
	if err != nil {
		return nil, mapError(err, errs.ErrRecordNotFound)
	}
	return a, nil
}

func (s *Store) InsertIdentity(ctx context.Context, in model.AnonymousIdentity) (*model.AnonymousIdentity, error) {
	if !randx.IsValidID(in.RoomID) {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}

	a, err := scanIdentity(s.pool.QueryRow(ctx, `
		INSERT INTO anonymous_identities (room_id, session_token, user_id, display_name, color)
		VALUES ($1, nullif($2, ''), nullif($3, ''), $4, $5)
		RETURNING `+identityColumns,
		in.RoomID, in.SessionToken, in.UserID, in.DisplayName, in.Color))
	if err != nil {
		return nil, mapError(err, errs.ErrRoomNotFound)
	}
	return a, nil
}

const messageSelect = `
	SELECT m.id::text, m.room_id::text, m.content, m.kind,
		coalesce(m.user_id, ''), coalesce(m.identity_id::text, ''), coalesce(m.reply_to_id::text, ''),
		m.edited_at, m.created_at,
		p.id, p.username, p.display_name, p.avatar_url, p.onboarding_completed,
		a.id::text, a.display_name, a.color, a.created_at,
		r.id::text, r.content,
		rp.id, rp.username, rp.display_name, rp.avatar_url, rp.onboarding_completed,
		ra.id::text, ra.display_name, ra.color, ra.created_at
	FROM messages m
	LEFT JOIN profiles p ON p.id = m.user_id
	LEFT JOIN anonymous_identities a ON a.id = m.identity_id
	LEFT JOIN messages r ON r.id = m.reply_to_id
	LEFT JOIN profiles rp ON rp.id = r.user_id
	LEFT JOIN anonymous_identities ra ON ra.id = r.identity_id`

// nullProfile and nullIdentity hold the LEFT JOIN columns of one author.
type nullProfile struct {
	id, username, displayName, avatarURL *string
	onboarded                            *bool
}

func (n *nullProfile) targets() []any {
	return []any{&n.id, &n.username, &n.displayName, &n.avatarURL, &n.onboarded}
}

func (n *nullProfile) profile() *user.Profile {
	if n.id == nil {
		return nil
	}
	p := &user.Profile{ID: *n.id}
	if n.username != nil {
		p.Username = *n.username
	}
	if n.displayName != nil {
		p.DisplayName = *n.displayName
	}
	if n.avatarURL != nil {
		p.AvatarURL = *n.avatarURL
	}
	if n.onboarded != nil {
		p.OnboardingCompleted = *n.onboarded
	}
	return p
}

type nullIdentity struct {
	id, displayName, color *string
	createdAt              *time.Time
}

func (n *nullIdentity) targets() []any {
	return []any{&n.id, &n.displayName, &n.color, &n.createdAt}
}

func (n *nullIdentity) identity(roomID string) *model.AnonymousIdentity {
	if n.id == nil {
		return nil
	}
	a := &model.AnonymousIdentity{ID: *n.id, RoomID: roomID}
	if n.displayName != nil {
		a.DisplayName = *n.displayName
	}
	if n.color != nil {
		a.Color = *n.color
	}
	if n.createdAt != nil {
		a.CreatedAt = *n.createdAt
	}
	return a
}

func scanMessage(row pgx.Row) (*backend.MessageRow, error) {
	var (
		out                     backend.MessageRow
		kind                    string
		author, replyAuthor     nullProfile
		identity, replyIdentity nullIdentity
		replyID, replyContent   *string
	)

	dest := []any{
		&out.ID, &out.RoomID, &out.Content, &kind,
		&out.UserID, &out.IdentityID, &out.ReplyToID,
		&out.EditedAt, &out.CreatedAt,
	}
	dest = append(dest, author.targets()...)
	dest = append(dest, identity.targets()...)
	dest = append(dest, &replyID, &replyContent)
	dest = append(dest, replyAuthor.targets()...)
	dest = append(dest, replyIdentity.targets()...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	out.Kind = model.MessageKind(kind)
	out.Profile = author.profile()
	out.Identity = identity.identity(out.RoomID)

	if replyID != nil {
		reply := &backend.ReplyRow{ID: *replyID}
		if replyContent != nil {
			reply.Content = *replyContent
		}
		reply.Profile = replyAuthor.profile()
		reply.Identity = replyIdentity.identity(out.RoomID)
		out.ReplyTo = reply
	}
	return &out, nil
}

func (s *Store) ListMessages(ctx context.Context, roomID string) ([]backend.MessageRow, error) {
	if !randx.IsValidID(roomID) {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}

	rows, err := s.pool.Query(ctx, messageSelect+` WHERE m.room_id = $1 ORDER BY m.created_at, m.id`, roomID)
	if err != nil {
		return nil, mapError(err, errs.ErrRoomNotFound)
	}
	defer rows.Close()

	out := make([]backend.MessageRow, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapError(err, errs.ErrRoomNotFound)
		}
		out = append(out, *m)
	}
	return out, mapError(rows.Err(), errs.ErrRoomNotFound)
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*backend.MessageRow, error) {
	if !randx.IsValidID(messageID) {
		return nil, errs.NewError(errs.ErrMessageNotFound)
	}
	m, err := scanMessage(s.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, messageID))
	if err != nil {
		return nil, mapError(err, errs.ErrMessageNotFound)
	}
	return m, nil
}

// InsertMessage writes the message; the room's last-activity pointer is
// updated by a trigger inside the same transaction.
func (s *Store) InsertMessage(ctx context.Context, in model.NewMessage) (*backend.MessageRow, error) {
	if !randx.IsValidID(in.RoomID) {
		return nil, errs.NewError(errs.ErrRoomNotFound)
	}
	if in.ReplyToID != "" && !randx.IsValidID(in.ReplyToID) {
		return nil, errs.NewError(errs.ErrMessageNotFound)
	}

	var row *backend.MessageRow
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
			INSERT INTO messages (room_id, content, kind, user_id, identity_id, reply_to_id)
			VALUES ($1, $2, $3, nullif($4, ''), nullif($5, '')::uuid, nullif($6, '')::uuid)
			RETURNING id::text`,
			in.RoomID, in.Content, string(in.Kind), in.UserID, in.IdentityID, in.ReplyToID).Scan(&id)
		if err != nil {
			return err
		}

		row, err = scanMessage(tx.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, id))
		return err
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("room_id", in.RoomID).Msg("Message insert failed.")
		return nil, mapError(err, errs.ErrRoomNotFound)
	}
	return row, nil
}

func (s *Store) UpdateMessageContent(ctx context.Context, messageID, content string, editedAt time.Time) (*backend.MessageRow, error) {
	if !randx.IsValidID(messageID) {
		return nil, errs.NewError(errs.ErrMessageNotFound)
	}

	tag, err := s.pool.Exec(ctx, `UPDATE messages SET content = $2, edited_at = $3 WHERE id = $1`, messageID, content, editedAt)
	if err != nil {
		return nil, mapError(err, errs.ErrMessageNotFound)
	}
	if tag.RowsAffected() == 0 {
		return nil, errs.NewError(errs.ErrMessageNotFound)
	}
	return s.GetMessage(ctx, messageID)
}

func (s *Store) DeleteMessage(ctx context.Context, messageID string) error {
	if !randx.IsValidID(messageID) {
		return errs.NewError(errs.ErrMessageNotFound)
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return mapError(err, errs.ErrMessageNotFound)
	}
	if tag.RowsAffected() == 0 {
		return errs.NewError(errs.ErrMessageNotFound)
	}
	return nil
}

const profileColumns = `id, username, display_name, avatar_url, onboarding_completed`

func (s *Store) GetProfile(ctx context.Context, userID string) (*user.Profile, error) {
	var p user.Profile
	err := s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID).
		Scan(&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.OnboardingCompleted)
	if err != nil {
		return nil, mapError(err, errs.ErrRecordNotFound)
	}
	return &p, nil
}

// UpsertProfile creates or replaces a profile.
func (s *Store) UpsertProfile(ctx context.Context, p user.Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			onboarding_completed = EXCLUDED.onboarding_completed`,
		p.ID, p.Username, p.DisplayName, p.AvatarURL, p.OnboardingCompleted)
	return mapError(err, errs.ErrRecordNotFound)
}
