package chat

import (
	"context"
	"sync"

	"chatsync/internal/app/user"
	"chatsync/internal/pkg/logx"
	"chatsync/internal/pkg/randx"
)

// Prefs is the persisted subset of the UI state.
type Prefs struct {
	SessionToken   string `json:"sessionToken"`
	Theme          string `json:"theme,omitempty"`
	AnonymousMode  bool   `json:"anonymousMode"`
	OnboardingStep int    `json:"onboardingStep"`
}

// Persister loads and saves Prefs across restarts.
type Persister interface {
	// Load reports false when nothing was saved yet.
	Load(ctx context.Context) (Prefs, bool, error)
	Save(ctx context.Context, p Prefs) error
}

// UIState is a point-in-time copy of the State.
type UIState struct {
	Prefs

	ActiveRoomID string
	Draft        string
	ReplyToID    string
	Typing       bool
	Profile      *user.Profile
}

// State holds the client's UI state. It is passed explicitly to whatever needs it.
type State struct {
	mu        sync.Mutex
	persister Persister

	prefs      Prefs
	activeRoom string
	draft      string
	replyTo    string
	typing     bool
	profile    *user.Profile
}

// NewState loads the persisted prefs, minting a session token when none is stored.
// A nil persister keeps everything in memory.
func NewState(ctx context.Context, persister Persister) (*State, error) {
	s := &State{persister: persister}

	if persister != nil {
		prefs, found, err := persister.Load(ctx)
		if err != nil {
			return nil, err
		}
		if found {
			s.prefs = prefs
		}
	}

	if !randx.IsValidSessionToken(s.prefs.SessionToken) {
		token, err := randx.SessionToken()
		if err != nil {
			return nil, err
		}
		s.prefs.SessionToken = token
		if err := s.save(ctx, s.prefs); err != nil {
			return nil, err
		}
		logx.Debug("Minted new session token.")
	}

	return s, nil
}

func (s *State) save(ctx context.Context, p Prefs) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Save(ctx, p)
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() UIState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return UIState{
		Prefs:        s.prefs,
		ActiveRoomID: s.activeRoom,
		Draft:        s.draft,
		ReplyToID:    s.replyTo,
		Typing:       s.typing,
		Profile:      s.profile,
	}
}

// SessionToken returns the persisted session token.
func (s *State) SessionToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.SessionToken
}

// SelectRoom makes roomID active. The reply target and typing flag belong to
// the previous room and are cleared; the draft is kept.
func (s *State) SelectRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeRoom = roomID
	s.replyTo = ""
	s.typing = false
}

// ActiveRoom returns the active room ID.
func (s *State) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoom
}

// SetDraft replaces the composer text.
func (s *State) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// SetReplyTo sets the message being answered. An empty ID clears it.
func (s *State) SetReplyTo(messageID string) {
	s.mu.Lock()
	s.replyTo = messageID
	s.mu.Unlock()
}

// SetTyping records the local typing flag and reports whether it changed.
func (s *State) SetTyping(typing bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.typing != typing
	s.typing = typing
	return changed
}

// CommitSend clears the draft and the reply target after a successful send.
func (s *State) CommitSend() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.draft = ""
	s.replyTo = ""
	s.typing = false
}

// SetProfile records the signed-in profile.
func (s *State) SetProfile(p *user.Profile) {
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
}

// Profile returns the signed-in profile, or nil.
func (s *State) Profile() *user.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Logout clears the auth-bound fields. Prefs and the session token survive.
func (s *State) Logout() {
	s.mu.Lock()
	s.profile = nil
	s.mu.Unlock()
}

// SetAnonymousMode stores the posting-mode preference.
func (s *State) SetAnonymousMode(ctx context.Context, on bool) error {
	return s.updatePrefs(ctx, func(p *Prefs) { p.AnonymousMode = on })
}

// SetTheme stores the theme preference.
func (s *State) SetTheme(ctx context.Context, theme string) error {
	return s.updatePrefs(ctx, func(p *Prefs) { p.Theme = theme })
}

// SetOnboardingStep stores onboarding progress.
func (s *State) SetOnboardingStep(ctx context.Context, step int) error {
	return s.updatePrefs(ctx, func(p *Prefs) { p.OnboardingStep = step })
}

func (s *State) updatePrefs(ctx context.Context, fn func(*Prefs)) error {
	s.mu.Lock()
	next := s.prefs
	fn(&next)
	s.mu.Unlock()

	if err := s.save(ctx, next); err != nil {
		return err
	}

	s.mu.Lock()
	s.prefs = next
	s.mu.Unlock()
	return nil
}
