package chat

import (
	"sort"
	"sync"
	"time"

	"chatsync/internal/app/backend"
)

// DefaultTypingTimeout is how long a typing indicator lives without renewal.
const DefaultTypingTimeout = 4 * time.Second

// Typist is someone currently composing in the active room.
type Typist struct {
	Key         string
	DisplayName string
	Color       string
	ExpiresAt   time.Time
}

type typingEntry struct {
	typist Typist
	timer  *time.Timer
}

// TypingTracker keeps the typing indicators of one room. Indicators from the
// local member are ignored; repeated events from one key collapse into one
// entry whose expiry is pushed out.
type TypingTracker struct {
	mu       sync.Mutex
	self     string
	timeout  time.Duration
	entries  map[string]*typingEntry
	closed   bool
	onChange func([]Typist)
}

// NewTypingTracker constructs a tracker ignoring selfKey. onChange may be nil.
func NewTypingTracker(selfKey string, timeout time.Duration, onChange func([]Typist)) *TypingTracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingTracker{
		self:     selfKey,
		timeout:  timeout,
		entries:  make(map[string]*typingEntry),
		onChange: onChange,
	}
}

// Apply folds a broadcast event into the tracker. A presence leave drops the
// member's indicator as well.
func (t *TypingTracker) Apply(e backend.BroadcastEvent) {
	if e.From.Key == "" || e.From.Key == t.self {
		return
	}

	var changed bool
	switch e.Kind {
	case backend.BroadcastTyping:
		changed = t.start(e.From)
	case backend.BroadcastStopTyping, backend.PresenceLeave:
		changed = t.stop(e.From.Key, nil)
	}

	if changed {
		t.notify()
	}
}

func (t *TypingTracker) start(from backend.Member) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	if old, ok := t.entries[from.Key]; ok {
		old.timer.Stop()
	}

	entry := &typingEntry{typist: Typist{
		Key:         from.Key,
		DisplayName: from.DisplayName,
		Color:       from.Color,
		ExpiresAt:   time.Now().Add(t.timeout),
	}}
	entry.timer = time.AfterFunc(t.timeout, func() {
		if t.stop(from.Key, entry) {
			t.notify()
		}
	})
	t.entries[from.Key] = entry
	return true
}

// stop removes key. When only is set, the entry is removed only if it is still
// that entry, so a timer from a renewed indicator does nothing.
func (t *TypingTracker) stop(key string, only *typingEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[key]
	if !ok || (only != nil && entry != only) {
		return false
	}
	entry.timer.Stop()
	delete(t.entries, key)
	return !t.closed
}

func (t *TypingTracker) notify() {
	if t.onChange != nil {
		t.onChange(t.Typists())
	}
}

// Typists returns the live indicators ordered by display name.
func (t *TypingTracker) Typists() []Typist {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Typist, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.typist)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].Key < out[j].Key
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

// Close stops all timers. Later events are ignored.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for key, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, key)
	}
}
