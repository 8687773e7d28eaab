package chat

import (
	"sort"
	"sync"
	"time"

	"chatsync/internal/app/backend"
)

// Presence is a member currently in the room.
type Presence struct {
	Key         string
	DisplayName string
	Color       string
	JoinedAt    time.Time
}

// PresenceSet tracks who is in a room from join, leave and sync events.
type PresenceSet struct {
	mu      sync.Mutex
	members map[string]Presence
}

// NewPresenceSet constructs an empty set.
func NewPresenceSet() *PresenceSet {
	return &PresenceSet{members: make(map[string]Presence)}
}

// Apply folds e into the set and reports whether membership changed.
func (p *PresenceSet) Apply(e backend.BroadcastEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case backend.PresenceSync:
		next := make(map[string]Presence, len(e.Members))
		for _, m := range e.Members {
			joined := e.At
			if prev, ok := p.members[m.Key]; ok {
				joined = prev.JoinedAt
			}
			next[m.Key] = Presence{Key: m.Key, DisplayName: m.DisplayName, Color: m.Color, JoinedAt: joined}
		}
		p.members = next
		return true

	case backend.PresenceJoin:
		if _, ok := p.members[e.From.Key]; ok {
			return false
		}
		p.members[e.From.Key] = Presence{Key: e.From.Key, DisplayName: e.From.DisplayName, Color: e.From.Color, JoinedAt: e.At}
		return true

	case backend.PresenceLeave:
		if _, ok := p.members[e.From.Key]; !ok {
			return false
		}
		delete(p.members, e.From.Key)
		return true
	}
	return false
}

// Members returns everyone present ordered by display name.
func (p *PresenceSet) Members() []Presence {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Presence, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].Key < out[j].Key
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}
