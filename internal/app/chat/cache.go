/*
Package chat is the client-side chat synchronization layer: the room directory,
the anonymous identity resolver, the message store and sender, the realtime
synchronizer, the UI state container and the Session that wires them together.

This file holds the read-through caches. Both caches are written only by a
completed fetch whose generation is still current; invalidation bumps the
generation, so a fetch that started before an invalidation can never store
its (possibly stale) result.
*/
package chat

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"chatsync/internal/app/model"
)

// DefaultMessageCacheRooms bounds how many rooms keep a cached message list.
const DefaultMessageCacheRooms = 32

// MessageCache caches message lists per room.
type MessageCache struct {
	mu    sync.Mutex
	lists *lru.Cache
	gens  map[string]uint64
}

// NewMessageCache constructs a cache holding at most size rooms.
func NewMessageCache(size int) (*MessageCache, error) {
	if size <= 0 {
		size = DefaultMessageCacheRooms
	}
	lists, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MessageCache{lists: lists, gens: make(map[string]uint64)}, nil
}

// Get returns a copy of the cached list for roomID.
func (c *MessageCache) Get(roomID string) ([]model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lists.Get(roomID)
	if !ok {
		return nil, false
	}
	return cloneMessages(v.([]model.Message)), true
}

// Generation returns the current generation of roomID.
func (c *MessageCache) Generation(roomID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[roomID]
}

// Invalidate drops roomID's list and returns the new generation.
func (c *MessageCache) Invalidate(roomID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lists.Remove(roomID)
	c.gens[roomID]++
	return c.gens[roomID]
}

// Fill stores msgs if gen is still current and reports whether it did.
func (c *MessageCache) Fill(roomID string, gen uint64, msgs []model.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[roomID] != gen {
		return false
	}
	c.lists.Add(roomID, cloneMessages(msgs))
	return true
}

// RoomCache caches the room list.
type RoomCache struct {
	mu    sync.Mutex
	rooms []model.Room
	valid bool
	gen   uint64
}

// Get returns a copy of the cached room list.
func (c *RoomCache) Get() ([]model.Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		return nil, false
	}
	return append([]model.Room(nil), c.rooms...), true
}

// Find looks a room up in the cached list.
func (c *RoomCache) Find(roomID string) (model.Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		return model.Room{}, false
	}
	for _, r := range c.rooms {
		if r.ID == roomID {
			return r, true
		}
	}
	return model.Room{}, false
}

// Generation returns the current generation.
func (c *RoomCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Invalidate drops the list.
func (c *RoomCache) Invalidate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rooms = nil
	c.valid = false
	c.gen++
	return c.gen
}

// Fill stores rooms if gen is still current.
func (c *RoomCache) Fill(gen uint64, rooms []model.Room) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		return false
	}
	c.rooms = append([]model.Room(nil), rooms...)
	c.valid = true
	return true
}

func cloneMessages(msgs []model.Message) []model.Message {
	if msgs == nil {
		return nil
	}
	return append([]model.Message(nil), msgs...)
}
