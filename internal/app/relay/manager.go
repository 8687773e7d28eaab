package relay

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

const (
	// DefaultMaxMembers caps the distinct presence keys per topic.
	DefaultMaxMembers = 200

	// DefaultInactivityTimeout is how long an empty topic lingers before shutting down.
	DefaultInactivityTimeout = 5 * time.Minute
)

// Options configures every topic created by a Manager.
type Options struct {
	MaxMembers        int
	InactivityTimeout time.Duration

	// JWTSecret signs refreshed channel tokens.
	JWTSecret string
}

// Manager creates topics on first join and forgets them once they shut down.
type Manager struct {
	topics map[string]*Topic
	opts   Options
	closed bool

	// mu protects topics and closed.
	mu sync.RWMutex

	// cleanup receives topics whose Run loop has returned.
	cleanup chan *Topic

	// wg waits for runCleanupLoop during shutdown.
	wg sync.WaitGroup

	logger zerolog.Logger
}

// NewManager constructs a Manager and starts its cleanup loop.
func NewManager(opts Options) *Manager {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = DefaultInactivityTimeout
	}
	if opts.MaxMembers < 0 {
		opts.MaxMembers = 0
	}

	m := &Manager{
		topics:  make(map[string]*Topic),
		opts:    opts,
		cleanup: make(chan *Topic, 16),
		logger:  logx.Component("relay_manager"),
	}

	m.wg.Add(1)
	go m.runCleanupLoop()

	return m
}

func (m *Manager) runCleanupLoop() {
	defer m.wg.Done()

	m.logger.Info().Msg("Cleanup loop started.")

	for t := range m.cleanup {
		m.deleteTopic(t)
	}

	m.logger.Info().Msg("Cleanup loop stopped.")
}

// deleteTopic forgets t unless its name has already been taken by a newer topic.
func (m *Manager) deleteTopic(t *Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.topics[t.Name]; ok && current == t {
		delete(m.topics, t.Name)
		m.logger.Info().Str("topic", t.Name).Msg("Topic removed.")
	}
}

func (m *Manager) getOrCreate(name string) (*Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errs.NewError(errs.ErrBackendUnavailable)
	}

	if t, ok := m.topics[name]; ok {
		select {
		case <-t.done:
		default:
			return t, nil
		}
	}

	t := newTopic(name, m.opts, m.cleanup)
	m.topics[name] = t
	go t.Run()

	m.logger.Info().Str("topic", name).Int("max_members", m.opts.MaxMembers).Msg("New topic created and started.")
	return t, nil
}

// Attach joins c to the topic named in its channel token, creating the topic
// when needed. Once Attach returns, c has received its presence sync.
func (m *Manager) Attach(c *Client) error {
	name := c.claims.Topic
	if !ValidTopic(name) {
		return errs.NewError(errs.ErrTopicInvalid)
	}

	for {
		t, err := m.getOrCreate(name)
		if err != nil {
			return err
		}

		c.topic = t
		if t.add(c) {
			return nil
		}
		// The topic shut down between lookup and registration.
	}
}

// Topic returns the running topic called name, or nil.
func (m *Manager) Topic(name string) *Topic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.topics[name]
}

// TopicCount returns the number of live topics.
func (m *Manager) TopicCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.topics)
}

// Shutdown stops every topic, waits for them, then stops the cleanup loop.
// Attach fails afterwards. Calling Shutdown again is a no-op.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down relay manager...")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	running := make([]*Topic, 0, len(m.topics))
	for _, t := range m.topics {
		running = append(running, t)
	}
	m.mu.Unlock()

	for _, t := range running {
		t.Stop()
	}
	for _, t := range running {
		<-t.done
	}

	close(m.cleanup)
	m.wg.Wait()

	m.logger.Info().Msg("Relay manager shutdown complete.")
}
