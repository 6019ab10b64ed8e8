// Package router implements per-connection topic subscriptions (the
// Subscription Manager), the uniform service handler surface, and the
// namespace dispatcher that sits between the connection loop and the
// individual service handlers.
package router

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Manager matches outbound event topics against a connection's current
// subscriptions. It is connection-scoped and therefore needs no external
// synchronization beyond its own mutex, which guards against concurrent
// subscribe/unsubscribe calls racing the reaper tick's matches() sweep.
type Manager struct {
	mu       sync.Mutex
	patterns map[uuid.UUID]string
	catchAll map[uuid.UUID]struct{}
	exact    map[string]map[uuid.UUID]struct{}
	prefix   map[string]map[uuid.UUID]struct{}
}

func NewManager() *Manager {
	return &Manager{
		patterns: make(map[uuid.UUID]string),
		catchAll: make(map[uuid.UUID]struct{}),
		exact:    make(map[string]map[uuid.UUID]struct{}),
		prefix:   make(map[string]map[uuid.UUID]struct{}),
	}
}

// Subscribe registers a fresh subscription for pattern and returns its id.
// pattern is either "*", "prefix.*", or an exact topic string.
func (m *Manager) Subscribe(pattern string) uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[id] = pattern
	m.insertLocked(id, pattern)
	return id
}

func (m *Manager) insertLocked(id uuid.UUID, pattern string) {
	switch {
	case pattern == "*":
		m.catchAll[id] = struct{}{}
	case strings.HasSuffix(pattern, ".*"):
		p := strings.TrimSuffix(pattern, "*") // keep trailing dot as the storage key
		set := m.prefix[p]
		if set == nil {
			set = make(map[uuid.UUID]struct{})
			m.prefix[p] = set
		}
		set[id] = struct{}{}
	default:
		set := m.exact[pattern]
		if set == nil {
			set = make(map[uuid.UUID]struct{})
			m.exact[pattern] = set
		}
		set[id] = struct{}{}
	}
}

// Unsubscribe removes a subscription by id. It is idempotent: removing an
// unknown id is a no-op that returns false.
func (m *Manager) Unsubscribe(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pattern, ok := m.patterns[id]
	if !ok {
		return false
	}
	delete(m.patterns, id)
	switch {
	case pattern == "*":
		delete(m.catchAll, id)
	case strings.HasSuffix(pattern, ".*"):
		p := strings.TrimSuffix(pattern, "*")
		if set := m.prefix[p]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(m.prefix, p)
			}
		}
	default:
		if set := m.exact[pattern]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(m.exact, pattern)
			}
		}
	}
	return true
}

// Matches reports whether topic is covered by any currently registered
// pattern.
func (m *Manager) Matches(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.catchAll) > 0 {
		return true
	}
	if set := m.exact[topic]; len(set) > 0 {
		return true
	}
	for p := range m.prefix {
		if strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

// Clear removes every subscription, e.g. on connection teardown.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = make(map[uuid.UUID]string)
	m.catchAll = make(map[uuid.UUID]struct{})
	m.exact = make(map[string]map[uuid.UUID]struct{})
	m.prefix = make(map[string]map[uuid.UUID]struct{})
}

// Len returns the number of currently registered subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patterns)
}
