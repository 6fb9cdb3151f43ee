// Package store keeps message status for client polling.
package store

import (
	"sync"

	"github.com/lumendark/lumendark/pkg/core"
)

// MessageStore maps message id to the latest published snapshot. The engine
// loop owns all status transitions after the initial pending insert; HTTP
// handlers and the websocket hub read concurrently. Snapshots are replaced
// whole, so a reader that has seen processing can never observe pending.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[string]*core.Message
	subs     []func(core.Message)
}

func NewMessageStore() *MessageStore {
	return &MessageStore{messages: make(map[string]*core.Message)}
}

// Add publishes the initial pending snapshot. Must happen before the
// message is enqueued.
func (s *MessageStore) Add(m *core.Message) {
	s.publish(m)
}

// Get returns a copy of the latest snapshot for the id.
func (s *MessageStore) Get(id string) (core.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return core.Message{}, false
	}
	return *m.Clone(), true
}

// Update publishes a new snapshot and notifies subscribers.
func (s *MessageStore) Update(m *core.Message) {
	s.publish(m)
}

// Subscribe registers a callback invoked with every published snapshot.
// Register before the loops start; callbacks must not block.
func (s *MessageStore) Subscribe(fn func(core.Message)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *MessageStore) publish(m *core.Message) {
	snapshot := m.Clone()
	s.mu.Lock()
	s.messages[m.ID] = snapshot
	subs := s.subs
	s.mu.Unlock()
	for _, fn := range subs {
		fn(*snapshot)
	}
}

// Len is the number of tracked messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
