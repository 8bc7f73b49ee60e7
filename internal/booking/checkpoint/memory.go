package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/garagebot-core/server/internal/booking/state"
	errx "github.com/garagebot-core/server/internal/core/error"
)

// MemoryStore is an in-process Store for tests and single-node runs.
// Records are append-only like the Redis store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]*Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string][]*Checkpoint{}}
}

func (s *MemoryStore) Load(_ context.Context, conversationID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.records[conversationID]
	if len(history) == 0 {
		return nil, nil
	}
	latest := history[len(history)-1]
	return &Checkpoint{
		ConversationID: latest.ConversationID,
		Version:        latest.Version,
		State:          latest.State.Clone(),
		Timestamp:      latest.Timestamp,
	}, nil
}

func (s *MemoryStore) Save(_ context.Context, conversationID string, expectedVersion int64, snap *state.Conversation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	history := s.records[conversationID]
	if len(history) > 0 {
		current = history[len(history)-1].Version
	}
	if current != expectedVersion {
		return 0, errx.ErrVersionConflict
	}

	snap.Version = expectedVersion + 1
	s.records[conversationID] = append(history, &Checkpoint{
		ConversationID: conversationID,
		Version:        snap.Version,
		State:          snap.Clone(),
		Timestamp:      time.Now().UTC(),
	})
	return snap.Version, nil
}

// Versions returns the count of committed checkpoints, for tests.
func (s *MemoryStore) Versions(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[conversationID])
}

var _ Store = (*MemoryStore)(nil)
