package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	errx "github.com/garagebot-core/server/internal/core/error"
)

type memLock struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is an in-process Locker for tests and single-node runs.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memLock
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: map[string]memLock{}, now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, conversationID string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[conversationID]; ok && l.now().Before(held.expiresAt) {
		return "", errx.ErrLockBusy
	}

	token := uuid.NewString()
	l.locks[conversationID] = memLock{token: token, expiresAt: l.now().Add(ttl)}
	return token, nil
}

func (l *MemoryLocker) Release(_ context.Context, conversationID string, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[conversationID]; ok && held.token == token {
		delete(l.locks, conversationID)
	}
	// Mismatch after TTL expiry is a no-op.
	return nil
}

var _ Locker = (*MemoryLocker)(nil)
