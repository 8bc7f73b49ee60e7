// Package lock provides per-conversation mutual exclusion. The lock is
// the sole serialization primitive between turns of one conversation;
// turns of different conversations run fully in parallel.
package lock

import (
	"context"
	"time"
)

// Locker is the conversation lock contract. Acquire fails fast with
// errx.ErrLockBusy when the lock is held; it never blocks waiting for
// release. The TTL must exceed worst-case turn latency with margin.
type Locker interface {
	// Acquire takes the lock and returns a holder token.
	Acquire(ctx context.Context, conversationID string, ttl time.Duration) (string, error)

	// Release frees the lock if token still holds it. A token mismatch
	// is a no-op, never an error: after a TTL expiry another turn may
	// legitimately own the lock.
	Release(ctx context.Context, conversationID string, token string) error
}
