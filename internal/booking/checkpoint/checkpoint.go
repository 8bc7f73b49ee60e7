// Package checkpoint persists versioned conversation snapshots.
// Checkpoints are append-only; only the highest version is
// authoritative, older ones stay around for audit and rollback until a
// deployment-level retention policy prunes them.
package checkpoint

import (
	"context"
	"time"

	"github.com/garagebot-core/server/internal/booking/state"
)

// Checkpoint is one committed conversation snapshot.
type Checkpoint struct {
	ConversationID string              `json:"conversation_id"`
	Version        int64               `json:"version"`
	State          *state.Conversation `json:"state"`
	Timestamp      time.Time           `json:"timestamp"`
}

// Store is the versioned persistence contract. Save performs a
// compare-and-swap on the version: it commits the snapshot as
// expectedVersion+1 or fails with errx.ErrVersionConflict. The
// conversation lock is the primary serialization mechanism; the version
// check defends against lock-bypass and TTL-expiry races.
type Store interface {
	// Load returns the latest checkpoint, or nil when the conversation
	// has never been committed.
	Load(ctx context.Context, conversationID string) (*Checkpoint, error)

	// Save commits snap as version expectedVersion+1 and returns the new
	// version.
	Save(ctx context.Context, conversationID string, expectedVersion int64, snap *state.Conversation) (int64, error)
}
