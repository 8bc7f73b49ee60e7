package extract

import (
	"context"

	"github.com/garagebot-core/server/internal/booking/state"
)

// FieldSchema describes one target the pipeline should resolve from
// free text.
type FieldSchema struct {
	// Path is the state leaf the resolved value belongs to.
	Path state.Path
	// Family selects the deterministic fallback and its configured
	// confidence (e.g. "phone", "name", "confirmation").
	Family string
	// Hint is passed verbatim to the primary resolver.
	Hint string
	// FallbackFirst runs the deterministic tier before the primary
	// resolver, for cost-sensitive targets.
	FallbackFirst bool
}

// Result is one resolved field value with its provenance.
type Result struct {
	Path       state.Path
	Value      state.TriState
	Confidence float64
	Tier       state.Tier
	RawInput   string
}

// Resolver is the capability interface for the primary field resolver.
// A miss is an empty result set for the requested paths, never an error;
// errors are reserved for transport-level failures and are treated as a
// miss by the pipeline.
type Resolver interface {
	Resolve(ctx context.Context, text string, history []state.Turn, schemas []FieldSchema) ([]Result, error)
}

// FallbackFunc is a pure, deterministic resolver for one field family.
// It returns Absent on a miss.
type FallbackFunc func(text string) state.TriState

// Apply merges r into the conversation record. Merging the same result
// twice leaves the state unchanged.
func Apply(c *state.Conversation, r Result) {
	c.SetIfPresent(r.Path, r.Value, r.Confidence, r.Tier)
}
