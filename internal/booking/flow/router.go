package flow

import (
	"github.com/garagebot-core/server/internal/booking/state"
	logx "github.com/garagebot-core/server/pkg/logger"
)

// ResumeRouteConfig configures one instance of the resume/fresh router.
type ResumeRouteConfig struct {
	// AwaitingStep is the step value that means "was waiting here".
	AwaitingStep state.Step
	// Readiness optionally checks that the expected input exists before
	// resuming. Nil means a step match alone is enough.
	Readiness func(c *state.Conversation) bool
	// ResumeNode receives control when resuming (skips re-asking).
	ResumeNode string
	// FreshNode receives control otherwise.
	FreshNode string
	// Name labels log lines.
	Name string
}

// ResumeRouter builds the single reusable resume/fresh router every
// awaiting step is wired through. Hand-written per-step variants of this
// predicate have historically drifted apart and produced stale-option
// bugs, so steps must not reimplement it.
func ResumeRouter(cfg ResumeRouteConfig) RouterFunc {
	name := cfg.Name
	if name == "" {
		name = "resume_router"
	}

	return func(c *state.Conversation) string {
		if c.CurrentStep != cfg.AwaitingStep {
			logx.Debug().
				Str("router", name).
				Str("current_step", string(c.CurrentStep)).
				Str("next", cfg.FreshNode).
				Msg("starting fresh")
			return cfg.FreshNode
		}
		if cfg.Readiness != nil && !cfg.Readiness(c) {
			logx.Debug().
				Str("router", name).
				Str("next", cfg.FreshNode).
				Msg("readiness check failed, starting fresh")
			return cfg.FreshNode
		}
		logx.Debug().
			Str("router", name).
			Str("awaiting_step", string(cfg.AwaitingStep)).
			Str("next", cfg.ResumeNode).
			Msg("resuming")
		return cfg.ResumeNode
	}
}

// EntryTable resolves the entry node from the suspended step: each
// awaiting step maps to its resume router, anything else starts at the
// default node.
type EntryTable struct {
	routes      map[state.Step]RouterFunc
	defaultNode string
}

// NewEntryTable creates an entry table with the given default node.
func NewEntryTable(defaultNode string) *EntryTable {
	return &EntryTable{routes: map[state.Step]RouterFunc{}, defaultNode: defaultNode}
}

// On wires a resume router for the given awaiting step.
func (t *EntryTable) On(step state.Step, router RouterFunc) *EntryTable {
	t.routes[step] = router
	return t
}

// Resolver returns the EntryResolver for graph compilation.
func (t *EntryTable) Resolver() EntryResolver {
	return func(c *state.Conversation) string {
		if router, ok := t.routes[c.CurrentStep]; ok {
			return router(c)
		}
		return t.defaultNode
	}
}
