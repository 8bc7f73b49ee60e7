// Package flow is the workflow graph engine: it composes named nodes
// into a directed graph, executes them from a resolved entry node and
// stops when a node suspends awaiting user input or terminates the flow.
package flow

import (
	"context"
	"fmt"

	"github.com/garagebot-core/server/internal/booking/state"
	logx "github.com/garagebot-core/server/pkg/logger"
)

// Signal is a node's verdict about what the engine should do next.
type Signal int

const (
	// Continue hands control to the node's router.
	Continue Signal = iota
	// Suspend pauses the graph; the node has set CurrentStep to an
	// awaiting value and queued its prompt.
	Suspend
	// Terminate ends the flow; CurrentStep holds a terminal value.
	Terminate
)

// NodeFunc is an atomic state-transforming unit. It may only touch the
// conversation record and its own declared collaborators; the engine
// itself never mutates state.
type NodeFunc func(ctx context.Context, c *state.Conversation) (Signal, error)

// RouterFunc is a pure routing predicate mapping state to the next node
// id. Routers must be total: every reachable state shape yields a node.
type RouterFunc func(c *state.Conversation) string

// EntryResolver maps the suspended step of a loaded conversation to the
// node execution starts at.
type EntryResolver func(c *state.Conversation) string

const defaultMaxSteps = 20

// Graph is the builder. Register nodes and routers, then Compile.
type Graph struct {
	nodes    map[string]NodeFunc
	routers  map[string]RouterFunc
	entry    EntryResolver
	maxSteps int
}

// New creates an empty graph with the given entry resolver.
func New(entry EntryResolver) *Graph {
	return &Graph{
		nodes:    map[string]NodeFunc{},
		routers:  map[string]RouterFunc{},
		entry:    entry,
		maxSteps: defaultMaxSteps,
	}
}

// AddNode registers a node under id.
func (g *Graph) AddNode(id string, node NodeFunc) *Graph {
	g.nodes[id] = node
	return g
}

// AddRouter registers the routing predicate consulted when the node
// returns Continue.
func (g *Graph) AddRouter(id string, router RouterFunc) *Graph {
	g.routers[id] = router
	return g
}

// AddEdge wires an unconditional transition from one node to the next.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.routers[from] = func(*state.Conversation) string { return to }
	return g
}

// WithMaxSteps overrides the per-turn step budget that guards against
// routing loops.
func (g *Graph) WithMaxSteps(n int) *Graph {
	if n > 0 {
		g.maxSteps = n
	}
	return g
}

// Compile validates the graph and returns a Runner.
func (g *Graph) Compile() (*Runner, error) {
	if g.entry == nil {
		return nil, fmt.Errorf("graph entry resolver is nil")
	}
	if len(g.nodes) == 0 {
		return nil, fmt.Errorf("graph has no nodes")
	}
	for id, router := range g.routers {
		if _, ok := g.nodes[id]; !ok && router != nil {
			return nil, fmt.Errorf("router registered for unknown node %q", id)
		}
	}

	logx.Debug().Int("nodes", len(g.nodes)).Msg("Graph compiled successfully")
	return &Runner{
		nodes:    g.nodes,
		routers:  g.routers,
		entry:    g.entry,
		maxSteps: g.maxSteps,
	}, nil
}

// Runner executes a compiled graph.
type Runner struct {
	nodes    map[string]NodeFunc
	routers  map[string]RouterFunc
	entry    EntryResolver
	maxSteps int
}

// Run executes nodes from the resolved entry until one suspends or
// terminates. It reports whether the conversation is suspended awaiting
// further input. State is persisted by the caller exactly as the last
// node left it.
func (r *Runner) Run(ctx context.Context, c *state.Conversation) (suspended bool, err error) {
	cur := r.entry(c)

	for steps := 0; ; steps++ {
		if steps >= r.maxSteps {
			return false, fmt.Errorf("max run steps (%d) exceeded at node %q", r.maxSteps, cur)
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		node, ok := r.nodes[cur]
		if !ok {
			return false, fmt.Errorf("routed to unknown node %q", cur)
		}

		sig, err := node(ctx, c)
		if err != nil {
			return false, fmt.Errorf("node %q: %w", cur, err)
		}

		logx.Debug().
			Str("conversation_id", c.ConversationID).
			Str("node", cur).
			Str("current_step", string(c.CurrentStep)).
			Int("signal", int(sig)).
			Msg("node executed")

		switch sig {
		case Suspend:
			return true, nil
		case Terminate:
			return false, nil
		case Continue:
			router, ok := r.routers[cur]
			if !ok {
				return false, fmt.Errorf("node %q returned Continue without a router", cur)
			}
			cur = router(c)
		default:
			return false, fmt.Errorf("node %q returned unknown signal %d", cur, sig)
		}
	}
}
