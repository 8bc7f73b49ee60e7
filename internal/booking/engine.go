// Package booking exposes the turn processor: the public entry point
// that serializes a conversation turn, runs the workflow graph over the
// loaded state and commits the result as a new checkpoint version.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garagebot-core/server/internal/booking/checkpoint"
	"github.com/garagebot-core/server/internal/booking/flow"
	"github.com/garagebot-core/server/internal/booking/lock"
	"github.com/garagebot-core/server/internal/booking/state"
	errx "github.com/garagebot-core/server/internal/core/error"
	logx "github.com/garagebot-core/server/pkg/logger"
)

// Config holds engine tunables.
type Config struct {
	// LockTTL bounds how long a crashed turn can block a conversation.
	// It must exceed worst-case turn latency with margin.
	LockTTL time.Duration `envconfig:"ENGINE_LOCK_TTL" default:"30s"`
}

// Result is the outcome of one processed turn.
type Result struct {
	// Reply is the outbound text for the user, possibly empty.
	Reply string
	// Suspended reports whether the conversation awaits further input.
	Suspended bool
	// Step is the step the conversation rests at after the turn.
	Step state.Step
	// Version is the committed checkpoint version.
	Version int64
}

// Engine processes conversation turns.
type Engine struct {
	locker lock.Locker
	store  checkpoint.Store
	runner *flow.Runner
	cfg    Config
	entry  state.Step
}

// NewEngine assembles a turn processor from its collaborators. entry is
// the step new conversations start at.
func NewEngine(locker lock.Locker, store checkpoint.Store, runner *flow.Runner, entry state.Step, cfg Config) *Engine {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Engine{locker: locker, store: store, runner: runner, cfg: cfg, entry: entry}
}

// HandleTurn runs one inbound message through the workflow graph.
//
// The turn is fully serialized per conversation: a busy lock surfaces
// errx.ErrLockBusy immediately and the message should be retried by the
// caller. State is committed only when the graph finishes cleanly; a
// node error or corruption detection leaves the previous checkpoint
// untouched.
func (e *Engine) HandleTurn(ctx context.Context, conversationID, text string) (Result, error) {
	token, err := e.locker.Acquire(ctx, conversationID, e.cfg.LockTTL)
	if err != nil {
		return Result{}, fmt.Errorf("acquire conversation lock: %w", err)
	}
	defer func() {
		if rerr := e.locker.Release(context.WithoutCancel(ctx), conversationID, token); rerr != nil {
			logx.Warn().Err(rerr).Str("conversation_id", conversationID).Msg("lock release failed")
		}
	}()

	// One reload-and-rerun on version conflict: the lock makes conflicts
	// rare (TTL expiry races), so a second conflict is fatal for the turn.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		res, err := e.runTurn(ctx, conversationID, text)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, errx.ErrVersionConflict) {
			return Result{}, err
		}
		logx.Warn().
			Str("conversation_id", conversationID).
			Int("attempt", attempt+1).
			Msg("checkpoint version conflict, reloading")
		lastErr = err
	}
	return Result{}, lastErr
}

func (e *Engine) runTurn(ctx context.Context, conversationID, text string) (Result, error) {
	cp, err := e.store.Load(ctx, conversationID)
	if err != nil {
		return Result{}, fmt.Errorf("load checkpoint: %w", err)
	}

	var c *state.Conversation
	var expected int64
	if cp == nil {
		c = state.New(conversationID, e.entry)
	} else {
		c = cp.State
		expected = cp.Version
	}

	c.BeginTurn()
	c.AppendTurn(state.RoleUser, text)

	suspended, err := e.runner.Run(ctx, c)
	if err != nil {
		logx.Error().Err(err).
			Str("conversation_id", conversationID).
			Str("step", string(c.CurrentStep)).
			Msg("turn aborted, state not committed")
		return Result{}, err
	}

	reply := c.FlushOutbound()
	if reply != "" {
		c.AppendTurn(state.RoleAssistant, reply)
	}

	version, err := e.store.Save(ctx, conversationID, expected, c.Clone())
	if err != nil {
		return Result{}, fmt.Errorf("save checkpoint: %w", err)
	}

	logx.Info().
		Str("conversation_id", conversationID).
		Str("step", string(c.CurrentStep)).
		Int64("version", version).
		Bool("suspended", suspended).
		Msg("turn committed")

	return Result{Reply: reply, Suspended: suspended, Step: c.CurrentStep, Version: version}, nil
}

// GetState returns the latest committed conversation state, or nil when
// the conversation has never been committed. The returned record is a
// private copy.
func (e *Engine) GetState(ctx context.Context, conversationID string) (*state.Conversation, error) {
	cp, err := e.store.Load(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil {
		return nil, nil
	}
	return cp.State, nil
}
