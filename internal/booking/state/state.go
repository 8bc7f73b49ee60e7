package state

import (
	"strings"
	"time"

	logx "github.com/garagebot-core/server/pkg/logger"
)

// Step names the node a conversation is suspended at, or a terminal value.
type Step string

// Path addresses a field leaf with a dotted path, e.g. "customer.phone".
type Path string

// Tier names the extraction tier that produced a field value.
type Tier string

const (
	TierPrimary  Tier = "primary"
	TierFallback Tier = "fallback"
	TierNone     Tier = "none"
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation history.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Option is one selectable item of a numbered menu.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// FieldValue is a collected business-data leaf with its provenance.
type FieldValue struct {
	Value      TriState `json:"value"`
	Confidence float64  `json:"confidence,omitempty"`
	Tier       Tier     `json:"tier,omitempty"`
}

// Conversation is the single mutable record passed through every node.
// It is exclusively owned by the goroutine holding the conversation lock
// for the duration of a turn.
type Conversation struct {
	ConversationID string               `json:"conversation_id"`
	CurrentStep    Step                 `json:"current_step"`
	Fields         map[Path]FieldValue  `json:"fields"`
	PendingOptions []Option             `json:"pending_options,omitempty"`
	Errors         []string             `json:"errors,omitempty"`
	History        []Turn               `json:"history"`
	Completeness   float64              `json:"completeness"`
	Version        int64                `json:"version"`
	Retries        map[Step]int         `json:"retries,omitempty"`

	// Outbound accumulates reply text for the current turn only. It is
	// flushed by the turn processor and never persisted.
	Outbound []string `json:"-"`
}

// New initialises an empty conversation record for the given id.
func New(conversationID string, entry Step) *Conversation {
	return &Conversation{
		ConversationID: conversationID,
		CurrentStep:    entry,
		Fields:         map[Path]FieldValue{},
		Retries:        map[Step]int{},
	}
}

// Get returns the field at path.
func (c *Conversation) Get(path Path) (FieldValue, bool) {
	fv, ok := c.Fields[path]
	return fv, ok
}

// Resolved reports whether the field at path carries an explicit value.
func (c *Conversation) Resolved(path Path) bool {
	fv, ok := c.Fields[path]
	return ok && fv.Value.Present()
}

// StringField returns the string value at path, or "" when absent.
func (c *Conversation) StringField(path Path) string {
	if fv, ok := c.Fields[path]; ok {
		if s, ok := fv.Value.String(); ok {
			return s
		}
	}
	return ""
}

// SetIfPresent is the only field mutator in the system. An absent value
// is a no-op so a resolution miss can never erase collected data; a
// present value always overwrites (last write wins within a turn).
func (c *Conversation) SetIfPresent(path Path, value TriState, confidence float64, tier Tier) {
	if !value.Present() {
		logx.Debug().
			Str("conversation_id", c.ConversationID).
			Str("path", string(path)).
			Msg("skipping absent value")
		return
	}
	if c.Fields == nil {
		c.Fields = map[Path]FieldValue{}
	}
	c.Fields[path] = FieldValue{Value: value, Confidence: clamp01(confidence), Tier: tier}
}

// Unset removes field leaves. This is not part of the merge policy:
// extraction results only ever flow through SetIfPresent. Unset exists
// for lifecycle resets, e.g. clearing a finished booking cycle before
// starting the next one.
func (c *Conversation) Unset(paths ...Path) {
	for _, path := range paths {
		delete(c.Fields, path)
	}
}

// RecomputeCompleteness evaluates the weighted fraction of populated
// required paths. Weights are business-flow specific and supplied by the
// caller. The result is stored on the record and returned.
func (c *Conversation) RecomputeCompleteness(weights map[Path]float64) float64 {
	var total, got float64
	for path, w := range weights {
		if w <= 0 {
			continue
		}
		total += w
		if c.Resolved(path) {
			got += w
		}
	}
	if total == 0 {
		c.Completeness = 0
		return 0
	}
	c.Completeness = got / total
	return c.Completeness
}

// AppendTurn appends a message to the history. History is append-only.
func (c *Conversation) AppendTurn(role Role, text string) {
	c.History = append(c.History, Turn{Role: role, Text: text, Timestamp: time.Now().UTC()})
}

// Reply queues outbound text for the current turn.
func (c *Conversation) Reply(text string) {
	c.Outbound = append(c.Outbound, text)
}

// FlushOutbound joins and clears the queued replies.
func (c *Conversation) FlushOutbound() string {
	out := strings.Join(c.Outbound, "\n\n")
	c.Outbound = nil
	return out
}

// AddError records a non-fatal issue descriptor for this turn.
func (c *Conversation) AddError(msg string) {
	c.Errors = append(c.Errors, msg)
}

// BeginTurn clears per-turn transients before the graph runs.
func (c *Conversation) BeginTurn() {
	c.Errors = nil
	c.Outbound = nil
}

// Retry increments and returns the consecutive-failure counter for step.
func (c *Conversation) Retry(step Step) int {
	if c.Retries == nil {
		c.Retries = map[Step]int{}
	}
	c.Retries[step]++
	return c.Retries[step]
}

// ResetRetry clears the failure counter for step.
func (c *Conversation) ResetRetry(step Step) {
	delete(c.Retries, step)
}

// LastUserText returns the text of the most recent user turn.
func (c *Conversation) LastUserText() string {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Role == RoleUser {
			return c.History[i].Text
		}
	}
	return ""
}

// Clone returns a deep copy, used to snapshot state for checkpointing
// without aliasing the live record.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Fields = make(map[Path]FieldValue, len(c.Fields))
	for k, v := range c.Fields {
		cp.Fields[k] = v
	}
	cp.PendingOptions = append([]Option(nil), c.PendingOptions...)
	cp.Errors = append([]string(nil), c.Errors...)
	cp.History = append([]Turn(nil), c.History...)
	cp.Retries = make(map[Step]int, len(c.Retries))
	for k, v := range c.Retries {
		cp.Retries[k] = v
	}
	cp.Outbound = append([]string(nil), c.Outbound...)
	return &cp
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
