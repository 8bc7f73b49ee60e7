package gemini

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/garagebot-core/server/internal/booking/extract"
	"github.com/garagebot-core/server/internal/booking/state"
)

//go:embed template/resolver_prompt.txt
var resolverSystemPrompt string

// renderSystemPrompt renders the field-resolver system prompt via the
// Eino prompt component, which also emits prompt callbacks.
func renderSystemPrompt(ctx context.Context, schemas []extract.FieldSchema) (string, error) {
	var targets strings.Builder
	for _, fs := range schemas {
		targets.WriteString("- path: ")
		targets.WriteString(string(fs.Path))
		targets.WriteString(" (")
		targets.WriteString(fs.Family)
		targets.WriteString(")")
		if fs.Hint != "" {
			targets.WriteString(" — ")
			targets.WriteString(fs.Hint)
		}
		targets.WriteString("\n")
	}

	// Render known tokens only so delimiter braces in the template body
	// stay untouched.
	content := strings.NewReplacer(
		"{TD}", tupDelim,
		"{RD}", recDelim,
		"{CD}", endDelim,
		"{targets}", targets.String(),
	).Replace(resolverSystemPrompt)

	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system_messages", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"system_messages": []*schema.Message{schema.SystemMessage(content)},
	})
	if err != nil {
		return "", fmt.Errorf("resolver prompt callbacks: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("resolver prompt callbacks: empty result")
	}
	return msgs[0].Content, nil
}

// buildContext assembles the recent conversation plus the message under
// analysis, mirroring the shape the NLU context builder uses.
func buildContext(history []state.Turn, text string, maxTurns int) string {
	recent := history
	// The turn under analysis is already appended to the history by the
	// time extraction runs; keep it out of the context window so the
	// model sees it exactly once.
	if n := len(recent); n > 0 && recent[n-1].Role == state.RoleUser && recent[n-1].Text == text {
		recent = recent[:n-1]
	}
	if maxTurns > 0 && len(recent) > maxTurns {
		recent = recent[len(recent)-maxTurns:]
	}

	var b strings.Builder
	b.WriteString("<conversation_context>\n")
	for _, turn := range recent {
		if turn.Text == "" {
			continue
		}
		switch turn.Role {
		case state.RoleUser:
			b.WriteString("UserMessage(" + turn.Text + ")\n")
		case state.RoleAssistant:
			b.WriteString("AssistantMessage(" + turn.Text + ")\n")
		}
	}
	b.WriteString("</conversation_context>\n")
	b.WriteString("<current_message_to_analyze>\n")
	b.WriteString("UserMessage(" + text + ")\n")
	b.WriteString("</current_message_to_analyze>")
	return b.String()
}
