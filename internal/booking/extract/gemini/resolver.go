package gemini

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/garagebot-core/server/internal/booking/extract"
	"github.com/garagebot-core/server/internal/booking/state"
	logx "github.com/garagebot-core/server/pkg/logger"
)

// Config holds the resolver model parameters.
type Config struct {
	Model       string  `envconfig:"RESOLVER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"RESOLVER_MAX_TOKENS" default:"1000"`
	Temperature float32 `envconfig:"RESOLVER_TEMPERATURE" default:"0.1"`
	MaxTurns    int     `envconfig:"RESOLVER_MAX_TURNS" default:"6"`
}

// Resolver is the tier-1 field resolver backed by a Gemini chat model.
// It satisfies extract.Resolver; any model satisfying Eino's
// BaseChatModel can be substituted, which is how tests stub it.
type Resolver struct {
	chatModel model.BaseChatModel
	cfg       Config
}

// NewResolver builds the Gemini client and chat model.
func NewResolver(ctx context.Context, apiKey, baseURL string, cfg Config) (*Resolver, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating resolver model")
		return nil, fmt.Errorf("error creating resolver model: %w", err)
	}

	return NewResolverWithModel(chatModel, cfg), nil
}

// NewResolverWithModel wraps an existing chat model.
func NewResolverWithModel(chatModel model.BaseChatModel, cfg Config) *Resolver {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 6
	}
	return &Resolver{chatModel: chatModel, cfg: cfg}
}

// Resolve asks the model for the requested targets and parses its
// delimited output. Paths outside the requested set are dropped.
func (r *Resolver) Resolve(ctx context.Context, text string, history []state.Turn, schemas []extract.FieldSchema) ([]extract.Result, error) {
	if len(schemas) == 0 {
		return nil, nil
	}

	systemPrompt, err := renderSystemPrompt(ctx, schemas)
	if err != nil {
		return nil, fmt.Errorf("render resolver prompt: %w", err)
	}

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(buildContext(history, text, r.cfg.MaxTurns)),
	}

	out, err := r.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("resolver generate: %w", err)
	}
	if out == nil {
		return nil, nil
	}

	results, err := ParseFieldTuples(out.Content)
	if err != nil {
		return nil, fmt.Errorf("parse resolver output: %w", err)
	}

	wanted := make(map[state.Path]bool, len(schemas))
	for _, fs := range schemas {
		wanted[fs.Path] = true
	}
	kept := results[:0]
	for _, res := range results {
		if !wanted[res.Path] {
			logx.Debug().
				Str("component", "field_resolver").
				Str("path", string(res.Path)).
				Msg("dropping unrequested path")
			continue
		}
		kept = append(kept, res)
	}
	return kept, nil
}

var _ extract.Resolver = (*Resolver)(nil)
