package extract

import (
	"context"
	"time"

	"github.com/garagebot-core/server/internal/booking/state"
	logx "github.com/garagebot-core/server/pkg/logger"
)

// Config holds pipeline behaviour injected at construction. Tier-2
// confidences are fixed per pattern family and tunable per deployment;
// they are never derived from the input text.
type Config struct {
	PrimaryTimeout      time.Duration      `envconfig:"EXTRACT_PRIMARY_TIMEOUT" default:"4s"`
	FallbackConfidence  map[string]float64 `envconfig:"EXTRACT_FALLBACK_CONFIDENCE" default:"phone:0.9,email:0.9,confirmation:0.85,vehicle:0.8,date:0.7,name:0.6"`
	DefaultTier2Percent float64            `envconfig:"EXTRACT_FALLBACK_DEFAULT_CONFIDENCE" default:"0.6"`
}

// Pipeline resolves field values from free text through tiered
// resolution: primary resolver with a bounded timeout, then the
// deterministic fallback tables. A miss on both tiers yields no result
// for that path; the calling node owns the reprompt.
type Pipeline struct {
	primary   Resolver
	fallbacks map[string]FallbackFunc
	cfg       Config
}

// NewPipeline builds a pipeline around the primary resolver. A nil
// resolver is allowed; every target then resolves through the fallback
// tier only.
func NewPipeline(primary Resolver, fallbacks map[string]FallbackFunc, cfg Config) *Pipeline {
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = 4 * time.Second
	}
	fb := make(map[string]FallbackFunc, len(fallbacks))
	for family, fn := range fallbacks {
		fb[family] = fn
	}
	return &Pipeline{primary: primary, fallbacks: fb, cfg: cfg}
}

// Extract resolves the requested targets from text. Results are returned
// only for targets that resolved; resolution misses never raise an error.
func (p *Pipeline) Extract(ctx context.Context, text string, history []state.Turn, schemas []FieldSchema) []Result {
	if len(schemas) == 0 {
		return nil
	}

	results := make(map[state.Path]Result, len(schemas))

	// Fallback-first targets skip the primary resolver entirely when the
	// deterministic tier hits.
	var primaryTargets []FieldSchema
	for _, fs := range schemas {
		if fs.FallbackFirst {
			if r, ok := p.tryFallback(text, fs); ok {
				results[fs.Path] = r
				continue
			}
		}
		primaryTargets = append(primaryTargets, fs)
	}

	for _, r := range p.resolvePrimary(ctx, text, history, primaryTargets) {
		results[r.Path] = r
	}

	// Deterministic tier for anything the primary tier missed.
	for _, fs := range primaryTargets {
		if _, ok := results[fs.Path]; ok {
			continue
		}
		if r, ok := p.tryFallback(text, fs); ok {
			results[fs.Path] = r
		}
	}

	out := make([]Result, 0, len(results))
	for _, fs := range schemas {
		if r, ok := results[fs.Path]; ok {
			out = append(out, r)
		}
	}
	return out
}

// resolvePrimary invokes the primary resolver under its timeout. Any
// failure, timeout or malformed payload is a miss; the turn is never
// aborted from here.
func (p *Pipeline) resolvePrimary(ctx context.Context, text string, history []state.Turn, schemas []FieldSchema) []Result {
	if p.primary == nil || len(schemas) == 0 {
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, p.cfg.PrimaryTimeout)
	defer cancel()

	raw, err := p.primary.Resolve(rctx, text, history, schemas)
	if err != nil {
		logx.Warn().Err(err).Int("targets", len(schemas)).Msg("primary resolver miss")
		return nil
	}

	wanted := make(map[state.Path]bool, len(schemas))
	for _, fs := range schemas {
		wanted[fs.Path] = true
	}

	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		if !wanted[r.Path] || !r.Value.Present() {
			continue
		}
		r.Tier = state.TierPrimary
		r.Confidence = clamp01(r.Confidence)
		r.RawInput = text
		out = append(out, r)
	}
	return out
}

func (p *Pipeline) tryFallback(text string, fs FieldSchema) (Result, bool) {
	fn, ok := p.fallbacks[fs.Family]
	if !ok {
		return Result{}, false
	}
	v := fn(text)
	if !v.Present() {
		return Result{}, false
	}
	return Result{
		Path:       fs.Path,
		Value:      v,
		Confidence: p.tier2Confidence(fs.Family),
		Tier:       state.TierFallback,
		RawInput:   text,
	}, true
}

func (p *Pipeline) tier2Confidence(family string) float64 {
	if c, ok := p.cfg.FallbackConfidence[family]; ok {
		return clamp01(c)
	}
	return clamp01(p.cfg.DefaultTier2Percent)
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
