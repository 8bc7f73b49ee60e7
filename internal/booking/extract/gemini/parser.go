package gemini

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/garagebot-core/server/internal/booking/extract"
	"github.com/garagebot-core/server/internal/booking/state"
	logx "github.com/garagebot-core/server/pkg/logger"
)

const (
	recDelim = "##"
	tupDelim = "<||>"
	endDelim = "<|COMPLETE|>"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 64 * 1024 // 64KB
	maxRecords    = 100
	maxTupleLen   = 4 * 1024 // 4KB per tuple
	maxErrSnippet = 200
)

// ParseFieldTuples parses the delimited field records a resolver model
// emits. Malformed records are skipped and counted; a fully unparseable
// payload returns an empty slice, not an error, so upstream treats it as
// a miss.
func ParseFieldTuples(content string) (results []extract.Result, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "field_parser").Msgf("panic recovered: %v", r)
			err = fmt.Errorf("field parser panic")
			results = nil
		}
	}()

	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "field_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
	}
	if idx := strings.Index(content, endDelim); idx >= 0 {
		content = content[:idx]
	}

	records := strings.Split(content, recDelim)
	skipped := 0
	for _, rec := range records {
		if len(results) >= maxRecords {
			logx.Warn().
				Str("component", "field_parser").
				Int("max_records", maxRecords).
				Msg("record processing capped")
			break
		}
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}

		r, perr := parseFieldTuple(rec)
		if perr != nil {
			skipped++
			logx.Debug().
				Str("component", "field_parser").
				Str("record", safeSnippet(rec)).
				Err(perr).
				Msg("skipping bad record")
			continue
		}
		results = append(results, r)
	}

	if skipped > 0 {
		logx.Warn().
			Str("component", "field_parser").
			Int("skipped", skipped).
			Int("parsed", len(results)).
			Msg("resolver output partially malformed")
	}
	return results, nil
}

func parseFieldTuple(rec string) (extract.Result, error) {
	if len(rec) > maxTupleLen {
		return extract.Result{}, fmt.Errorf("tuple too large")
	}
	if len(rec) < 2 || rec[0] != '(' || rec[len(rec)-1] != ')' {
		return extract.Result{}, fmt.Errorf("invalid tuple parens")
	}
	inner := rec[1 : len(rec)-1]
	parts := strings.SplitN(inner, tupDelim, 4)
	if len(parts) != 4 {
		return extract.Result{}, fmt.Errorf("want 4 tuple parts, got %d", len(parts))
	}

	kind := strings.Trim(strings.TrimSpace(parts[0]), `"`)
	if kind != "field" {
		return extract.Result{}, fmt.Errorf("unknown tuple type %q", kind)
	}

	path := strings.TrimSpace(parts[1])
	if path == "" || !utf8.ValidString(path) {
		return extract.Result{}, fmt.Errorf("invalid path")
	}

	rawVal := strings.Trim(strings.TrimSpace(parts[2]), `"`)
	if !utf8.ValidString(rawVal) {
		return extract.Result{}, fmt.Errorf("invalid value utf8")
	}
	value, err := parseValue(rawVal)
	if err != nil {
		return extract.Result{}, err
	}

	conf, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
	if err != nil {
		return extract.Result{}, fmt.Errorf("confidence parse: %w", err)
	}
	if math.IsNaN(conf) || math.IsInf(conf, 0) || conf < 0 || conf > 1 {
		return extract.Result{}, fmt.Errorf("confidence out of range")
	}

	return extract.Result{
		Path:       state.Path(path),
		Value:      value,
		Confidence: conf,
		Tier:       state.TierPrimary,
	}, nil
}

// parseValue maps the wire value to a tri-state. Explicit booleans stay
// booleans so a "false" answer is present-false, never absent. Null-ish
// values are rejected: the model was told to omit unanswered targets.
func parseValue(raw string) (state.TriState, error) {
	switch strings.ToLower(raw) {
	case "":
		return state.Absent(), fmt.Errorf("empty value")
	case "null", "none", "nil", "n/a":
		return state.Absent(), fmt.Errorf("null-ish value")
	case "true":
		return state.Of(true), nil
	case "false":
		return state.Of(false), nil
	}
	return state.Of(raw), nil
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
