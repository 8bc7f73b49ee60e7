// Package selection implements the generic numbered-menu capture used
// by every step that presents a list.
package selection

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/garagebot-core/server/internal/booking/state"
)

var (
	// ErrUnparseable means the reply was not a numeric selection at all.
	ErrUnparseable = errors.New("selection unparseable")
	// ErrOutOfRange means a numeric reply fell outside the live option list.
	ErrOutOfRange = errors.New("selection out of range")
)

var multiSep = strings.NewReplacer(",", " ", ";", " ", "&", " ", " and ", " ")

// Resolve parses the user reply against the current option list. Indices
// are 1-based on the wire and returned 0-based. Bounds are validated
// against the list as it exists now, so a reply referencing an already
// cleared menu fails instead of silently matching stale entries.
func Resolve(text string, options []state.Option, multi bool) ([]int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrUnparseable
	}

	tokens := []string{text}
	if multi {
		tokens = strings.Fields(multiSep.Replace(strings.ToLower(text)))
	}
	if len(tokens) == 0 {
		return nil, ErrUnparseable
	}

	seen := make(map[int]bool, len(tokens))
	indices := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, ErrUnparseable
		}
		if n < 1 || n > len(options) {
			return nil, fmt.Errorf("%w: %d of %d", ErrOutOfRange, n, len(options))
		}
		if seen[n-1] {
			continue
		}
		seen[n-1] = true
		indices = append(indices, n-1)
	}
	return indices, nil
}

// ResolveOne is Resolve restricted to a single choice.
func ResolveOne(text string, options []state.Option) (int, error) {
	indices, err := Resolve(text, options, false)
	if err != nil {
		return 0, err
	}
	return indices[0], nil
}

// FormatMenu renders a numbered menu for outbound delivery.
func FormatMenu(title string, options []state.Option) string {
	var b strings.Builder
	b.WriteString(title)
	for i, opt := range options {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, opt.Label))
	}
	return b.String()
}

// RetryMessage is the clarification sent after an invalid selection.
func RetryMessage(optionCount int) string {
	return fmt.Sprintf("Please reply with a number from 1 to %d", optionCount)
}
