package fallback

import (
	"regexp"
	"strings"

	"github.com/garagebot-core/server/internal/booking/state"
)

var emailPattern = regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)

// Email extracts an email address from text.
func Email(text string) state.TriState {
	m := emailPattern.FindString(text)
	if m == "" {
		return state.Absent()
	}
	return state.Of(strings.ToLower(m))
}
