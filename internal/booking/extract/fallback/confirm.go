package fallback

import (
	"regexp"

	"github.com/garagebot-core/server/internal/booking/state"
)

var (
	yesPattern = regexp.MustCompile(`(?i)\b(yes|yeah|yep|yup|sure|ok|okay|confirm|proceed|accept|haan|ha)\b`)
	noPattern  = regexp.MustCompile(`(?i)\b(no|nope|nah|cancel|skip|decline|reject|nahi)\b`)
)

// Confirmation resolves a yes/no answer. An explicit "no" yields
// present-false, which must stay distinguishable from a miss: a
// cancellation is an answer, not an absence of one.
func Confirmation(text string) state.TriState {
	// "no" wins over "yes" so "no, don't confirm" is not read as consent.
	if noPattern.MatchString(text) {
		return state.Of(false)
	}
	if yesPattern.MatchString(text) {
		return state.Of(true)
	}
	return state.Absent()
}
