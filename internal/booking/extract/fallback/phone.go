package fallback

import (
	"regexp"
	"strings"

	"github.com/garagebot-core/server/internal/booking/state"
)

// Indian mobile formats, most specific first.
var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+91[\s-]?([6789]\d{9})`),
	regexp.MustCompile(`\b91[\s-]?([6789]\d{9})\b`),
	regexp.MustCompile(`\b([6789]\d{9})\b`),
	regexp.MustCompile(`\b([6789]\d{4})[\s-](\d{5})\b`),
}

var nonDigit = regexp.MustCompile(`\D`)

// Phone extracts a ten digit mobile number from text.
func Phone(text string) state.TriState {
	text = strings.TrimSpace(text)
	if text == "" {
		return state.Absent()
	}

	for _, pat := range phonePatterns {
		m := pat.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		phone := m[1]
		if len(m) == 3 {
			phone += m[2]
		}
		phone = nonDigit.ReplaceAllString(phone, "")
		if len(phone) == 10 && strings.ContainsRune("6789", rune(phone[0])) {
			return state.Of(phone)
		}
	}
	return state.Absent()
}
