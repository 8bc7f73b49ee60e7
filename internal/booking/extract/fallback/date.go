package fallback

import (
	"regexp"
	"strings"

	"github.com/garagebot-core/server/internal/booking/state"
)

type dateKeyword struct {
	match, token string
}

// Relative and weekday keywords, lowercased, in priority order. Tokens
// are the normalised preference values the scheduling layer understands.
var dateKeywords = []dateKeyword{
	{"day after", "day_after_tomorrow"},
	{"tomorrow", "tomorrow"},
	{"today", "today"},
	{"next week", "next_week"},
	{"monday", "monday"},
	{"tuesday", "tuesday"},
	{"wednesday", "wednesday"},
	{"thursday", "thursday"},
	{"friday", "friday"},
	{"saturday", "saturday"},
	{"sunday", "sunday"},
	{"weekend", "weekend"},
	{"morning", "morning"},
	{"afternoon", "afternoon"},
	{"evening", "evening"},
	{"as soon as possible", "earliest"},
	{"asap", "earliest"},
	{"earliest", "earliest"},
}

var numericDate = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})(?:[/-](\d{2,4}))?\b`)

// Date resolves a day preference from relative keywords, weekday names
// or a numeric dd/mm date. The result is a normalised token, not a
// concrete timestamp; resolution to a calendar slot is the scheduling
// layer's job.
func Date(text string) state.TriState {
	lower := strings.ToLower(text)

	// Priority order so "day after tomorrow" beats "tomorrow".
	for _, kw := range dateKeywords {
		if containsWord(lower, kw.match) {
			return state.Of(kw.token)
		}
	}

	if m := numericDate.FindStringSubmatch(text); m != nil {
		tok := m[1] + "/" + m[2]
		if m[3] != "" {
			tok += "/" + m[3]
		}
		return state.Of(tok)
	}
	return state.Absent()
}

func containsWord(haystack, word string) bool {
	idx := strings.Index(haystack, word)
	if idx < 0 {
		return false
	}
	if idx > 0 && isWordChar(haystack[idx-1]) {
		return false
	}
	end := idx + len(word)
	if end < len(haystack) && isWordChar(haystack[end]) {
		return false
	}
	return true
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
