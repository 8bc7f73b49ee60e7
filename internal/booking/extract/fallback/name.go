package fallback

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/garagebot-core/server/internal/booking/state"
)

var namePrefixes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is\s+([\p{L}\s.'-]+)`),
	regexp.MustCompile(`(?i)\bi am\s+([\p{L}\s.'-]+)`),
	regexp.MustCompile(`(?i)\bi'm\s+([\p{L}\s.'-]+)`),
	regexp.MustCompile(`(?i)\bthis is\s+([\p{L}\s.'-]+)`),
}

var bareName = regexp.MustCompile(`^[\p{L}.'-]+(\s+[\p{L}.'-]+){0,3}$`)

// Name extracts a person name, either after a lead-in phrase or as a
// bare short reply to a name prompt.
func Name(text string) state.TriState {
	text = strings.TrimSpace(text)
	if text == "" {
		return state.Absent()
	}

	for _, pat := range namePrefixes {
		if m := pat.FindStringSubmatch(text); m != nil {
			if name := cleanName(m[1]); name != "" {
				return state.Of(name)
			}
		}
	}

	// A bare reply of up to four words is taken as the name itself,
	// unless it looks like something else (digits, greetings).
	if bareName.MatchString(text) && !greetingWords[strings.ToLower(text)] {
		if name := cleanName(text); name != "" {
			return state.Of(name)
		}
	}
	return state.Absent()
}

var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true,
	"good morning": true, "good evening": true, "good afternoon": true,
	"thanks": true, "thank you": true, "ok": true, "okay": true,
	"yes": true, "no": true,
}

func cleanName(raw string) string {
	words := strings.Fields(raw)
	if len(words) == 0 || len(words) > 4 {
		return ""
	}
	for i, w := range words {
		w = strings.Trim(w, ".'-")
		if w == "" {
			return ""
		}
		// The name patterns admit any letter, so the first rune may be
		// multi-byte; slicing bytes here would corrupt it.
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
