package tool

import (
	"strings"
	"unicode"
)

var affirmativeWords = map[string]struct{}{
	"yes": {}, "y": {}, "confirm": {}, "confirmed": {},
	"sí": {}, "si": {}, "confirmo": {}, "confirmar": {}, "confirmado": {},
}

var courtesyWords = map[string]struct{}{
	"please": {}, "por": {}, "favor": {},
}

// IsAffirmative reports whether text is an explicit, unqualified yes. Every
// word must be an affirmative or a courtesy word, and at least one must be
// affirmative: "sí, confirmo" passes, "sí pero cambia el correo" does not.
func IsAffirmative(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if len(words) == 0 {
		return false
	}

	affirmed := false
	for _, w := range words {
		if _, ok := affirmativeWords[w]; ok {
			affirmed = true
			continue
		}
		if _, ok := courtesyWords[w]; ok {
			continue
		}
		return false
	}
	return affirmed
}
