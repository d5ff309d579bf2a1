package hook

import (
	"strings"
	"unicode"

	"github.com/ppiankov/safetygate/internal/model"
)

// lexicon holds words associated with compulsive or emotionally charged
// engagement.
var lexicon = map[string]bool{
	"need": true, "must": true, "now": true, "urgent": true, "immediately": true,
	"desperate": true, "addicted": true, "obsessed": true, "cant": true, "can't": true,
	"stop": true, "more": true, "again": true, "hate": true, "love": true,
	"everything": true, "nothing": true, "never": true, "always": true, "please": true,
	"hurry": true, "alone": true, "panic": true, "scared": true, "furious": true,
}

// Intensity scores emotional intensity in [0,1] from lexicon density,
// exclamation marks and capitalised letters.
func Intensity(b []byte) float64 {
	text := string(b)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 0 {
		return 0
	}

	hits := 0
	for _, w := range words {
		if lexicon[w] {
			hits++
		}
	}

	var letters, upper, bangs int
	for _, r := range text {
		switch {
		case r == '!':
			bangs++
		case unicode.IsLetter(r):
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}

	lex := float64(hits) / float64(len(words))
	bang := float64(bangs) / float64(len(words))
	var caps float64
	if letters >= 8 {
		caps = float64(upper) / float64(letters)
	}
	return model.Clamp01(1.5*lex + 0.5*bang + 0.4*caps)
}
