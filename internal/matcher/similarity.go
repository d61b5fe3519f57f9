package matcher

import (
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// NormalizeName converts an insured name to lower-case "first last" order.
// "Smith, John" becomes "john smith"; punctuation is dropped.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if last, first, ok := strings.Cut(name, ","); ok {
		name = strings.TrimSpace(first) + " " + strings.TrimSpace(last)
	}
	return strings.Join(words(name), " ")
}

// NameSimilarity returns the best similarity in [0,1] between the insured
// name and any same-length run of words in text
func NameSimilarity(name, text string) float64 {
	nameWords := words(NormalizeName(name))
	textWords := words(text)
	if len(nameWords) == 0 || len(textWords) == 0 {
		return 0
	}

	forms := []string{strings.Join(nameWords, " ")}
	if len(nameWords) > 1 {
		reversed := make([]string, len(nameWords))
		for i, w := range nameWords {
			reversed[len(nameWords)-1-i] = w
		}
		forms = append(forms, strings.Join(reversed, " "))
	}

	size := len(nameWords)
	if size > len(textWords) {
		size = len(textWords)
	}

	best := 0.0
	for i := 0; i+size <= len(textWords); i++ {
		window := strings.Join(textWords[i:i+size], " ")
		for _, form := range forms {
			if r := ratio(form, window); r > best {
				best = r
			}
		}
	}
	return best
}

// ratio is the normalized Levenshtein similarity of two strings
func ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	return float64(total-dist) / float64(total)
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'')
	})
}
