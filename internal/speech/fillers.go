package speech

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FillerPhrases is the fixed vocabulary counted against clarity. Multi-word
// phrases are matched as a whole.
var FillerPhrases = []string{
	"um", "uh", "like", "you know", "so", "actually", "basically", "right", "well", "I mean",
}

type fillerMatcher struct {
	phrase string
	re     *regexp.Regexp
}

var (
	lower    = cases.Lower(language.Und)
	matchers = compileFillers(FillerPhrases)
)

func compileFillers(phrases []string) []fillerMatcher {
	out := make([]fillerMatcher, 0, len(phrases))
	for _, p := range phrases {
		words := strings.Fields(lower.String(p))
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		// Any run of whitespace separates the words of a phrase.
		out = append(out, fillerMatcher{
			phrase: p,
			re:     regexp.MustCompile(`\b` + strings.Join(words, `\s+`) + `\b`),
		})
	}
	return out
}

// countFillers returns the total filler occurrences in text and the per-phrase
// counts, omitting phrases that never occur. Matching is case-insensitive and
// on whole words only, so "so" does not match inside "also".
func countFillers(text string) (int, map[string]int) {
	folded := lower.String(text)
	detail := make(map[string]int)
	total := 0
	for _, m := range matchers {
		n := 0
		for _, loc := range m.re.FindAllStringIndex(folded, -1) {
			if wholeWord(folded, loc[0], loc[1]) {
				n++
			}
		}
		if n == 0 {
			continue
		}
		detail[m.phrase] = n
		total += n
	}
	return total, detail
}

// wholeWord reports whether text[start:end] is not glued to a letter or digit.
// RE2's \b only treats ASCII as word characters, so "so" would otherwise
// match inside "soñar".
func wholeWord(text string, start, end int) bool {
	if r, _ := utf8.DecodeLastRuneInString(text[:start]); start > 0 && isWordRune(r) {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(text[end:]); end < len(text) && isWordRune(r) {
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
