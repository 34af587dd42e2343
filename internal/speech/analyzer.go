// Package speech computes deterministic delivery metrics for a spoken answer
// from its transcript and word timings.
package speech

import (
	"math"
	"strings"
)

// PauseThreshold is the silence between two words, in seconds, above which the
// gap counts as a pause.
const PauseThreshold = 1.5

// Word is a recognised word with its offsets in seconds.
type Word struct {
	Text  string
	Start float64
	End   float64
}

// Metrics is the analyzer output. Scores are on a 1 to 5 scale.
type Metrics struct {
	TotalWords            int
	PauseCount            int
	FillerWordCount       int
	FillerWordsDetail     map[string]int
	AnswerDurationSeconds float64
	WordsPerMinute        float64
	ClarityScore          int
	ConfidenceScore       int
	StructureScore        int
}

// Analyze scores an answer. duration is the measured answer length in seconds;
// pass 0 to derive it from the word timings. Malformed timings are ignored
// rather than rejected.
func Analyze(text string, words []Word, duration float64) Metrics {
	if !validTimings(words) {
		words = nil
	}

	m := Metrics{TotalWords: len(strings.Fields(text))}
	m.PauseCount = countPauses(words)
	m.FillerWordCount, m.FillerWordsDetail = countFillers(text)

	switch {
	case duration > 0:
		m.AnswerDurationSeconds = duration
	case len(words) > 0:
		m.AnswerDurationSeconds = words[len(words)-1].End - words[0].Start
	}
	if m.AnswerDurationSeconds > 0 {
		m.WordsPerMinute = float64(m.TotalWords) / (m.AnswerDurationSeconds / 60)
	}

	fillerRatio := float64(m.FillerWordCount) / float64(max(m.TotalWords, 1))
	pauseRate := float64(m.PauseCount) / math.Max(m.AnswerDurationSeconds/60, 0.1)

	m.ClarityScore = ClarityScore(fillerRatio)
	m.ConfidenceScore = ConfidenceScore(pauseRate)
	m.StructureScore = StructureScore(m.TotalWords)

	m.AnswerDurationSeconds = round1(m.AnswerDurationSeconds)
	m.WordsPerMinute = round1(m.WordsPerMinute)
	return m
}

func countPauses(words []Word) int {
	n := 0
	for i := 1; i < len(words); i++ {
		if words[i].Start-words[i-1].End > PauseThreshold {
			n++
		}
	}
	return n
}

// validTimings reports whether every word has finite, non-negative offsets with
// start <= end, and starts never decrease.
func validTimings(words []Word) bool {
	for i, w := range words {
		if !finite(w.Start) || !finite(w.End) || w.Start < 0 || w.Start > w.End {
			return false
		}
		if i > 0 && w.Start < words[i-1].Start {
			return false
		}
	}
	return true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ClarityScore maps the share of filler words to a score.
func ClarityScore(fillerRatio float64) int {
	switch {
	case fillerRatio < 0.02:
		return 5
	case fillerRatio < 0.05:
		return 4
	case fillerRatio < 0.08:
		return 3
	case fillerRatio < 0.12:
		return 2
	default:
		return 1
	}
}

// ConfidenceScore maps pauses per minute to a score.
func ConfidenceScore(pausesPerMinute float64) int {
	switch {
	case pausesPerMinute < 2:
		return 5
	case pausesPerMinute < 4:
		return 4
	case pausesPerMinute < 6:
		return 3
	case pausesPerMinute < 8:
		return 2
	default:
		return 1
	}
}

// StructureScore rewards answers of 100 to 400 words and penalises answers
// that are much shorter or longer.
func StructureScore(totalWords int) int {
	n := totalWords
	switch {
	case n >= 100 && n <= 400:
		return 5
	case (n >= 60 && n < 100) || (n > 400 && n <= 500):
		return 4
	case (n >= 30 && n < 60) || (n > 500 && n <= 600):
		return 3
	case (n >= 15 && n < 30) || (n > 600 && n <= 800):
		return 2
	default:
		return 1
	}
}

// round1 rounds to one decimal place, half to even.
func round1(f float64) float64 {
	return math.RoundToEven(f*10) / 10
}
