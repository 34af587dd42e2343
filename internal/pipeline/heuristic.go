package pipeline

import (
	"github.com/kalambet/starcoach/internal/speech"
	"github.com/kalambet/starcoach/internal/storage"
)

// SpeechHeuristic is the default HeuristicFunc, backed by speech.Analyze.
func SpeechHeuristic(text string, words []storage.Word, duration float64) storage.HeuristicMetrics {
	sw := make([]speech.Word, len(words))
	for i, w := range words {
		sw[i] = speech.Word{Text: w.Word, Start: w.Start, End: w.End}
	}
	m := speech.Analyze(text, sw, duration)
	return storage.HeuristicMetrics{
		PauseCount:            m.PauseCount,
		FillerWordCount:       m.FillerWordCount,
		FillerWordsDetail:     m.FillerWordsDetail,
		AnswerDurationSeconds: m.AnswerDurationSeconds,
		WordsPerMinute:        m.WordsPerMinute,
		ClarityScore:          m.ClarityScore,
		ConfidenceScore:       m.ConfidenceScore,
		StructureScore:        m.StructureScore,
	}
}
