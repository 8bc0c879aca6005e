package disfluency

import (
	"math"

	"github.com/MrWong99/speakaura/pkg/types"
)

// Score reduces annotated into [types.SpeechMetrics]. It never mutates its
// input.
//
// The severity score is
//
//	(Wb·blocks + Wp·prolongations + Wr·repetitions + Wf·fillers) / total_words
//
// and the level is Mild below p.Thresholds.Moderate, Severe at or above
// p.Thresholds.Severe, and Moderate in between.
//
// An empty input yields zero metrics with the neutral [types.SeverityNone]
// level.
func Score(annotated []types.AnnotatedToken, p Policy) types.SpeechMetrics {
	if len(annotated) == 0 {
		return types.SpeechMetrics{}
	}

	m := types.SpeechMetrics{TotalWords: len(annotated)}
	first, last := math.Inf(1), math.Inf(-1)

	for _, a := range annotated {
		first = min(first, a.StartTime)
		last = max(last, a.EndTime)
		if a.IsFiller {
			m.FillerCount++
		}
		if a.IsRepetition {
			m.Repetitions++
		}
		if a.IsProlongation {
			m.Prolongations++
		}
		if a.IsBlock {
			m.Blocks++
		}
	}
	m.LongPauses = m.Blocks

	if d := last - first; d > 0 {
		m.TotalDurationSec = d
		m.SpeechRateWPS = float64(m.TotalWords) / d
	}

	w := p.Weights
	weighted := w.Block*float64(m.Blocks) +
		w.Prolongation*float64(m.Prolongations) +
		w.Repetition*float64(m.Repetitions) +
		w.Filler*float64(m.FillerCount)
	m.SeverityScore = weighted / float64(m.TotalWords)
	m.SeverityLevel = Level(m.SeverityScore, p.Thresholds)
	return m
}

// Level maps a severity score onto its discrete level.
func Level(score float64, t Thresholds) types.SeverityLevel {
	switch {
	case score >= t.Severe:
		return types.SeveritySevere
	case score >= t.Moderate:
		return types.SeverityModerate
	default:
		return types.SeverityMild
	}
}
