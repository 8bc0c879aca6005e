// Package types defines the shared data model used across all SpeakAura packages.
//
// These types form the lingua franca between the transcript extractor, the
// disfluency annotator and scorer, the result assembler, and the persistence
// layer. They are intentionally minimal and carry JSON tags matching the
// persisted record shape so that a stored result decodes back into identical
// values.
package types

import "time"

// WordToken is one spoken word instance as recognised by the transcription
// service. Times are seconds relative to the start of the audio.
//
// Within a single transcript tokens are in non-decreasing StartTime order as
// emitted by the source. No ordering is assumed across transcripts.
type WordToken struct {
	// Text is the raw recognised word and may include trailing punctuation.
	Text string `json:"word"`

	// StartTime is the offset of the first sound of the word.
	StartTime float64 `json:"start_time"`

	// EndTime is the offset of the last sound of the word. Always >= StartTime.
	EndTime float64 `json:"end_time"`
}

// Duration returns the spoken length of the token.
func (t WordToken) Duration() time.Duration {
	return time.Duration((t.EndTime - t.StartTime) * float64(time.Second))
}

// AnnotatedToken is a [WordToken] plus the disfluency flags derived for it.
// Values are created once by the annotator and never mutated.
type AnnotatedToken struct {
	WordToken

	// Pause is the silence between this token's end and the next token's start.
	// Zero for the last token of a transcript.
	Pause float64 `json:"pause"`

	// IsFiller marks a hesitation word such as "uh" or "um".
	IsFiller bool `json:"is_filler"`

	// IsRepetition marks a token whose raw text equals its predecessor's.
	IsRepetition bool `json:"is_repetition"`

	// IsProlongation marks a token containing one letter repeated three or
	// more times ("sssso").
	IsProlongation bool `json:"is_prolongation"`

	// IsBlock marks a token followed by a pause longer than the configured
	// long-pause threshold.
	IsBlock bool `json:"is_block"`
}

// SeverityLevel is the discrete bucket derived from a severity score.
type SeverityLevel string

const (
	// SeverityNone is the neutral level assigned to metrics without words.
	SeverityNone     SeverityLevel = ""
	SeverityMild     SeverityLevel = "Mild"
	SeverityModerate SeverityLevel = "Moderate"
	SeveritySevere   SeverityLevel = "Severe"
)

// IsValid reports whether l is a recognised severity level. The neutral
// [SeverityNone] is valid.
func (l SeverityLevel) IsValid() bool {
	switch l {
	case SeverityNone, SeverityMild, SeverityModerate, SeveritySevere:
		return true
	}
	return false
}

// SpeechMetrics holds aggregate statistics for one transcript.
type SpeechMetrics struct {
	TotalWords       int     `json:"total_words"`
	TotalDurationSec float64 `json:"total_duration_sec"`
	SpeechRateWPS    float64 `json:"speech_rate_wps"`
	FillerCount      int     `json:"filler_count"`
	Repetitions      int     `json:"repetitions"`
	Prolongations    int     `json:"prolongations"`
	Blocks           int     `json:"blocks"`

	// LongPauses always equals Blocks. It is kept as a separate field because
	// stored records and downstream prompts refer to it by this name.
	LongPauses int `json:"long_pauses"`

	SeverityScore float64       `json:"severity_score"`
	SeverityLevel SeverityLevel `json:"severity_level"`
}

// Events returns the total number of disfluency events of every category.
func (m SpeechMetrics) Events() int {
	return m.FillerCount + m.Repetitions + m.Prolongations + m.Blocks
}

// FluencyScore maps the severity score onto a 0–100 scale where 100 means no
// disfluency was detected. Scores above 1.0 produce negative values; they are
// not clamped so that trends stay comparable.
func (m SpeechMetrics) FluencyScore() float64 {
	return 100 - 100*m.SeverityScore
}

// AnalysisResult is the unit produced per pipeline run and handed to the
// persistence layer. It is never mutated after assembly.
type AnalysisResult struct {
	// RunID is a random UUID generated at assembly time.
	RunID string `json:"run_id"`

	// Transcript is the full text of the spoken input.
	Transcript string `json:"transcript"`

	Metrics SpeechMetrics `json:"metrics"`

	// TherapyPlan is the text produced by the plan generator. It may hold a
	// placeholder when generation failed and the caller chose to keep the run.
	TherapyPlan string `json:"therapy_plan"`

	AnnotatedTokens []AnnotatedToken `json:"annotated_tokens"`

	// TranscriptEmbedding is the vector computed from Transcript. Its length is
	// fixed by the embedding model.
	TranscriptEmbedding []float32 `json:"transcript_embedding"`

	// ProcessedAt is stamped in UTC when the result is assembled.
	ProcessedAt time.Time `json:"processed_at"`
}

// ProgressPoint is the mean fluency score of all runs processed on one UTC day.
type ProgressPoint struct {
	Day          time.Time `json:"day"`
	Runs         int       `json:"runs"`
	FluencyScore float64   `json:"fluency_score"`
}
