// Package transcript normalises raw transcription payloads into the flat,
// ordered [types.WordToken] sequence consumed by the disfluency annotator.
//
// A payload is the JSON document produced by the managed speech-to-text
// service for one audio source. Word entries are reachable as
//
//	results[<source_id>].inline_result.transcript.results[*].alternatives[0].words[*]
//
// Only the first (highest-confidence) alternative of every result block is
// used. Offsets are strings such as "1.250s".
//
// Extraction never aborts a batch: a record that is empty or fails to parse
// contributes zero tokens, is logged with its source id, and is reported as a
// *[TokenParseError] in [Extraction.Skipped].
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/speakaura/pkg/types"
)

// Sentinel causes wrapped by [TokenParseError].
var (
	// ErrEmptyPayload is reported for a record without payload bytes.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrMissingField is reported when a required key is absent or null.
	ErrMissingField = errors.New("missing field")

	// ErrAmbiguousSource is reported when the payload's results map does not
	// hold exactly one source key.
	ErrAmbiguousSource = errors.New("cannot select source result")

	// ErrInvalidOffset is reported for offsets not matching "<float>s", or
	// for negative or inverted word timings.
	ErrInvalidOffset = errors.New("invalid offset")
)

// offsetPattern is the accepted offset format: a decimal number followed by
// the literal unit suffix "s".
var offsetPattern = regexp.MustCompile(`^-?\d+(\.\d+)?s$`)

// Record is one raw transcription row.
type Record struct {
	// SourceID identifies the audio the payload belongs to (typically its
	// storage URI). It is reported in log lines and parse errors.
	SourceID string `json:"source_id"`

	// Payload is the raw JSON produced by the transcription service.
	Payload json.RawMessage `json:"payload"`
}

// TokenParseError describes why a record contributed no tokens. It is
// non-fatal: the extractor logs it and moves on to the next record.
type TokenParseError struct {
	// Index is the position of the record in the input batch.
	Index int

	// SourceID is the offending record's source.
	SourceID string

	// Field is the JSON path of the value that failed, or "payload" when the
	// document itself could not be decoded.
	Field string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *TokenParseError) Error() string {
	return fmt.Sprintf("transcript: record %d (%s): %s: %v", e.Index, e.SourceID, e.Field, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TokenParseError) Unwrap() error { return e.Err }

// Extraction is the output of one [Extractor.Extract] call.
type Extraction struct {
	// Tokens holds every successfully parsed word, records concatenated in
	// input order and result blocks in encounter order.
	Tokens []types.WordToken

	// Transcript is the full text of the parsed records, built from each
	// first alternative's transcript (or its words when the service omitted
	// the text), joined by single spaces.
	Transcript string

	// Skipped lists the records that contributed no tokens.
	Skipped []*TokenParseError
}

// ─── Payload schema ──────────────────────────────────────────────────────────

type payload struct {
	Results map[string]*sourceResult `json:"results"`
}

type sourceResult struct {
	InlineResult *inlineResult `json:"inline_result"`
}

type inlineResult struct {
	Transcript *recognition `json:"transcript"`
}

type recognition struct {
	Results *[]resultBlock `json:"results"`
}

type resultBlock struct {
	Alternatives []alternative `json:"alternatives"`
}

type alternative struct {
	Transcript string      `json:"transcript"`
	Words      []wordEntry `json:"words"`
}

type wordEntry struct {
	Word        *string `json:"word"`
	StartOffset *string `json:"start_offset"`
	EndOffset   *string `json:"end_offset"`
}

// ─── Extractor ───────────────────────────────────────────────────────────────

// Option is a functional option for [NewExtractor].
type Option func(*Extractor)

// WithLogger sets the logger used for skipped-record warnings. Default:
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.log = l
		}
	}
}

// Extractor converts raw transcription records into word tokens. It holds no
// mutable state and is safe for concurrent use.
type Extractor struct {
	log *slog.Logger
}

// NewExtractor returns an [Extractor] configured with opts.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{log: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract parses every record and concatenates their tokens. Records that
// fail are skipped, logged, and listed in the result's Skipped field. An
// empty input yields an empty (non-nil) token slice.
func (e *Extractor) Extract(records []Record) *Extraction {
	out := &Extraction{Tokens: []types.WordToken{}}
	var texts []string

	for i, rec := range records {
		tokens, text, err := parseRecord(rec)
		if err != nil {
			pe := &TokenParseError{Index: i, SourceID: rec.SourceID, Field: "payload", Err: err}
			var fe *fieldError
			if errors.As(err, &fe) {
				pe.Field = fe.path
				pe.Err = fe.err
			}
			e.log.Warn("skipping transcription record",
				"index", i,
				"source_id", rec.SourceID,
				"field", pe.Field,
				"err", pe.Err,
			)
			out.Skipped = append(out.Skipped, pe)
			continue
		}
		out.Tokens = append(out.Tokens, tokens...)
		if text != "" {
			texts = append(texts, text)
		}
	}
	out.Transcript = strings.Join(texts, " ")
	return out
}

// Extract is a convenience wrapper around a default [Extractor].
func Extract(records []Record) *Extraction {
	return NewExtractor().Extract(records)
}

// fieldError pins a parse failure to a JSON path inside one record.
type fieldError struct {
	path string
	err  error
}

func (e *fieldError) Error() string { return e.path + ": " + e.err.Error() }
func (e *fieldError) Unwrap() error { return e.err }

func missing(path string) error {
	return &fieldError{path: path, err: ErrMissingField}
}

// parseRecord decodes a single record. Tokens are only returned when the whole
// record parsed cleanly, so a failure never contributes a partial word list.
func parseRecord(rec Record) ([]types.WordToken, string, error) {
	raw := []byte(strings.TrimSpace(string(rec.Payload)))
	if len(raw) > 0 && raw[0] == '"' {
		// Tabular exports store the document as a JSON string column.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, "", fmt.Errorf("decode json string: %w", err)
		}
		raw = []byte(strings.TrimSpace(s))
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, "", ErrEmptyPayload
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, "", fmt.Errorf("decode json: %w", err)
	}

	key, err := selectSource(p.Results)
	if err != nil {
		return nil, "", err
	}
	base := fmt.Sprintf("results[%q]", key)

	src := p.Results[key]
	switch {
	case src == nil:
		return nil, "", missing(base)
	case src.InlineResult == nil:
		return nil, "", missing(base + ".inline_result")
	case src.InlineResult.Transcript == nil:
		return nil, "", missing(base + ".inline_result.transcript")
	case src.InlineResult.Transcript.Results == nil:
		return nil, "", missing(base + ".inline_result.transcript.results")
	}

	var (
		tokens []types.WordToken
		texts  []string
	)
	for bi, block := range *src.InlineResult.Transcript.Results {
		if len(block.Alternatives) == 0 {
			// Blocks without alternatives carry no speech (trailing silence).
			continue
		}
		alt := block.Alternatives[0]
		blockPath := fmt.Sprintf("%s.inline_result.transcript.results[%d].alternatives[0]", base, bi)

		var words []string
		for wi, w := range alt.Words {
			wordPath := fmt.Sprintf("%s.words[%d]", blockPath, wi)
			tok, err := parseWord(w, wordPath)
			if err != nil {
				return nil, "", err
			}
			tokens = append(tokens, tok)
			words = append(words, tok.Text)
		}

		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			text = strings.Join(words, " ")
		}
		if text != "" {
			texts = append(texts, text)
		}
	}
	return tokens, strings.Join(texts, " "), nil
}

// selectSource returns the payload's only results key. The key need not equal
// the record's source id; uploads are often re-keyed by the exporter.
func selectSource(results map[string]*sourceResult) (string, error) {
	if results == nil {
		return "", missing("results")
	}
	if len(results) != 1 {
		return "", &fieldError{
			path: "results",
			err:  fmt.Errorf("%w: %d keys", ErrAmbiguousSource, len(results)),
		}
	}
	for k := range results {
		return k, nil
	}
	return "", nil
}

func parseWord(w wordEntry, path string) (types.WordToken, error) {
	if w.Word == nil {
		return types.WordToken{}, missing(path + ".word")
	}
	if w.StartOffset == nil {
		return types.WordToken{}, missing(path + ".start_offset")
	}
	if w.EndOffset == nil {
		return types.WordToken{}, missing(path + ".end_offset")
	}
	start, err := ParseOffset(*w.StartOffset)
	if err != nil {
		return types.WordToken{}, &fieldError{path: path + ".start_offset", err: err}
	}
	end, err := ParseOffset(*w.EndOffset)
	if err != nil {
		return types.WordToken{}, &fieldError{path: path + ".end_offset", err: err}
	}
	if end < start {
		return types.WordToken{}, &fieldError{
			path: path + ".end_offset",
			err:  fmt.Errorf("%w: end %.3fs before start %.3fs", ErrInvalidOffset, end, start),
		}
	}
	return types.WordToken{Text: *w.Word, StartTime: start, EndTime: end}, nil
}

// ParseOffset converts an offset string such as "12.5s" into seconds.
// Negative offsets are rejected because word times are measured from the
// start of the audio.
func ParseOffset(s string) (float64, error) {
	if !offsetPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, s)
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidOffset, s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidOffset, s)
	}
	return v, nil
}
