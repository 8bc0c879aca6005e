package disfluency

import (
	"strings"
	"unicode"

	"github.com/MrWong99/speakaura/pkg/types"
)

// minProlongationRun is the shortest run of one letter counted as a
// prolongation.
const minProlongationRun = 3

// isProlongation reports whether word holds a letter repeated at least
// minProlongationRun times in a row, compared case-insensitively.
func isProlongation(word string) bool {
	var (
		prev rune
		run  int
	)
	for _, r := range word {
		if !unicode.IsLetter(r) {
			run = 0
			continue
		}
		r = unicode.ToLower(r)
		if run > 0 && r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= minProlongationRun {
			return true
		}
	}
	return false
}

// Annotate classifies every token of tokens and returns a slice of equal
// length and order. A token's flags depend only on itself, its immediate
// predecessor, and its immediate successor.
//
//   - Filler: lower-cased text with trailing ',' and '.' removed is in the
//     policy's filler vocabulary. Other punctuation is kept, so "uh!" is not a
//     filler.
//   - Repetition: raw text equals the predecessor's raw text. The first token
//     is never a repetition.
//   - Prolongation: the text contains one letter repeated three or more times.
//   - Block: the gap to the successor exceeds p.LongPauseThreshold. The last
//     token is never a block.
//
// An empty input returns an empty, non-nil slice.
func Annotate(tokens []types.WordToken, p Policy) []types.AnnotatedToken {
	fillers := p.fillerSet()
	out := make([]types.AnnotatedToken, len(tokens))

	for i, tok := range tokens {
		a := types.AnnotatedToken{
			WordToken:      tok,
			IsFiller:       isFiller(tok.Text, fillers),
			IsProlongation: isProlongation(tok.Text),
		}
		if i > 0 {
			a.IsRepetition = tok.Text == tokens[i-1].Text
		}
		if i < len(tokens)-1 {
			a.Pause = tokens[i+1].StartTime - tok.EndTime
			a.IsBlock = a.Pause > p.LongPauseThreshold
		}
		out[i] = a
	}
	return out
}

// isFiller reports whether word, normalised, is in fillers.
func isFiller(word string, fillers map[string]struct{}) bool {
	w := strings.TrimRight(strings.ToLower(word), ",.")
	_, ok := fillers[w]
	return ok
}
