// Package tokenizer reproduces a fixed sub-word vocabulary's encode and
// decode behavior by greedy longest-match lookup, without the original
// training-time binary. Segmentation is a vocabulary-lookup-based
// approximation; any unmatched unit maps to the reserved unknown id.
package tokenizer

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrNotLoaded is returned by encode/decode operations before Load.
var ErrNotLoaded = errors.New("tokenizer: vocabulary not loaded")

// Tokenizer maps prompt text to the integer token ids a loaded model
// graph expects, and back. The vocabulary table and special-token map
// are populated once by Load and immutable thereafter.
type Tokenizer struct {
	vocab    map[string]int
	pieces   map[int]string
	special  SpecialTokens
	maxPiece int // longest vocabulary piece, in runes
	loaded   bool
}

// New returns an unloaded Tokenizer.
func New() *Tokenizer { return &Tokenizer{} }

// Load parses a vocabulary artifact (string-to-id table plus the
// special-token map) and transitions the tokenizer to loaded.
func (t *Tokenizer) Load(data []byte) error {
	a, err := parseArtifact(data)
	if err != nil {
		return err
	}
	pieces := make(map[int]string, len(a.Vocab))
	maxPiece := 0
	for piece, id := range a.Vocab {
		pieces[id] = piece
		if n := utf8.RuneCountInString(piece); n > maxPiece {
			maxPiece = n
		}
	}
	t.vocab = a.Vocab
	t.pieces = pieces
	t.special = a.Special
	t.maxPiece = maxPiece
	t.loaded = true
	return nil
}

// Loaded reports whether a vocabulary artifact has been parsed.
func (t *Tokenizer) Loaded() bool { return t.loaded }

// VocabSize returns the number of vocabulary entries, 0 when unloaded.
func (t *Tokenizer) VocabSize() int { return len(t.vocab) }

// Special returns the reserved control-token ids.
func (t *Tokenizer) Special() SpecialTokens { return t.special }

// IsSpecial reports membership of id in the reserved control-id set.
// Generation loops use it to decide when to stop producing tokens.
func (t *Tokenizer) IsSpecial(id int) bool {
	_, ok := t.special.markerForID(id)
	return ok
}

// Encode converts text to an ordered token id sequence. The
// sequence-start id is prepended unless disabled via WithoutBOS.
func (t *Tokenizer) Encode(text string, opts ...EncodeOption) ([]int, error) {
	if !t.loaded {
		return nil, ErrNotLoaded
	}
	cfg := newEncodeConfig(opts)

	var ids []int
	if cfg.addBOS {
		ids = append(ids, t.special.BOS)
	}
	ids = append(ids, t.segment(normalize(text))...)

	if cfg.maxLength > 0 && len(ids) > cfg.maxLength {
		ids = ids[:cfg.maxLength]
	}
	return ids, nil
}

// segment walks the pretokenized rune sequence with greedy
// longest-match lookups against the vocabulary table.
func (t *Tokenizer) segment(text string) []int {
	runes := []rune(strings.ReplaceAll(text, " ", WordBoundary))
	var ids []int
	for i := 0; i < len(runes); {
		matched := false
		longest := t.maxPiece
		if rem := len(runes) - i; rem < longest {
			longest = rem
		}
		for l := longest; l >= 1; l-- {
			if id, ok := t.vocab[string(runes[i:i+l])]; ok {
				ids = append(ids, id)
				i += l
				matched = true
				break
			}
		}
		if !matched {
			ids = append(ids, t.special.Unk)
			i++
		}
	}
	return ids
}

// Decode converts token ids back to text. Control tokens are skipped
// unless KeepSpecialTokens is given; the word-boundary marker renders
// as a literal space. Ids outside both the vocabulary and the special
// set render as the unknown placeholder, never an error.
func (t *Tokenizer) Decode(ids []int, opts ...DecodeOption) (string, error) {
	if !t.loaded {
		return "", ErrNotLoaded
	}
	cfg := newDecodeConfig(opts)

	var sb strings.Builder
	for _, id := range ids {
		if marker, special := t.special.markerForID(id); special {
			if cfg.keepSpecial {
				sb.WriteString(marker)
			}
			continue
		}
		piece, ok := t.pieces[id]
		if !ok {
			sb.WriteString(UnkPiece)
			continue
		}
		sb.WriteString(strings.ReplaceAll(piece, WordBoundary, " "))
	}
	return sb.String(), nil
}

// normalize applies Unicode NFKC normalization and collapses runs of
// whitespace to a single space. Leading whitespace collapses to one
// space rather than disappearing, keeping the word-boundary convention
// intact.
func normalize(text string) string {
	text = norm.NFKC.String(text)
	var sb strings.Builder
	sb.Grow(len(text))
	inSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			sb.WriteRune(' ')
			inSpace = false
		}
		sb.WriteRune(r)
	}
	out := sb.String()
	if inSpace {
		// Trailing (or all) whitespace collapses to one space as well.
		out += " "
	}
	return out
}
