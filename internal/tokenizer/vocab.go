package tokenizer

import (
	"encoding/json"
	"fmt"
)

// Control-token marker literals. These are fixed by the prompt format;
// only their integer ids come from the vocabulary artifact.
const (
	BOSPiece       = "<s>"
	EOSPiece       = "</s>"
	PadPiece       = "<pad>"
	UnkPiece       = "<unk>"
	SystemPiece    = "<|system|>"
	UserPiece      = "<|user|>"
	AssistantPiece = "<|assistant|>"
	EndPiece       = "<|end|>"
)

// WordBoundary is the reserved marker standing in for a preceding
// space, so "hello" and " hello" segment to different sub-word ids.
const WordBoundary = "▁"

// SpecialTokens holds the reserved control-token ids of a vocabulary
// artifact. Reserved ids never collide with vocabulary ids.
type SpecialTokens struct {
	BOS       int `json:"bos"`
	EOS       int `json:"eos"`
	Pad       int `json:"pad"`
	Unk       int `json:"unk"`
	System    int `json:"system"`
	User      int `json:"user"`
	Assistant int `json:"assistant"`
	End       int `json:"end"`
}

// artifact is the serialized vocabulary table plus the special-token
// map, fetched as a single JSON payload by the download manager.
type artifact struct {
	Vocab   map[string]int `json:"vocab"`
	Special SpecialTokens  `json:"special"`
}

// parseArtifact decodes and validates a vocabulary artifact.
func parseArtifact(data []byte) (*artifact, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("tokenizer: parsing vocabulary artifact: %w", err)
	}
	if len(a.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer: vocabulary artifact has no entries")
	}
	byID := make(map[int]string, len(a.Vocab))
	for piece, id := range a.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("tokenizer: negative id %d for piece %q", id, piece)
		}
		if prev, dup := byID[id]; dup {
			return nil, fmt.Errorf("tokenizer: id %d maps to both %q and %q", id, prev, piece)
		}
		byID[id] = piece
	}
	seen := make(map[int]string, 8)
	for _, s := range []struct {
		name string
		id   int
	}{
		{"bos", a.Special.BOS}, {"eos", a.Special.EOS},
		{"pad", a.Special.Pad}, {"unk", a.Special.Unk},
		{"system", a.Special.System}, {"user", a.Special.User},
		{"assistant", a.Special.Assistant}, {"end", a.Special.End},
	} {
		if s.id < 0 {
			return nil, fmt.Errorf("tokenizer: negative %s id %d", s.name, s.id)
		}
		if other, dup := seen[s.id]; dup {
			return nil, fmt.Errorf("tokenizer: special ids %s and %s collide on %d", s.name, other, s.id)
		}
		seen[s.id] = s.name
		if piece, taken := byID[s.id]; taken {
			return nil, fmt.Errorf("tokenizer: special id %d (%s) collides with vocabulary piece %q", s.id, s.name, piece)
		}
	}
	return &a, nil
}

// markerForID returns the control-token literal for a reserved id.
func (s SpecialTokens) markerForID(id int) (string, bool) {
	switch id {
	case s.BOS:
		return BOSPiece, true
	case s.EOS:
		return EOSPiece, true
	case s.Pad:
		return PadPiece, true
	case s.Unk:
		return UnkPiece, true
	case s.System:
		return SystemPiece, true
	case s.User:
		return UserPiece, true
	case s.Assistant:
		return AssistantPiece, true
	case s.End:
		return EndPiece, true
	}
	return "", false
}
