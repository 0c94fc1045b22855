package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"offlined/internal/session"
	"offlined/internal/tokenizer"
	"offlined/pkg/types"
)

// Graph contracts the answer path understands. Text-level graphs take
// the prompt verbatim and return generated text in one call; token-level
// graphs are driven by a greedy decode loop over their logits.
const (
	inputPrompt    = "prompt"
	inputMaxTokens = "max_tokens"
	inputIDs       = "input_ids"
	outputText     = "text"
	outputLogits   = "logits"
)

// Answer runs one prompt through the loaded package and returns the
// generated text. It fails with a not-ready error until FetchPackage
// has completed.
func (p *Pipeline) Answer(ctx context.Context, req types.AnswerRequest) (types.AnswerResponse, error) {
	p.mu.Lock()
	tok := p.tok
	tier := p.tier
	p.mu.Unlock()
	if tok == nil || !tok.Loaded() || !p.sess.Ready() {
		return types.AnswerResponse{}, ErrNotReady()
	}

	prompt, err := chatPrompt(req)
	if err != nil {
		return types.AnswerResponse{}, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	start := time.Now()
	var text string
	var generated int
	if hasOutput(p.sess.OutputNames(), outputText) {
		text, generated, err = p.answerText(ctx, tok, prompt, maxTokens)
	} else {
		text, generated, err = p.answerTokens(ctx, tok, prompt, maxTokens)
	}
	if err != nil {
		return types.AnswerResponse{}, err
	}
	return types.AnswerResponse{
		Text:            strings.TrimSpace(text),
		Tier:            tier,
		TokensGenerated: generated,
		LatencyMillis:   time.Since(start).Milliseconds(),
	}, nil
}

// chatPrompt renders the request into the chat template. A bare Prompt
// is treated as a single user turn.
func chatPrompt(req types.AnswerRequest) (string, error) {
	messages := req.Messages
	if len(messages) == 0 {
		if strings.TrimSpace(req.Prompt) == "" {
			return "", invalidRequestError{msg: "empty prompt"}
		}
		messages = []types.ChatMessage{{Role: tokenizer.RoleUser, Content: req.Prompt}}
	}
	return tokenizer.FormatChat(messages)
}

// answerText drives a text-level graph: one Run with the rendered
// prompt, generation bounded and terminated inside the engine.
func (p *Pipeline) answerText(ctx context.Context, tok *tokenizer.Tokenizer, prompt string, maxTokens int) (string, int, error) {
	pt, err := p.sess.CreateTensor(session.DtypeString, prompt, nil)
	if err != nil {
		return "", 0, err
	}
	mt, err := p.sess.CreateTensor(session.DtypeInt64, []int64{int64(maxTokens)}, []int64{1})
	if err != nil {
		return "", 0, err
	}
	outputs, err := p.sess.RunInference(ctx, map[string]*session.Tensor{
		inputPrompt:    pt,
		inputMaxTokens: mt,
	})
	if err != nil {
		return "", 0, err
	}
	out, ok := outputs[outputText]
	if !ok {
		return "", 0, fmt.Errorf("pipeline: graph produced no %q output", outputText)
	}
	text, ok := out.Data.(string)
	if !ok {
		return "", 0, fmt.Errorf("pipeline: %q output is %T, want string", outputText, out.Data)
	}
	text = stripMarkers(text)
	ids, err := tok.Encode(text, tokenizer.WithoutBOS())
	if err != nil {
		return "", 0, err
	}
	return text, len(ids), nil
}

// answerTokens drives a token-level graph: greedy argmax decoding, one
// forward pass per generated token, stopping on any control token or
// the token budget.
func (p *Pipeline) answerTokens(ctx context.Context, tok *tokenizer.Tokenizer, prompt string, maxTokens int) (string, int, error) {
	ids, err := tok.Encode(prompt)
	if err != nil {
		return "", 0, err
	}
	var generated []int
	for len(generated) < maxTokens {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		seq := make([]int64, 0, len(ids)+len(generated))
		for _, id := range ids {
			seq = append(seq, int64(id))
		}
		for _, id := range generated {
			seq = append(seq, int64(id))
		}
		in, err := p.sess.CreateTensor(session.DtypeInt64, seq, []int64{1, int64(len(seq))})
		if err != nil {
			return "", 0, err
		}
		outputs, err := p.sess.RunInference(ctx, map[string]*session.Tensor{inputIDs: in})
		if err != nil {
			return "", 0, err
		}
		logits, ok := outputs[outputLogits]
		if !ok {
			return "", 0, fmt.Errorf("pipeline: graph produced no %q output", outputLogits)
		}
		next, err := argmaxLastRow(logits)
		if err != nil {
			return "", 0, err
		}
		if tok.IsSpecial(next) {
			break
		}
		generated = append(generated, next)
	}
	text, err := tok.Decode(generated)
	if err != nil {
		return "", 0, err
	}
	return text, len(generated), nil
}

// argmaxLastRow picks the highest-scoring token id from the final row
// of a [.., vocab] float32 logits tensor.
func argmaxLastRow(t *session.Tensor) (int, error) {
	if t.Dtype != session.DtypeFloat32 {
		return 0, fmt.Errorf("pipeline: logits dtype %s, want %s", t.Dtype, session.DtypeFloat32)
	}
	data, ok := t.Data.([]float32)
	if !ok || len(data) == 0 {
		return 0, fmt.Errorf("pipeline: empty logits tensor")
	}
	cols := len(data)
	if n := len(t.Dims); n > 0 {
		cols = int(t.Dims[n-1])
	}
	if cols <= 0 || cols > len(data) {
		return 0, fmt.Errorf("pipeline: logits shape %v does not fit %d values", t.Dims, len(data))
	}
	row := data[len(data)-cols:]
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best, nil
}

// stripMarkers removes chat-template control markers a text-level
// engine may echo back, cutting generation at the first end marker.
func stripMarkers(text string) string {
	if cut := strings.Index(text, tokenizer.EndPiece); cut >= 0 {
		text = text[:cut]
	}
	for _, marker := range []string{
		tokenizer.BOSPiece, tokenizer.EOSPiece, tokenizer.PadPiece,
		tokenizer.SystemPiece, tokenizer.UserPiece, tokenizer.AssistantPiece,
	} {
		text = strings.ReplaceAll(text, marker, "")
	}
	return text
}

func hasOutput(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
