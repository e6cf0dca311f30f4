package feed

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const endOfText = "<|endoftext|>"

// TikToken is a Tokenizer over a tiktoken-go BPE encoding.
type TikToken struct {
	bpe *tiktoken.Tiktoken
	eos int32
}

// NewTikToken loads an encoding by encoding name ("cl100k_base") or by
// model name ("gpt-4"). tiktoken-go fetches and caches the ranks on first use.
func NewTikToken(name string) (*TikToken, error) {
	bpe, err := tiktoken.GetEncoding(name)
	if err != nil {
		var modelErr error
		if bpe, modelErr = tiktoken.EncodingForModel(name); modelErr != nil {
			return nil, fmt.Errorf("feed: tiktoken %q: %w", name, err)
		}
	}

	t := &TikToken{bpe: bpe, eos: -1}
	if ids := bpe.Encode(endOfText, []string{endOfText}, nil); len(ids) == 1 {
		t.eos = int32(ids[0]) //nolint:gosec // G115: vocab size < 2^31.
	}
	return t, nil
}

func (t *TikToken) Encode(text string) ([]int32, error) {
	ids := t.bpe.Encode(text, nil, nil)
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id) //nolint:gosec // G115: vocab size < 2^31.
	}
	return out, nil
}

func (t *TikToken) Decode(ids []int32) (string, error) {
	in := make([]int, len(ids))
	for i, id := range ids {
		in[i] = int(id)
	}
	return t.bpe.Decode(in), nil
}

// EosToken returns the <|endoftext|> ID, or -1 if the encoding has none.
func (t *TikToken) EosToken() int32 { return t.eos }

// PadToken returns -1; padding falls back to EosToken.
func (t *TikToken) PadToken() int32 { return -1 }
