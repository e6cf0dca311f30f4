// Package tokenizer turns text into token tensors for module inputs.
//
// Example usage:
//
//	import "github.com/born-ml/weaver/tokenizer"
//
//	tok, err := tokenizer.NewTikToken("cl100k_base")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Token IDs padded to 32 positions, ready to feed an instance.
//	ids, err := tokenizer.Tokens(tok, "Hello, world!", 32)
package tokenizer

import (
	"github.com/born-ml/weaver/internal/feed"
	"github.com/born-ml/weaver/internal/tensor"
)

// Tokenizer turns text into token IDs.
type Tokenizer = feed.Tokenizer

// TikToken wraps the OpenAI BPE tokenizers.
type TikToken = feed.TikToken

// NewTikToken creates a tokenizer for an encoding such as "cl100k_base" or
// a model such as "gpt-4".
func NewTikToken(name string) (*TikToken, error) {
	return feed.NewTikToken(name)
}

// Tokens encodes text into a vector of token IDs, truncated or padded to
// length when length is positive.
func Tokens(tok Tokenizer, text string, length int) (*tensor.Tensor, error) {
	return feed.Tokens(tok, text, length)
}

// TokenBatch encodes texts into a [len(texts), length] matrix.
func TokenBatch(tok Tokenizer, texts []string, length int) (*tensor.Tensor, error) {
	return feed.TokenBatch(tok, texts, length)
}
