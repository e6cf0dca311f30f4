// Package feed converts caller values into tensors for instance inputs.
package feed

import (
	"errors"
	"fmt"

	"github.com/born-ml/weaver/internal/tensor"
)

// ErrRagged is returned for rows of unequal length.
var ErrRagged = errors.New("feed: ragged rows")

// Tokenizer turns text into token IDs.
type Tokenizer interface {
	Encode(text string) ([]int32, error)
	Decode(tokens []int32) (string, error)

	// EosToken returns the end-of-sequence token ID, or -1.
	EosToken() int32

	// PadToken returns the padding token ID, or -1.
	PadToken() int32
}

// Values returns a vector holding a copy of data.
func Values(data ...float64) *tensor.Tensor {
	t, err := tensor.FromSlice(data, tensor.Shape{len(data)})
	if err != nil {
		panic(err)
	}
	return t
}

// Matrix stacks rows into a 2D tensor.
func Matrix(rows [][]float64) (*tensor.Tensor, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("feed: empty matrix")
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrRagged, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return tensor.New(tensor.Shape{len(rows), cols}, data)
}

// Float32s converts single-precision data. Without a shape the result is a vector.
func Float32s(data []float32, shape ...int) (*tensor.Tensor, error) {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	return tensor.FromFloat32(data, tensor.Shape(shape))
}

// Tokens encodes text into a vector of token IDs. A positive length
// truncates or pads the sequence to exactly length tokens.
func Tokens(tok Tokenizer, text string, length int) (*tensor.Tensor, error) {
	ids, err := tok.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("feed: encode: %w", err)
	}
	if length <= 0 {
		length = len(ids)
	}
	if length == 0 {
		return nil, fmt.Errorf("feed: %q encodes to no tokens", text)
	}
	return tensor.New(tensor.Shape{length}, fit(ids, length, padID(tok)))
}

// TokenBatch encodes texts into a [len(texts), length] matrix. A length of
// zero pads every row to the longest sequence.
func TokenBatch(tok Tokenizer, texts []string, length int) (*tensor.Tensor, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("feed: empty batch")
	}
	encoded := make([][]int32, len(texts))
	longest := 0
	for i, text := range texts {
		ids, err := tok.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("feed: encode text %d: %w", i, err)
		}
		encoded[i] = ids
		longest = max(longest, len(ids))
	}
	if length <= 0 {
		length = longest
	}
	if length == 0 {
		return nil, fmt.Errorf("feed: batch encodes to no tokens")
	}

	pad := padID(tok)
	data := make([]float64, 0, len(texts)*length)
	for _, ids := range encoded {
		data = append(data, fit(ids, length, pad)...)
	}
	return tensor.New(tensor.Shape{len(texts), length}, data)
}

func padID(tok Tokenizer) float64 {
	if p := tok.PadToken(); p >= 0 {
		return float64(p)
	}
	if e := tok.EosToken(); e >= 0 {
		return float64(e)
	}
	return 0
}

func fit(ids []int32, length int, pad float64) []float64 {
	out := make([]float64, length)
	for i := range out {
		if i < len(ids) {
			out[i] = float64(ids[i])
		} else {
			out[i] = pad
		}
	}
	return out
}
