package tensor

import "math/rand"

// Zeros creates a tensor filled with zeros.
// Panics on an invalid shape.
func Zeros(shape Shape) *Tensor {
	t, err := New(shape, make([]float64, shape.NumElements()))
	if err != nil {
		panic(err)
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *Tensor {
	return Full(shape, 1)
}

// Full creates a tensor filled with a specific value.
//
// Example:
//
//	t := tensor.Full(tensor.Shape{3, 3}, 3.14)
func Full(shape Shape, value float64) *Tensor {
	t := Zeros(shape)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// Randn creates a tensor with values drawn from a normal distribution
// (mean=0, std=1). A nil rng uses the global source.
func Randn(shape Shape, rng *rand.Rand) *Tensor {
	t := Zeros(shape)
	for i := range t.data {
		if rng == nil {
			t.data[i] = rand.NormFloat64() //nolint:gosec // G404: ML uses math/rand intentionally
		} else {
			t.data[i] = rng.NormFloat64()
		}
	}
	return t
}
