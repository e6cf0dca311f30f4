// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the concrete values fed to and returned by module
// instances.
//
// Tensors are dense, row-major float64 arrays with a Shape. A nil Shape on a
// graph node means the shape is unknown until run time; an empty Shape is a
// scalar.
//
// Example:
//
//	x, err := tensor.FromSlice([]float64{1, 2, 3, 4}, tensor.Shape{2, 2})
//	ones := tensor.Ones(tensor.Shape{2, 2})
//	fmt.Println(tensor.Equal(x, ones))
package tensor

import (
	"math/rand"

	"github.com/born-ml/weaver/internal/feed"
	"github.com/born-ml/weaver/internal/tensor"
)

// Tensor is a dense float64 array.
type Tensor = tensor.Tensor

// Shape is a tensor shape.
type Shape = tensor.Shape

// ErrRagged is returned by Matrix for rows of unequal length.
var ErrRagged = feed.ErrRagged

// New creates a tensor that takes ownership of data.
func New(shape Shape, data []float64) (*Tensor, error) {
	return tensor.New(shape, data)
}

// FromSlice creates a tensor from a copy of data.
func FromSlice(data []float64, shape Shape) (*Tensor, error) {
	return tensor.FromSlice(data, shape)
}

// FromFloat32 creates a tensor from single-precision data.
func FromFloat32(data []float32, shape Shape) (*Tensor, error) {
	return tensor.FromFloat32(data, shape)
}

// Scalar creates a rank-0 tensor.
func Scalar(v float64) *Tensor {
	return tensor.Scalar(v)
}

// Values creates a vector from its arguments.
func Values(data ...float64) *Tensor {
	return feed.Values(data...)
}

// Matrix stacks rows into a 2D tensor.
func Matrix(rows [][]float64) (*Tensor, error) {
	return feed.Matrix(rows)
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape Shape) *Tensor {
	return tensor.Zeros(shape)
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *Tensor {
	return tensor.Ones(shape)
}

// Full creates a tensor filled with value.
func Full(shape Shape, value float64) *Tensor {
	return tensor.Full(shape, value)
}

// Randn creates a tensor of standard normal samples. A nil rng uses the
// global source.
func Randn(shape Shape, rng *rand.Rand) *Tensor {
	return tensor.Randn(shape, rng)
}

// Equal reports whether a and b have the same shape and elements.
func Equal(a, b *Tensor) bool {
	return tensor.Equal(a, b)
}

// AllClose reports whether a and b match within tol.
func AllClose(a, b *Tensor, tol float64) bool {
	return tensor.AllClose(a, b, tol)
}

// BroadcastShapes returns the shape two operands broadcast to.
func BroadcastShapes(a, b Shape) (Shape, error) {
	return tensor.BroadcastShapes(a, b)
}
