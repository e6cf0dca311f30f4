// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/weaver/internal/graph"
	"github.com/born-ml/weaver/internal/tensor"
)

// ErrUnknownShape is returned when a layer needs an input dimension the
// graph does not know.
var ErrUnknownShape = errors.New("nn: input shape unknown")

// Activation maps a node to an activated node.
type Activation func(c *Context, x *graph.Node) *graph.Node

// ReLU applies max(0, x).
func ReLU(c *Context, x *graph.Node) *graph.Node { return c.ReLU(x) }

// Sigmoid applies 1/(1+exp(-x)).
func Sigmoid(c *Context, x *graph.Node) *graph.Node { return c.Sigmoid(x) }

// Tanh applies tanh(x).
func Tanh(c *Context, x *graph.Node) *graph.Node { return c.Tanh(x) }

// DenseConfig configures a dense layer.
type DenseConfig struct {
	Units      int        // Output features
	Activation Activation // Optional activation (default: identity)
	NoBias     bool       // Skip the bias term
	Seed       int64      // Weight initialization seed
}

// NewDense creates a fully connected layer computing activation(x·W + b).
//
// W is created the first time the layer runs, with its input dimension
// taken from x, and initialized with Xavier normal values.
//
// Example:
//
//	hidden := nn.NewDense("Hidden", nn.DenseConfig{Units: 16, Activation: nn.ReLU})
//	h, err := hidden.Call(c, x) // x: [batch, in]
func NewDense(name string, cfg DenseConfig, opts ...Option) *Module {
	if cfg.Units <= 0 {
		panic(fmt.Sprintf("nn: dense layer %s needs positive units, got %d", name, cfg.Units))
	}
	m := New(name, opts...)
	err := m.DefineForward(func(c *Context, in ...*graph.Node) (*graph.Node, error) {
		x := in[0]
		if len(x.Shape()) != 2 {
			return nil, fmt.Errorf("%w: dense layer %s needs a [batch, features] input, got %v", ErrUnknownShape, name, x.Shape())
		}
		fanIn := x.Shape()[1]

		w, err := Remember(c, "W", func() (*graph.Node, error) {
			rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // G404: ML uses math/rand intentionally
			init := tensor.Randn(tensor.Shape{fanIn, cfg.Units}, rng)
			std := math.Sqrt(2 / float64(fanIn+cfg.Units))
			for i, v := range init.Data() {
				init.Data()[i] = v * std
			}
			return c.Variable("W", init), nil
		})
		if err != nil {
			return nil, err
		}
		y := c.MatMul(x, w)

		if !cfg.NoBias {
			b, err := Remember(c, "b", func() (*graph.Node, error) {
				return c.Variable("b", tensor.Zeros(tensor.Shape{cfg.Units})), nil
			})
			if err != nil {
				return nil, err
			}
			y = c.Add(y, b)
		}
		if cfg.Activation != nil {
			y = cfg.Activation(c, y)
		}
		return y, nil
	}, Input{Name: "x"})
	if err != nil {
		panic(err)
	}
	return m
}

// MSE is the mean squared error between pred and target.
func MSE(c *Context, pred, target *graph.Node) *graph.Node {
	return c.Mean(c.Square(c.Sub(pred, target)))
}
