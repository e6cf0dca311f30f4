package graph

import (
	"fmt"

	"github.com/born-ml/weaver/internal/tensor"
)

// Scope is the operation-construction context. Every op a Scope creates is
// named under the scope's prefix.
//
// Ops panic when handed nodes from another graph or inputs whose known
// shapes are incompatible; both are programming errors in the model code.
type Scope struct {
	graph  *Graph
	prefix string
}

// Graph returns the graph the scope builds into.
func (s *Scope) Graph() *Graph { return s.graph }

// Name returns the scope's full prefix ("" for the root).
func (s *Scope) Name() string { return s.prefix }

// WithSubScope returns a child scope. Reusing a name yields name_1, name_2, ...
// so repeated module instances never share op names.
func (s *Scope) WithSubScope(name string) *Scope {
	return &Scope{graph: s.graph, prefix: s.graph.reserveScope(s.prefix, name)}
}

func (s *Scope) check(op Op, inputs ...*Node) {
	for _, in := range inputs {
		if in == nil {
			panic(fmt.Sprintf("graph: %s: nil input", op))
		}
		if in.graph != s.graph {
			panic(fmt.Sprintf("graph: %s: input %s belongs to a different graph", op, in.name))
		}
	}
}

func (s *Scope) node(op Op, shape tensor.Shape, inputs ...*Node) *Node {
	s.check(op, inputs...)
	return s.graph.add(&Node{op: op, inputs: inputs, shape: shape}, s.prefix, string(op))
}

// Placeholder creates an input fed at run time. A nil shape accepts any shape.
func (s *Scope) Placeholder(name string, shape tensor.Shape) *Node {
	return s.graph.add(&Node{op: OpPlaceholder, shape: shape.Clone()}, s.prefix, name)
}

// Constant embeds a copy of t in the graph.
func (s *Scope) Constant(t *tensor.Tensor) *Node {
	return s.graph.add(&Node{op: OpConst, shape: t.Shape().Clone(), value: t.Clone()}, s.prefix, string(OpConst))
}

// Ones is a constant filled with ones.
func (s *Scope) Ones(shape tensor.Shape) *Node {
	return s.Constant(tensor.Ones(shape))
}

// Zeros is a constant filled with zeros.
func (s *Scope) Zeros(shape tensor.Shape) *Node {
	return s.Constant(tensor.Zeros(shape))
}

// Fill is a constant filled with v.
func (s *Scope) Fill(shape tensor.Shape, v float64) *Node {
	return s.Constant(tensor.Full(shape, v))
}

// Variable creates a trainable value initialized from a copy of init.
// The session owns the current value.
func (s *Scope) Variable(name string, init *tensor.Tensor) *Node {
	return s.graph.add(&Node{op: OpVariable, shape: init.Shape().Clone(), value: init.Clone()}, s.prefix, name)
}

func (s *Scope) elementwise(op Op, a, b *Node) *Node {
	s.check(op, a, b)
	var shape tensor.Shape
	if a.shape != nil && b.shape != nil {
		out, err := tensor.BroadcastShapes(a.shape, b.shape)
		if err != nil {
			panic(fmt.Sprintf("graph: %s: %v", op, err))
		}
		shape = out
	}
	return s.node(op, shape, a, b)
}

// Add is a + b with broadcasting.
func (s *Scope) Add(a, b *Node) *Node { return s.elementwise(OpAdd, a, b) }

// Sub is a - b with broadcasting.
func (s *Scope) Sub(a, b *Node) *Node { return s.elementwise(OpSub, a, b) }

// Mul is a * b with broadcasting.
func (s *Scope) Mul(a, b *Node) *Node { return s.elementwise(OpMul, a, b) }

// Div is a / b with broadcasting.
func (s *Scope) Div(a, b *Node) *Node { return s.elementwise(OpDiv, a, b) }

// Neg is -x.
func (s *Scope) Neg(x *Node) *Node { return s.node(OpNeg, x.shape, x) }

// Square is x * x.
func (s *Scope) Square(x *Node) *Node { return s.node(OpSquare, x.shape, x) }

// ReLU is max(x, 0).
func (s *Scope) ReLU(x *Node) *Node { return s.node(OpReLU, x.shape, x) }

// Sigmoid is 1 / (1 + exp(-x)).
func (s *Scope) Sigmoid(x *Node) *Node { return s.node(OpSigmoid, x.shape, x) }

// Tanh is the hyperbolic tangent.
func (s *Scope) Tanh(x *Node) *Node { return s.node(OpTanh, x.shape, x) }

// Scale is x * f for a constant f.
func (s *Scope) Scale(x *Node, f float64) *Node {
	s.check(OpScale, x)
	return s.graph.add(&Node{op: OpScale, inputs: []*Node{x}, shape: x.shape, factor: f}, s.prefix, string(OpScale))
}

// Sum reduces all elements to a scalar.
func (s *Scope) Sum(x *Node) *Node { return s.node(OpSum, tensor.Shape{}, x) }

// Mean averages all elements into a scalar.
func (s *Scope) Mean(x *Node) *Node { return s.node(OpMean, tensor.Shape{}, x) }

// MatMul multiplies two matrices: [m, k] @ [k, n] → [m, n].
func (s *Scope) MatMul(a, b *Node) *Node {
	s.check(OpMatMul, a, b)
	var shape tensor.Shape
	if a.shape != nil && b.shape != nil {
		if len(a.shape) != 2 || len(b.shape) != 2 || a.shape[1] != b.shape[0] {
			panic(fmt.Sprintf("graph: MatMul: incompatible shapes %v and %v", a.shape, b.shape))
		}
		shape = tensor.Shape{a.shape[0], b.shape[1]}
	}
	return s.node(OpMatMul, shape, a, b)
}

// Transpose swaps the two axes of a matrix.
func (s *Scope) Transpose(x *Node) *Node {
	s.check(OpTranspose, x)
	var shape tensor.Shape
	if x.shape != nil {
		if len(x.shape) != 2 {
			panic(fmt.Sprintf("graph: Transpose: expected a matrix, got shape %v", x.shape))
		}
		shape = tensor.Shape{x.shape[1], x.shape[0]}
	}
	return s.node(OpTranspose, shape, x)
}

// step is 1 where x > 0, else 0.
func (s *Scope) step(x *Node) *Node { return s.node(OpStep, x.shape, x) }

// sumLike reduces g over the dimensions that were broadcast to reach ref's shape.
func (s *Scope) sumLike(g, ref *Node) *Node {
	if g.shape != nil && ref.shape != nil && g.shape.Equal(ref.shape) {
		return g
	}
	return s.node(OpSumLike, ref.shape, g, ref)
}

// broadcastLike expands g to ref's shape.
func (s *Scope) broadcastLike(g, ref *Node) *Node {
	return s.node(OpBroadcastLike, ref.shape, g, ref)
}

func (s *Scope) onesLike(ref *Node) *Node  { return s.node(OpOnesLike, ref.shape, ref) }
func (s *Scope) zerosLike(ref *Node) *Node { return s.node(OpZerosLike, ref.shape, ref) }
func (s *Scope) count(ref *Node) *Node     { return s.node(OpCount, tensor.Shape{}, ref) }
