package graph

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrNotDifferentiable is returned when a gradient path crosses an op with no gradient rule.
	ErrNotDifferentiable = errors.New("graph: op is not differentiable")

	// ErrForeignNode is returned when Gradients mixes nodes from different graphs.
	ErrForeignNode = errors.New("graph: node belongs to a different graph")
)

// Gradients adds nodes computing d(sum(y))/dx for every x in xs and returns
// them in the order of xs.
//
// Non-scalar outputs are seeded with ones, so the result is the gradient of
// the sum of y's elements. An x that y does not depend on gets a zeros node.
//
// Algorithm (reverse mode, same walk as a gradient tape):
//  1. Collect the nodes reachable from y.
//  2. Mark those that depend on some x.
//  3. Walk them in reverse ID order, applying each op's rule and
//     accumulating gradients when a node feeds several consumers.
func Gradients(y *Node, xs ...*Node) ([]*Node, error) {
	g := y.graph
	for _, x := range xs {
		if x.graph != g {
			return nil, fmt.Errorf("%w: %s", ErrForeignNode, x.name)
		}
	}

	reachable := collect(y)
	wanted := make(map[int]bool, len(xs))
	for _, x := range xs {
		wanted[x.id] = true
	}

	// reachable is sorted by ascending ID, so inputs are visited first.
	depends := make(map[int]bool)
	for _, n := range reachable {
		if wanted[n.id] {
			depends[n.id] = true
			continue
		}
		for _, in := range n.inputs {
			if depends[in.id] {
				depends[n.id] = true
				break
			}
		}
	}

	s := g.Root().WithSubScope("gradients")
	grads := make(map[int]*Node)
	if depends[y.id] {
		grads[y.id] = s.onesLike(y)
	}

	for i := len(reachable) - 1; i >= 0; i-- {
		n := reachable[i]
		grad, ok := grads[n.id]
		if !ok || len(n.inputs) == 0 {
			continue
		}

		inputGrads, err := backward(s, n, grad)
		if err != nil {
			return nil, err
		}
		for j, in := range n.inputs {
			if !depends[in.id] || inputGrads[j] == nil {
				continue
			}
			if prev, seen := grads[in.id]; seen {
				grads[in.id] = s.Add(prev, inputGrads[j])
			} else {
				grads[in.id] = inputGrads[j]
			}
		}
	}

	out := make([]*Node, len(xs))
	for i, x := range xs {
		if grad, ok := grads[x.id]; ok {
			out[i] = grad
		} else {
			out[i] = s.zerosLike(x)
		}
	}
	return out, nil
}

// collect returns the nodes y depends on (y included), sorted by ID.
func collect(y *Node) []*Node {
	seen := map[int]*Node{}
	stack := []*Node{y}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n.id]; ok {
			continue
		}
		seen[n.id] = n
		stack = append(stack, n.inputs...)
	}

	nodes := make([]*Node, 0, len(seen))
	for _, n := range seen {
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b *Node) int { return a.id - b.id })
	return nodes
}

// backward returns the gradient flowing into each input of n, given the
// gradient g flowing out of n.
//
// Broadcasting in the forward pass is undone by summing the gradient back to
// each input's shape.
func backward(s *Scope, n *Node, g *Node) ([]*Node, error) {
	in := n.inputs
	switch n.op {
	case OpAdd:
		return []*Node{s.sumLike(g, in[0]), s.sumLike(g, in[1])}, nil
	case OpSub:
		return []*Node{s.sumLike(g, in[0]), s.sumLike(s.Neg(g), in[1])}, nil
	case OpMul:
		a, b := in[0], in[1]
		return []*Node{s.sumLike(s.Mul(g, b), a), s.sumLike(s.Mul(g, a), b)}, nil
	case OpDiv:
		// d(a/b)/da = 1/b, d(a/b)/db = -a/b²
		a, b := in[0], in[1]
		gradB := s.Neg(s.Div(s.Mul(g, a), s.Square(b)))
		return []*Node{s.sumLike(s.Div(g, b), a), s.sumLike(gradB, b)}, nil
	case OpNeg:
		return []*Node{s.Neg(g)}, nil
	case OpScale:
		return []*Node{s.Scale(g, n.factor)}, nil
	case OpSquare:
		return []*Node{s.Mul(g, s.Scale(in[0], 2))}, nil
	case OpMatMul:
		// d(A@B)/dA = G @ Bᵀ, d(A@B)/dB = Aᵀ @ G
		a, b := in[0], in[1]
		return []*Node{s.MatMul(g, s.Transpose(b)), s.MatMul(s.Transpose(a), g)}, nil
	case OpTranspose:
		return []*Node{s.Transpose(g)}, nil
	case OpReLU:
		return []*Node{s.Mul(g, s.step(in[0]))}, nil
	case OpSigmoid:
		// σ' = σ(1-σ), reusing the forward output.
		return []*Node{s.Mul(g, s.Mul(n, s.Sub(s.onesLike(n), n)))}, nil
	case OpTanh:
		return []*Node{s.Mul(g, s.Sub(s.onesLike(n), s.Square(n)))}, nil
	case OpSum:
		return []*Node{s.broadcastLike(g, in[0])}, nil
	case OpMean:
		return []*Node{s.Div(s.broadcastLike(g, in[0]), s.count(in[0]))}, nil
	default:
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotDifferentiable, n.op, n.name)
	}
}
