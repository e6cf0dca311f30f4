package session

import (
	"fmt"
	"math"

	"github.com/born-ml/weaver/internal/graph"
	"github.com/born-ml/weaver/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// evaluator computes node values for a single run, caching each node once.
type evaluator struct {
	session *Session
	feeds   map[int]*tensor.Tensor
	cache   map[int]*tensor.Tensor
}

func (ev *evaluator) eval(n *graph.Node) (*tensor.Tensor, error) {
	if v, ok := ev.cache[n.ID()]; ok {
		return v, nil
	}

	inputs := n.Inputs()
	args := make([]*tensor.Tensor, len(inputs))
	for i, in := range inputs {
		v, err := ev.eval(in)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	v, err := ev.compute(n, args)
	if err != nil {
		return nil, &ExecutionError{Node: n.Name(), Op: n.Op(), Err: err}
	}
	ev.cache[n.ID()] = v
	return v, nil
}

//nolint:gocyclo,cyclop // one case per op
func (ev *evaluator) compute(n *graph.Node, args []*tensor.Tensor) (*tensor.Tensor, error) {
	switch n.Op() {
	case graph.OpPlaceholder:
		v, ok := ev.feeds[n.ID()]
		if !ok {
			return nil, fmt.Errorf("%w: placeholder %s", ErrMissingFeed, n.Name())
		}
		if want := n.Shape(); want != nil && !want.Equal(v.Shape()) {
			return nil, fmt.Errorf("%w: placeholder expects %v, fed %v", ErrShapeMismatch, want, v.Shape())
		}
		return v, nil
	case graph.OpConst:
		return n.Value(), nil
	case graph.OpVariable:
		return ev.session.variable(n), nil

	case graph.OpAdd:
		return binary(args[0], args[1], floats.AddTo)
	case graph.OpSub:
		return binary(args[0], args[1], floats.SubTo)
	case graph.OpMul:
		return binary(args[0], args[1], floats.MulTo)
	case graph.OpDiv:
		return binary(args[0], args[1], floats.DivTo)

	case graph.OpNeg:
		return scale(args[0], -1), nil
	case graph.OpScale:
		return scale(args[0], n.Factor()), nil
	case graph.OpSquare:
		return unary(args[0], func(v float64) float64 { return v * v }), nil
	case graph.OpReLU:
		return unary(args[0], relu), nil
	case graph.OpStep:
		return unary(args[0], step), nil
	case graph.OpSigmoid:
		return unary(args[0], sigmoid), nil
	case graph.OpTanh:
		return unary(args[0], math.Tanh), nil

	case graph.OpMatMul:
		return matmul(args[0], args[1])
	case graph.OpTranspose:
		return transpose(args[0])

	case graph.OpSum:
		return tensor.Scalar(floats.Sum(args[0].Data())), nil
	case graph.OpMean:
		return mean(args[0]), nil
	case graph.OpCount:
		return tensor.Scalar(float64(args[0].NumElements())), nil

	case graph.OpSumLike:
		return reduceTo(args[0], args[1].Shape())
	case graph.OpBroadcastLike:
		return broadcastTo(args[0], args[1].Shape())
	case graph.OpOnesLike:
		return tensor.Ones(args[0].Shape()), nil
	case graph.OpZerosLike:
		return tensor.Zeros(args[0].Shape()), nil

	default:
		return nil, fmt.Errorf("no kernel for op %s", n.Op())
	}
}
