// Package optim implements optimization algorithms for training modules.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Parameters and gradients are matched by variable name, the same names a
// training step reports its gradients under.
//
// Example usage:
//
//	optimizer := optim.NewSGD(optim.SGDConfig{LR: 0.01, Momentum: 0.9})
//
//	for range epochs {
//	    res, _ := inst.Train(x, labels) // gradients keyed by variable name
//	    _ = optimizer.Step(params, res.Gradients)
//	}
package optim

import (
	"errors"
	"fmt"

	"github.com/born-ml/weaver/internal/tensor"
)

// ErrShapeMismatch is returned when a gradient does not match its parameter.
var ErrShapeMismatch = errors.New("optim: gradient shape mismatch")

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies gradient updates to params in place.
	//
	// Parameters without a gradient did not take part in the loss and are
	// skipped.
	Step(params, grads map[string]*tensor.Tensor) error

	// GetLR returns the current learning rate.
	GetLR() float64

	// SetLR updates the learning rate.
	SetLR(lr float64)
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float64 // Learning rate
}

// gradient returns the gradient for a named parameter, or nil.
func gradient(name string, param *tensor.Tensor, grads map[string]*tensor.Tensor) (*tensor.Tensor, error) {
	grad, ok := grads[name]
	if !ok || grad == nil {
		return nil, nil
	}
	if !grad.Shape().Equal(param.Shape()) {
		return nil, fmt.Errorf("%w: %s has shape %v, gradient %v", ErrShapeMismatch, name, param.Shape(), grad.Shape())
	}
	return grad, nil
}
