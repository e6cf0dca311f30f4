package optim

import (
	"sort"

	"github.com/born-ml/weaver/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// SGD implements Stochastic Gradient Descent optimizer with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
type SGD struct {
	lr         float64
	momentum   float64
	velocities map[string][]float64
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float64 // Learning rate (default: 0.01)
	Momentum float64 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer.
//
// Example:
//
//	sgd := optim.NewSGD(optim.SGDConfig{
//	    LR:       0.01,
//	    Momentum: 0.9,
//	})
func NewSGD(config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[string][]float64),
	}
}

// Step performs a single optimization step.
func (s *SGD) Step(params, grads map[string]*tensor.Tensor) error {
	for _, name := range sortedNames(params) {
		param := params[name]
		grad, err := gradient(name, param, grads)
		if err != nil {
			return err
		}
		if grad == nil {
			continue
		}

		if s.momentum == 0 {
			// param -= lr * grad
			floats.AddScaled(param.Data(), -s.lr, grad.Data())
			continue
		}

		velocity, ok := s.velocities[name]
		if !ok {
			velocity = make([]float64, param.NumElements())
			s.velocities[name] = velocity
		}
		floats.Scale(s.momentum, velocity)
		floats.Add(velocity, grad.Data())
		floats.AddScaled(param.Data(), -s.lr, velocity)
	}
	return nil
}

// GetLR returns the current learning rate.
func (s *SGD) GetLR() float64 {
	return s.lr
}

// SetLR updates the learning rate.
//
// Useful for learning rate scheduling during training.
func (s *SGD) SetLR(lr float64) {
	s.lr = lr
}

// Velocity returns a copy of the momentum buffer for a parameter, or nil.
func (s *SGD) Velocity(name string) []float64 {
	v, ok := s.velocities[name]
	if !ok {
		return nil
	}
	return append([]float64(nil), v...)
}

func sortedNames(params map[string]*tensor.Tensor) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
