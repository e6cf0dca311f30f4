// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package instance runs modules on a graph and session.
//
// # Overview
//
// An instance binds one module definition to its own execution backend.
// Creating it does no work; the first call builds the module, constructs the
// forward and training graphs once and opens a session:
//
//	inst := instance.New(model, instance.WithOptimizer(optim.NewSGD(optim.SGDConfig{LR: 0.1})))
//	defer inst.Close()
//
//	out, err := inst.Forward(x)         // runs forward
//	res, err := inst.Train(x, labels)   // runs the training policy
//	res, err = inst.TrainStep("fit", x, labels)
//
// Bind one module to several instances with WithIsolatedState so each keeps
// its own variables.
package instance

import (
	"github.com/born-ml/weaver/internal/config"
	"github.com/born-ml/weaver/internal/instance"
	"github.com/born-ml/weaver/internal/module"
	"github.com/born-ml/weaver/internal/optim"
	"go.uber.org/zap"
)

// GraphInstance runs one module on its own graph and session.
type GraphInstance = instance.GraphInstance

// Option configures a GraphInstance.
type Option = instance.Option

var (
	// ErrClosed is returned by calls on a closed instance.
	ErrClosed = instance.ErrClosed

	// ErrForeignGraph is returned when a module's shared state is already
	// bound to another instance; use WithIsolatedState.
	ErrForeignGraph = module.ErrForeignGraph
)

// New binds m. No graph work happens until the first call.
func New(m *module.Module, opts ...Option) *GraphInstance {
	return instance.New(m, opts...)
}

// WithLogger sets the instance logger.
func WithLogger(l *zap.Logger) Option {
	return instance.WithLogger(l)
}

// WithIsolatedState gives the instance private module state.
func WithIsolatedState() Option {
	return instance.WithIsolatedState()
}

// WithOptimizer applies o after every training step.
func WithOptimizer(o optim.Optimizer) Option {
	return instance.WithOptimizer(o)
}

// OptionsFromConfig maps an HCL instance block to options.
func OptionsFromConfig(cfg *config.Instance) ([]Option, error) {
	return instance.OptionsFromConfig(cfg)
}

// FromConfig binds m using the named instance block of f.
func FromConfig(m *module.Module, f *config.File, name string) (*GraphInstance, error) {
	return instance.FromConfig(m, f, name)
}
