// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn is the module authoring API.
//
// # Overview
//
// A module is plain code that emits graph ops through an explicit *Context.
// Values the module needs across calls are memoized by key:
//   - DeclareBuildSlot registers a slot filled once by the module build,
//     which runs the first time the module is used;
//   - Remember creates a value the first time its call site runs and returns
//     the same value on every later call.
//
// # Basic Usage
//
//	m := nn.New("Adder")
//	weights := nn.MustDeclareBuildSlot(m, "weights", func(c *nn.Context) (*graph.Node, error) {
//	    return c.Ones(tensor.Shape{4}), nil
//	})
//	_ = m.DefineForward(func(c *nn.Context, in ...*graph.Node) (*graph.Node, error) {
//	    w, err := weights.Get(c)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return c.Add(in[0], w), nil
//	}, nn.Input{Name: "x", Shape: tensor.Shape{4}})
//
//	inst := instance.New(m)
//	out, err := inst.Forward(tensor.Values(1, 2, 3, 4)) // [2 3 4 5]
//
// # Keys
//
// Every declaration names its key explicitly. Keys are unique per module:
// declaring a build key twice, or using one key from two Remember call
// sites, fails with ErrKeyCollision.
package nn

import (
	"github.com/born-ml/weaver/internal/build"
	"github.com/born-ml/weaver/internal/keys"
	"github.com/born-ml/weaver/internal/memo"
	"github.com/born-ml/weaver/internal/module"
	"go.uber.org/zap"
)

// Module is a module definition.
type Module = module.Module

// Context is the explicit receiver of module code.
type Context = module.Context

// Option configures a Module.
type Option = module.Option

// Input describes one operand of a forward function or training step.
type Input = module.Input

// WithLoss is the result of a training step.
type WithLoss = module.WithLoss

// StepResult is the concrete outcome of a training step.
type StepResult = module.StepResult

// Trainer runs named training steps.
type Trainer = module.Trainer

// ForwardFunc computes a module's output.
type ForwardFunc = module.ForwardFunc

// StepFunc computes a training step.
type StepFunc = module.StepFunc

// TrainFunc overrides the default training policy.
type TrainFunc = module.TrainFunc

// BuildSlot is a slot filled by the module build.
type BuildSlot[T any] = module.BuildSlot[T]

// Lifecycle is the build state of a module.
type Lifecycle = build.State

// Lifecycle states.
const (
	Defined  Lifecycle = build.Defined
	Building Lifecycle = build.Building
	Built    Lifecycle = build.Built
	Failed   Lifecycle = build.Failed
)

// Errors

// NotBuiltYetError reports a build slot read before the module was built.
type NotBuiltYetError = memo.NotBuiltYetError

// KeyCollisionError reports two declarations sharing one key.
type KeyCollisionError = keys.CollisionError

// BuildFailedError wraps the error of the build action that failed.
type BuildFailedError = build.ActionFailedError

var (
	// ErrNotBuiltYet matches NotBuiltYetError.
	ErrNotBuiltYet = memo.ErrNotBuiltYet

	// ErrKeyCollision matches KeyCollisionError.
	ErrKeyCollision = memo.ErrKeyCollision

	// ErrInvalidKey is returned for unusable keys.
	ErrInvalidKey = keys.ErrInvalidKey

	// ErrBuildFailed matches BuildFailedError.
	ErrBuildFailed = build.ErrBuildFailed

	// ErrUnusable is returned after a failed build until the module is Reset.
	ErrUnusable = build.ErrUnusable

	// ErrNoTrainingStep is returned by Train without training steps.
	ErrNoTrainingStep = module.ErrNoTrainingStep

	// ErrAmbiguousTrain is returned by Train with several steps and no override.
	ErrAmbiguousTrain = module.ErrAmbiguousTrain
)

// New creates an empty module definition.
func New(name string, opts ...Option) *Module {
	return module.New(name, opts...)
}

// WithLogger sets the module's logger.
func WithLogger(l *zap.Logger) Option {
	return module.WithLogger(l)
}

// SetLogger sets the logger of modules created without WithLogger.
func SetLogger(l *zap.Logger) {
	module.SetLogger(l)
}

// DeclareBuildSlot declares a slot that init fills during the module build.
func DeclareBuildSlot[T any](m *Module, key string, init func(c *Context) (T, error)) (*BuildSlot[T], error) {
	return module.DeclareBuildSlotAt(m, 1, key, init)
}

// MustDeclareBuildSlot is like DeclareBuildSlot but panics on error.
func MustDeclareBuildSlot[T any](m *Module, key string, init func(c *Context) (T, error)) *BuildSlot[T] {
	s, err := module.DeclareBuildSlotAt(m, 1, key, init)
	if err != nil {
		panic(err)
	}
	return s
}

// Remember returns the value stored under key, calling factory on first use.
func Remember[T any](c *Context, key string, factory func() (T, error)) (T, error) {
	return module.RememberAt(c, 1, key, factory)
}

// MustRemember is like Remember but panics on error.
func MustRemember[T any](c *Context, key string, factory func() (T, error)) T {
	v, err := module.RememberAt(c, 1, key, factory)
	if err != nil {
		panic(err)
	}
	return v
}
