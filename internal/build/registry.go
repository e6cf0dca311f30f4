// Package build implements the deferred, run-once build registry.
//
// Initialization actions are registered while a module is being defined and
// run together, in registration order, the first time the module is used.
// The registry moves through Defined -> Building -> Built; a failing action
// moves it to Failed, where it stays until Reset.
package build

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrBuildFailed matches ActionFailedError.
	ErrBuildFailed = errors.New("build: action failed")

	// ErrUnusable is returned by RunOnce after a failed build.
	ErrUnusable = errors.New("build: registry unusable after failed build")

	// ErrRegistryClosed is returned by Register once a build has started.
	ErrRegistryClosed = errors.New("build: registry closed, build already started")

	// ErrNotFailed is returned by Reset when the registry is not in Failed.
	ErrNotFailed = errors.New("build: reset requires a failed build")
)

// State is the lifecycle state of a registry.
type State uint8

// Lifecycle states.
const (
	Defined State = iota
	Building
	Built
	Failed
)

func (s State) String() string {
	switch s {
	case Defined:
		return "defined"
	case Building:
		return "building"
	case Built:
		return "built"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Action is a named initialization step.
type Action[C any] struct {
	Name string
	Fn   func(C) error
}

// ActionFailedError wraps the error of the action that stopped a build.
type ActionFailedError struct {
	Action string
	Index  int
	Err    error
}

func (e *ActionFailedError) Error() string {
	return fmt.Sprintf("build: action %d (%s) failed: %v", e.Index, e.Action, e.Err)
}

func (e *ActionFailedError) Unwrap() []error {
	return []error{ErrBuildFailed, e.Err}
}

// Registry holds ordered build actions and runs them at most once.
//
// Concurrent RunOnce callers are serialized: one runs the actions, the others
// block and then observe the final state. Actions must not call RunOnce on
// their own registry.
type Registry[C any] struct {
	run sync.Mutex // held for the duration of a build

	mu      sync.Mutex
	actions []Action[C]
	state   State
	err     error
}

// NewRegistry creates an empty registry in the Defined state.
func NewRegistry[C any]() *Registry[C] {
	return &Registry[C]{}
}

// Register appends an action. Actions run in registration order.
func (r *Registry[C]) Register(name string, fn func(C) error) error {
	if fn == nil {
		return fmt.Errorf("build: nil action %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Defined {
		return fmt.Errorf("%w (state %s, action %q)", ErrRegistryClosed, r.state, name)
	}
	r.actions = append(r.actions, Action[C]{Name: name, Fn: fn})
	return nil
}

// RunOnce runs every registered action with ctx unless the registry is
// already built. After a failure every call returns ErrUnusable wrapping the
// first ActionFailedError until Reset.
//
// A panicking action marks the registry Failed before the panic continues.
func (r *Registry[C]) RunOnce(ctx C) error {
	r.run.Lock()
	defer r.run.Unlock()

	r.mu.Lock()
	switch r.state {
	case Built:
		r.mu.Unlock()
		return nil
	case Failed:
		err := r.err
		r.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrUnusable, err)
	}
	r.state = Building
	actions := append([]Action[C](nil), r.actions...)
	r.mu.Unlock()

	err := r.runActions(ctx, actions)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = Failed
		r.err = err
		return err
	}
	r.state = Built
	return nil
}

func (r *Registry[C]) runActions(ctx C, actions []Action[C]) error {
	current := -1
	defer func() {
		if p := recover(); p != nil {
			r.mu.Lock()
			r.state = Failed
			name := ""
			if current >= 0 {
				name = actions[current].Name
			}
			r.err = &ActionFailedError{Action: name, Index: current, Err: fmt.Errorf("panic: %v", p)}
			r.mu.Unlock()
			panic(p)
		}
	}()

	for i, a := range actions {
		current = i
		if err := a.Fn(ctx); err != nil {
			return &ActionFailedError{Action: a.Name, Index: i, Err: err}
		}
	}
	return nil
}

// State returns the current lifecycle state.
func (r *Registry[C]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Built reports whether the build completed.
func (r *Registry[C]) Built() bool {
	return r.State() == Built
}

// Err returns the failure of a failed build, or nil.
func (r *Registry[C]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Reset returns a failed registry to Defined so the build can be retried.
func (r *Registry[C]) Reset() error {
	r.run.Lock()
	defer r.run.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Failed {
		return fmt.Errorf("%w (state %s)", ErrNotFailed, r.state)
	}
	r.state = Defined
	r.err = nil
	return nil
}

// Fork returns a new Defined registry holding the same actions.
func (r *Registry[C]) Fork() *Registry[C] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Registry[C]{actions: append([]Action[C](nil), r.actions...)}
}

// Len returns the number of registered actions.
func (r *Registry[C]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

// Names returns the action names in registration order.
func (r *Registry[C]) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.actions))
	for i, a := range r.actions {
		names[i] = a.Name
	}
	return names
}
