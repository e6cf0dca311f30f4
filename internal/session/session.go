// Package session evaluates a graph.Graph on the CPU.
//
// A Session owns the current values of the graph's variables. Values are
// produced by Runner.Run, which binds placeholders to tensors, evaluates the
// requested nodes and returns their values in request order:
//
//	sess := session.New(g)
//	out, err := sess.Runner().
//	    Feed(x, input).
//	    Fetch(y).
//	    Run()
//
// Kernels are backed by gonum (floats for element-wise math, mat for matrix
// products).
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/born-ml/weaver/internal/graph"
	"github.com/born-ml/weaver/internal/tensor"
)

var (
	// ErrExecution matches every error raised while evaluating a graph.
	ErrExecution = errors.New("session: execution failed")

	// ErrMissingFeed is the cause when a placeholder was not fed.
	ErrMissingFeed = errors.New("missing feed")

	// ErrShapeMismatch is the cause when tensor shapes are incompatible.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrClosed is returned when using a closed session.
	ErrClosed = errors.New("session: closed")

	// ErrInvalidFeed is returned when feeding or fetching a node that cannot be fed or fetched.
	ErrInvalidFeed = errors.New("session: invalid feed")
)

// ExecutionError reports a failure while evaluating a node.
// errors.Is matches both ErrExecution and the cause.
type ExecutionError struct {
	Node string
	Op   graph.Op
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("session: %s (%s): %v", e.Node, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecution, e.Err}
}

// Session evaluates one graph. It is safe for concurrent use; runs are serialized.
type Session struct {
	mu     sync.Mutex
	graph  *graph.Graph
	vars   map[int]*tensor.Tensor
	runs   int
	closed bool
}

// New creates a session for g.
func New(g *graph.Graph) *Session {
	return &Session{graph: g, vars: make(map[int]*tensor.Tensor)}
}

// Graph returns the session's graph.
func (s *Session) Graph() *graph.Graph { return s.graph }

// Runs returns how many times Run has evaluated the graph.
func (s *Session) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Variable returns a copy of v's current value.
func (s *Session) Variable(v *graph.Node) (*tensor.Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVariable(v); err != nil {
		return nil, err
	}
	return s.variable(v).Clone(), nil
}

// Assign replaces v's value. The shape must not change.
func (s *Session) Assign(v *graph.Node, value *tensor.Tensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVariable(v); err != nil {
		return err
	}
	if !value.Shape().Equal(v.Shape()) {
		return &ExecutionError{Node: v.Name(), Op: v.Op(),
			Err: fmt.Errorf("%w: assigning %v to variable of shape %v", ErrShapeMismatch, value.Shape(), v.Shape())}
	}
	s.vars[v.ID()] = value.Clone()
	return nil
}

// Close releases the variable values. Further use fails with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.vars = nil
	return nil
}

func (s *Session) checkVariable(v *graph.Node) error {
	if s.closed {
		return ErrClosed
	}
	if v.Graph() != s.graph || v.Op() != graph.OpVariable {
		return fmt.Errorf("%w: %s is not a variable of this graph", ErrInvalidFeed, v.Name())
	}
	return nil
}

// variable returns the live value, initializing it on first access.
// Caller must hold s.mu.
func (s *Session) variable(v *graph.Node) *tensor.Tensor {
	val, ok := s.vars[v.ID()]
	if !ok {
		val = v.Value().Clone()
		s.vars[v.ID()] = val
	}
	return val
}

// Runner collects feeds and fetches for one run.
type Runner struct {
	session *Session
	feeds   map[int]*tensor.Tensor
	fetches []*graph.Node
	err     error
}

// Runner starts a new run.
func (s *Session) Runner() *Runner {
	return &Runner{session: s, feeds: make(map[int]*tensor.Tensor)}
}

// Feed binds a placeholder to a value.
func (r *Runner) Feed(placeholder *graph.Node, value *tensor.Tensor) *Runner {
	switch {
	case r.err != nil:
	case placeholder.Graph() != r.session.graph:
		r.err = fmt.Errorf("%w: %s belongs to a different graph", ErrInvalidFeed, placeholder.Name())
	case placeholder.Op() != graph.OpPlaceholder:
		r.err = fmt.Errorf("%w: %s is a %s, not a placeholder", ErrInvalidFeed, placeholder.Name(), placeholder.Op())
	case value == nil:
		r.err = fmt.Errorf("%w: nil value for %s", ErrInvalidFeed, placeholder.Name())
	default:
		r.feeds[placeholder.ID()] = value
	}
	return r
}

// Fetch requests node values; Run returns them in the order requested.
func (r *Runner) Fetch(nodes ...*graph.Node) *Runner {
	for _, n := range nodes {
		if r.err == nil && n.Graph() != r.session.graph {
			r.err = fmt.Errorf("%w: %s belongs to a different graph", ErrInvalidFeed, n.Name())
		}
	}
	r.fetches = append(r.fetches, nodes...)
	return r
}

// Run evaluates the fetched nodes.
func (r *Runner) Run() ([]*tensor.Tensor, error) {
	if r.err != nil {
		return nil, r.err
	}

	s := r.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.runs++

	ev := &evaluator{session: s, feeds: r.feeds, cache: make(map[int]*tensor.Tensor)}
	out := make([]*tensor.Tensor, len(r.fetches))
	for i, n := range r.fetches {
		v, err := ev.eval(n)
		if err != nil {
			return nil, err
		}
		out[i] = v.Clone()
	}
	return out, nil
}
