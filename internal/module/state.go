package module

import (
	"fmt"
	"sync"

	"github.com/born-ml/weaver/internal/build"
	"github.com/born-ml/weaver/internal/graph"
	"github.com/born-ml/weaver/internal/memo"
)

// State holds the slots of one module and the build that fills them.
//
// A module's default state is shared by everyone using the module. Bindings
// that need backend-local variables use isolated states instead.
type State struct {
	module   *Module
	store    *memo.Store
	registry *build.Registry[*Context]

	mu    sync.Mutex
	graph *graph.Graph
}

// Module returns the module the state belongs to.
func (s *State) Module() *Module { return s.module }

// Store returns the slot store.
func (s *State) Store() *memo.Store { return s.store }

// Lifecycle returns the build state.
func (s *State) Lifecycle() build.State { return s.registry.State() }

// Built reports whether the build completed.
func (s *State) Built() bool { return s.registry.Built() }

// Err returns the build failure, if any.
func (s *State) Err() error { return s.registry.Err() }

// Graph returns the graph the state's values were created in, or nil.
func (s *State) Graph() *graph.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

// Reset recovers a state whose build failed. Build slots go back to pending,
// remembered values are dropped and the state is released from its graph,
// so the next use may come from a new graph.
func (s *State) Reset() error {
	if err := s.registry.Reset(); err != nil {
		return fmt.Errorf("module %s: %w", s.module.name, err)
	}
	s.store.ResetBuild()
	s.store.DropRemembered()

	s.mu.Lock()
	s.graph = nil
	s.mu.Unlock()

	s.module.logger.Debug("module state reset")
	return nil
}

// bind ties the state to the graph of c on first use.
func (s *State) bind(c *Context) error {
	if c.Scope == nil {
		return nil
	}
	g := c.Graph()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.graph == nil:
		s.graph = g
	case s.graph != g:
		return fmt.Errorf("%w: module %s (use an isolated state per binding)", ErrForeignGraph, s.module.name)
	}
	return nil
}
