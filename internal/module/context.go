package module

import (
	"sync"

	"github.com/born-ml/weaver/internal/graph"
)

// Resolver chooses the state a module's slots live in.
type Resolver interface {
	StateOf(m *Module) *State
}

type defaultStates struct{}

func (defaultStates) StateOf(m *Module) *State { return m.Default() }

// DefaultStates resolves every module to its default state.
func DefaultStates() Resolver { return defaultStates{} }

// IsolatedStates gives every module its own private state, created on first
// use. Nested modules are isolated too.
type IsolatedStates struct {
	mu     sync.Mutex
	states map[*Module]*State
}

// NewIsolatedStates creates an empty resolver.
func NewIsolatedStates() *IsolatedStates {
	return &IsolatedStates{states: make(map[*Module]*State)}
}

// StateOf returns m's private state.
func (r *IsolatedStates) StateOf(m *Module) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[m]
	if !ok {
		st = m.NewState()
		r.states[m] = st
	}
	return st
}

// Context is the explicit receiver of module code. It embeds the op scope,
// so ops are emitted as c.Add(x, y), and carries the module being run and
// the resolver locating module states.
type Context struct {
	*graph.Scope

	module *Module
	state  *State
	states Resolver
}

// NewContext creates a context building into scope. A nil resolver means
// DefaultStates.
func NewContext(scope *graph.Scope, states Resolver) *Context {
	if states == nil {
		states = DefaultStates()
	}
	return &Context{Scope: scope, states: states}
}

// Module returns the module being run, or nil outside module code.
func (c *Context) Module() *Module { return c.module }

// State returns the state of the module being run, or nil outside module code.
func (c *Context) State() *State { return c.state }

// WithSubScope returns a context building into a child scope.
func (c *Context) WithSubScope(name string) *Context {
	cc := *c
	cc.Scope = c.Scope.WithSubScope(name)
	return &cc
}

// StateOf returns the state m uses under this context.
func (c *Context) StateOf(m *Module) *State {
	if c.module == m && c.state != nil {
		return c.state
	}
	return c.states.StateOf(m)
}

func (c *Context) enter(m *Module, scope *graph.Scope) *Context {
	return &Context{Scope: scope, module: m, state: c.StateOf(m), states: c.states}
}
