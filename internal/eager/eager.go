// Package eager converts concrete tensors to operands outside of a graph run.
//
// A Context owns a private graph and session. Ops built through its Scope
// are evaluated on demand with Value, so callers can treat concrete results
// as operands again.
package eager

import (
	"github.com/born-ml/weaver/internal/graph"
	"github.com/born-ml/weaver/internal/session"
	"github.com/born-ml/weaver/internal/tensor"
)

// Context is an eager execution context.
type Context struct {
	scope   *graph.Scope
	session *session.Session
}

// New creates an eager context.
func New() *Context {
	g := graph.New()
	return &Context{scope: g.Root(), session: session.New(g)}
}

// Scope returns the op-construction scope of the context's graph.
func (c *Context) Scope() *graph.Scope {
	return c.scope
}

// Constant turns t into an operand of the eager graph.
func (c *Context) Constant(t *tensor.Tensor) *graph.Node {
	return c.scope.Constant(t)
}

// Value evaluates n immediately.
func (c *Context) Value(n *graph.Node) (*tensor.Tensor, error) {
	out, err := c.session.Runner().Fetch(n).Run()
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Close releases the context's session.
func (c *Context) Close() error {
	return c.session.Close()
}
