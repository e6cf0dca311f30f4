// Package instance binds module definitions to a graph and session.
//
// A GraphInstance is created without doing any graph work. The first
// Forward, TrainStep or Train call prepares it once: the module is built,
// placeholders are created for the declared inputs, the forward and
// training-step subgraphs and their gradients are constructed, and a session
// is opened. Every later call only feeds values and runs the session.
package instance

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/born-ml/weaver/internal/build"
	"github.com/born-ml/weaver/internal/eager"
	"github.com/born-ml/weaver/internal/graph"
	"github.com/born-ml/weaver/internal/module"
	"github.com/born-ml/weaver/internal/optim"
	"github.com/born-ml/weaver/internal/session"
	"github.com/born-ml/weaver/internal/tensor"
	"go.uber.org/zap"
)

// ErrClosed is returned by calls on a closed instance.
var ErrClosed = errors.New("instance: closed")

type forwardPlan struct {
	inputs []*graph.Node
	output *graph.Node
}

type stepPlan struct {
	inputs []*graph.Node
	result *graph.Node
	loss   *graph.Node
	grads  []*graph.Node // aligned with GraphInstance.variables
}

// GraphInstance runs one module on its own graph and session.
type GraphInstance struct {
	module    *module.Module
	logger    *zap.Logger
	isolated  bool
	optimizer optim.Optimizer

	prep *build.Registry[*GraphInstance]

	// Set by prepare.
	states    *trackedStates
	graph     *graph.Graph
	session   *session.Session
	forward   *forwardPlan
	steps     map[string]*stepPlan
	variables []*graph.Node

	trainMu sync.Mutex // serializes step + optimizer update

	mu     sync.Mutex
	eager  *eager.Context
	closed bool
}

// Option configures a GraphInstance.
type Option func(*GraphInstance)

// WithLogger sets the instance logger.
func WithLogger(l *zap.Logger) Option {
	return func(gi *GraphInstance) {
		if l != nil {
			gi.logger = l
		}
	}
}

// WithIsolatedState gives the instance private slot stores for the module and
// every module it calls, so its variables are local to its graph.
func WithIsolatedState() Option {
	return func(gi *GraphInstance) { gi.isolated = true }
}

// WithOptimizer applies o to the variables after every training step.
func WithOptimizer(o optim.Optimizer) Option {
	return func(gi *GraphInstance) { gi.optimizer = o }
}

// New binds m. No graph work happens until the first call.
func New(m *module.Module, opts ...Option) *GraphInstance {
	gi := &GraphInstance{
		module: m,
		logger: module.Logger(),
		prep:   build.NewRegistry[*GraphInstance](),
	}
	for _, opt := range opts {
		opt(gi)
	}
	gi.logger = gi.logger.With(zap.String("instance", m.Name()))
	if err := gi.prep.Register("prepare", (*GraphInstance).prepare); err != nil {
		panic(err)
	}
	return gi
}

// Module returns the bound module.
func (gi *GraphInstance) Module() *module.Module { return gi.module }

// Prepared reports whether the one-time preparation completed.
func (gi *GraphInstance) Prepared() bool { return gi.prep.Built() }

// Graph returns the instance graph, or nil before preparation.
func (gi *GraphInstance) Graph() *graph.Graph {
	if !gi.prep.Built() {
		return nil
	}
	return gi.graph
}

func (gi *GraphInstance) ready() error {
	gi.mu.Lock()
	closed := gi.closed
	gi.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return gi.prep.RunOnce(gi)
}

func (gi *GraphInstance) prepare() error {
	start := time.Now()
	g := graph.New()

	var resolver module.Resolver = module.DefaultStates()
	if gi.isolated {
		resolver = module.NewIsolatedStates()
	}
	gi.states = &trackedStates{Resolver: resolver}
	root := module.NewContext(g.Root(), gi.states)
	c := root.WithSubScope(gi.module.Name())

	if err := gi.module.Build(c); err != nil {
		return err
	}

	if gi.module.HasForward() {
		inputs := placeholders(root.WithSubScope("forward"), gi.module.Inputs())
		out, err := gi.module.Forward(c, inputs...)
		if err != nil {
			return fmt.Errorf("instance %s: forward: %w", gi.module.Name(), err)
		}
		gi.forward = &forwardPlan{inputs: inputs, output: out}
	}

	gi.steps = make(map[string]*stepPlan)
	for _, name := range gi.module.TrainingSteps() {
		declared, err := gi.module.StepInputs(name)
		if err != nil {
			return err
		}
		inputs := placeholders(root.WithSubScope(name), declared)
		out, err := gi.module.Step(c, name, inputs...)
		if err != nil {
			return fmt.Errorf("instance %s: training step %q: %w", gi.module.Name(), name, err)
		}
		gi.steps[name] = &stepPlan{inputs: inputs, result: out.Result, loss: out.Loss}
	}

	// Gradients are taken once every subgraph exists, against all variables.
	gi.variables = g.Variables()
	for name, p := range gi.steps {
		grads, err := graph.Gradients(p.loss, gi.variables...)
		if err != nil {
			return fmt.Errorf("instance %s: gradients of %q: %w", gi.module.Name(), name, err)
		}
		p.grads = grads
	}

	gi.graph = g
	gi.session = session.New(g)
	gi.logger.Debug("instance prepared",
		zap.Int("nodes", g.Len()),
		zap.Int("variables", len(gi.variables)),
		zap.Strings("steps", gi.module.TrainingSteps()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Reset lets an instance whose preparation failed try again. Module states
// it used whose build failed are reset too; the next call prepares a new
// graph. Reset returns build.ErrNotFailed unless preparation failed.
//
// A shared default state that was built before the failure stays bound to
// the old graph; instances that need to retry after forward failures should
// use WithIsolatedState.
func (gi *GraphInstance) Reset() error {
	gi.mu.Lock()
	closed := gi.closed
	gi.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := gi.prep.Reset(); err != nil {
		return fmt.Errorf("instance %s: %w", gi.module.Name(), err)
	}

	var errs []error
	if gi.states != nil {
		for _, st := range gi.states.used() {
			if st.Lifecycle() == build.Failed {
				errs = append(errs, st.Reset())
			}
		}
	}
	gi.states, gi.graph, gi.forward, gi.steps, gi.variables = nil, nil, nil, nil, nil
	gi.logger.Debug("instance reset")
	return errors.Join(errs...)
}

// trackedStates records every state resolved through it.
type trackedStates struct {
	module.Resolver

	mu   sync.Mutex
	seen []*module.State
}

func (t *trackedStates) StateOf(m *module.Module) *module.State {
	st := t.Resolver.StateOf(m)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !slices.Contains(t.seen, st) {
		t.seen = append(t.seen, st)
	}
	return st
}

func (t *trackedStates) used() []*module.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.seen)
}

func placeholders(c *module.Context, inputs []module.Input) []*graph.Node {
	nodes := make([]*graph.Node, len(inputs))
	for i, in := range inputs {
		nodes[i] = c.Placeholder(in.Name, in.Shape)
	}
	return nodes
}

func feed(r *session.Runner, placeholders []*graph.Node, values []*tensor.Tensor, entry string) (*session.Runner, error) {
	if len(values) != len(placeholders) {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", module.ErrInputCount, entry, len(placeholders), len(values))
	}
	for i, p := range placeholders {
		r = r.Feed(p, values[i])
	}
	return r, nil
}

// Forward runs the module's forward function on inputs.
func (gi *GraphInstance) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if err := gi.ready(); err != nil {
		return nil, err
	}
	if gi.forward == nil {
		return nil, fmt.Errorf("%w: %s", module.ErrNoForward, gi.module.Name())
	}

	r, err := feed(gi.session.Runner(), gi.forward.inputs, inputs, "forward")
	if err != nil {
		return nil, err
	}
	out, err := r.Fetch(gi.forward.output).Run()
	if err != nil {
		return nil, err
	}
	gi.logger.Debug("forward", zap.Int("run", gi.session.Runs()))
	return out[0], nil
}

// TrainStep runs a named training step and, with an optimizer configured,
// applies the gradients to the variables.
func (gi *GraphInstance) TrainStep(name string, inputs ...*tensor.Tensor) (*module.StepResult, error) {
	if err := gi.ready(); err != nil {
		return nil, err
	}
	p, ok := gi.steps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in module %s", module.ErrUnknownStep, name, gi.module.Name())
	}

	gi.trainMu.Lock()
	defer gi.trainMu.Unlock()

	r, err := feed(gi.session.Runner(), p.inputs, inputs, name)
	if err != nil {
		return nil, err
	}
	fetches := []*graph.Node{p.loss}
	if p.result != nil {
		fetches = append(fetches, p.result)
	}
	fetches = append(fetches, p.grads...)
	out, err := r.Fetch(fetches...).Run()
	if err != nil {
		return nil, err
	}

	res := &module.StepResult{Loss: out[0], Gradients: make(map[string]*tensor.Tensor, len(gi.variables))}
	rest := out[1:]
	if p.result != nil {
		res.Result = rest[0]
		rest = rest[1:]
	}
	for i, v := range gi.variables {
		res.Gradients[v.Name()] = rest[i]
	}

	if gi.optimizer != nil {
		if err := gi.apply(res.Gradients); err != nil {
			return nil, err
		}
	}
	gi.logger.Debug("training step", zap.String("step", name), zap.Int("run", gi.session.Runs()))
	return res, nil
}

func (gi *GraphInstance) apply(grads map[string]*tensor.Tensor) error {
	params := make(map[string]*tensor.Tensor, len(gi.variables))
	for _, v := range gi.variables {
		val, err := gi.session.Variable(v)
		if err != nil {
			return err
		}
		params[v.Name()] = val
	}
	if err := gi.optimizer.Step(params, grads); err != nil {
		return err
	}
	for _, v := range gi.variables {
		if err := gi.session.Assign(v, params[v.Name()]); err != nil {
			return err
		}
	}
	return nil
}

// Train runs the module's training policy with this instance as the trainer.
func (gi *GraphInstance) Train(inputs ...*tensor.Tensor) (*module.StepResult, error) {
	if err := gi.ready(); err != nil {
		return nil, err
	}
	return gi.module.Train(gi, inputs...)
}

// Variables returns the current variable values by name.
func (gi *GraphInstance) Variables() (map[string]*tensor.Tensor, error) {
	if err := gi.ready(); err != nil {
		return nil, err
	}
	vals := make(map[string]*tensor.Tensor, len(gi.variables))
	for _, v := range gi.variables {
		val, err := gi.session.Variable(v)
		if err != nil {
			return nil, err
		}
		vals[v.Name()] = val
	}
	return vals, nil
}

// Eager returns the instance's eager context, creating it on first use.
func (gi *GraphInstance) Eager() (*eager.Context, error) {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	if gi.closed {
		return nil, ErrClosed
	}
	if gi.eager == nil {
		gi.eager = eager.New()
	}
	return gi.eager, nil
}

// AsOperand turns a concrete tensor into an operand of the eager context,
// so results can be combined with further ops and evaluated immediately.
func (gi *GraphInstance) AsOperand(t *tensor.Tensor) (*graph.Node, error) {
	ec, err := gi.Eager()
	if err != nil {
		return nil, err
	}
	return ec.Constant(t), nil
}

// Close releases the session and the eager context.
func (gi *GraphInstance) Close() error {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	if gi.closed {
		return nil
	}
	gi.closed = true

	var errs []error
	if gi.eager != nil {
		errs = append(errs, gi.eager.Close())
	}
	if gi.prep.Built() {
		errs = append(errs, gi.session.Close())
	}
	return errors.Join(errs...)
}
