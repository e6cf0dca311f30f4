// Package module implements lazily built, key-addressed neural network modules.
//
// A Module is defined once: build slots and build hooks are registered while
// the module is being defined, the forward function and training steps are
// attached, and nothing touches a graph. The first time the module is used
// through a Context its build runs exactly once, filling every build slot;
// later uses read the slots directly. Values created inside forward or
// training code with Remember are created on the first call and reused on
// every later call.
//
// All module code receives an explicit *Context carrying the op scope, the
// module being run and the state the module's slots live in.
package module

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/born-ml/weaver/internal/build"
	"github.com/born-ml/weaver/internal/graph"
	"github.com/born-ml/weaver/internal/keys"
	"github.com/born-ml/weaver/internal/memo"
	"github.com/born-ml/weaver/internal/tensor"
	"go.uber.org/zap"
)

var (
	// ErrNoForward is returned when running a module without a forward function.
	ErrNoForward = errors.New("module: forward not defined")

	// ErrNoTrainingStep is returned by Train when no training step is defined.
	ErrNoTrainingStep = errors.New("module: no training step defined")

	// ErrAmbiguousTrain is returned by Train when several training steps are
	// defined and no train override chooses between them.
	ErrAmbiguousTrain = errors.New("module: several training steps and no train override")

	// ErrUnknownStep is returned for a training step name that was never defined.
	ErrUnknownStep = errors.New("module: unknown training step")

	// ErrAlreadyDefined is returned when an entry point is defined twice.
	ErrAlreadyDefined = errors.New("module: already defined")

	// ErrInputCount is returned when a call passes the wrong number of inputs.
	ErrInputCount = errors.New("module: wrong number of inputs")

	// ErrNoLoss is returned when a training step returns no loss.
	ErrNoLoss = errors.New("module: training step returned no loss")

	// ErrNoModule is returned when slot APIs are used on a Context outside module code.
	ErrNoModule = errors.New("module: context is not running a module")

	// ErrForeignGraph is returned when a state built for one graph is used with another.
	ErrForeignGraph = errors.New("module: state is bound to another graph")
)

// Input describes one operand a forward function or training step expects.
// A nil Shape accepts any shape.
type Input struct {
	Name  string
	Shape tensor.Shape
}

// WithLoss is the result of a training step.
type WithLoss struct {
	Result *graph.Node
	Loss   *graph.Node
}

// ForwardFunc computes a module's output.
type ForwardFunc func(c *Context, inputs ...*graph.Node) (*graph.Node, error)

// StepFunc computes a training step's result and loss.
type StepFunc func(c *Context, inputs ...*graph.Node) (WithLoss, error)

// StepResult is the concrete outcome of running a training step.
// Gradients are keyed by variable name.
type StepResult struct {
	Result    *tensor.Tensor
	Loss      *tensor.Tensor
	Gradients map[string]*tensor.Tensor
}

// Trainer runs named training steps on concrete values.
type Trainer interface {
	TrainStep(name string, inputs ...*tensor.Tensor) (*StepResult, error)
}

// TrainFunc overrides the default training policy.
type TrainFunc func(t Trainer, inputs ...*tensor.Tensor) (*StepResult, error)

type trainingStep struct {
	name   string
	fn     StepFunc
	inputs []Input
}

// Module is a module definition.
type Module struct {
	name   string
	logger *zap.Logger
	keys   *keys.Deriver

	mu       sync.Mutex
	sealed   bool
	schema   *memo.Store
	template *build.Registry[*Context]
	forward  ForwardFunc
	inputs   []Input
	steps    []trainingStep
	train    TrainFunc
	state    *State
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the module's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates an empty module definition. The name is used as the op scope
// of Call and must be a valid key.
func New(name string, opts ...Option) *Module {
	if err := keys.Validate(name); err != nil {
		panic(fmt.Sprintf("module: invalid name: %v", err))
	}
	m := &Module{
		name:     name,
		logger:   Logger(),
		keys:     keys.NewDeriver(),
		schema:   memo.NewStore(),
		template: build.NewRegistry[*Context](),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("module", name))
	return m
}

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// Keys returns every key derived by the module in first-seen order.
func (m *Module) Keys() []string { return m.keys.Keys() }

// DefineForward sets the forward function.
func (m *Module) DefineForward(fn ForwardFunc, inputs ...Input) error {
	if fn == nil {
		return fmt.Errorf("module %s: nil forward function", m.name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forward != nil {
		return fmt.Errorf("%w: forward of %s", ErrAlreadyDefined, m.name)
	}
	m.forward = fn
	m.inputs = slices.Clone(inputs)
	return nil
}

// DefineTrainingStep adds a named training step.
func (m *Module) DefineTrainingStep(name string, fn StepFunc, inputs ...Input) error {
	if fn == nil {
		return fmt.Errorf("module %s: nil training step %q", m.name, name)
	}
	if err := keys.Validate(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps {
		if s.name == name {
			return fmt.Errorf("%w: training step %q of %s", ErrAlreadyDefined, name, m.name)
		}
	}
	m.steps = append(m.steps, trainingStep{name: name, fn: fn, inputs: slices.Clone(inputs)})
	return nil
}

// DefineTrain overrides the default training policy.
func (m *Module) DefineTrain(fn TrainFunc) error {
	if fn == nil {
		return fmt.Errorf("module %s: nil train function", m.name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.train != nil {
		return fmt.Errorf("%w: train of %s", ErrAlreadyDefined, m.name)
	}
	m.train = fn
	return nil
}

// HasForward reports whether a forward function is defined.
func (m *Module) HasForward() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forward != nil
}

// Inputs returns the declared forward inputs.
func (m *Module) Inputs() []Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.inputs)
}

// TrainingSteps returns the training step names in definition order.
func (m *Module) TrainingSteps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.steps))
	for i, s := range m.steps {
		names[i] = s.name
	}
	return names
}

// StepInputs returns the declared inputs of a training step.
func (m *Module) StepInputs(name string) ([]Input, error) {
	s, err := m.step(name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.inputs), nil
}

func (m *Module) step(name string) (trainingStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps {
		if s.name == name {
			return s, nil
		}
	}
	return trainingStep{}, fmt.Errorf("%w: %q in module %s", ErrUnknownStep, name, m.name)
}

// Default returns the module's own state, creating it on first use.
// Creating a state seals the definition: no build slots or hooks can be
// added afterwards.
func (m *Module) Default() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = m.newStateLocked()
	}
	return m.state
}

// NewState returns a fresh, unbuilt state for the module.
func (m *Module) NewState() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newStateLocked()
}

func (m *Module) newStateLocked() *State {
	m.sealed = true
	store := memo.NewStore()
	for _, key := range m.schema.Keys() {
		if _, err := store.Declare(key); err != nil {
			panic(fmt.Sprintf("module %s: %v", m.name, err))
		}
	}
	return &State{module: m, store: store, registry: m.template.Fork()}
}

// Lifecycle returns the build state of the default state.
func (m *Module) Lifecycle() build.State {
	m.mu.Lock()
	st := m.state
	m.mu.Unlock()
	if st == nil {
		return build.Defined
	}
	return st.Lifecycle()
}

// Reset recovers the default state after a failed build.
func (m *Module) Reset() error {
	return m.Default().Reset()
}

// Build runs the module's build in the state c resolves for it.
// It is a no-op once the build completed.
func (m *Module) Build(c *Context) error {
	cc := c.enter(m, c.Scope)
	st := cc.state
	if err := st.bind(cc); err != nil {
		return err
	}
	if st.registry.Built() {
		return nil
	}

	start := time.Now()
	m.logger.Debug("building module", zap.Int("actions", st.registry.Len()))
	if err := st.registry.RunOnce(cc); err != nil {
		m.logger.Error("module build failed", zap.Error(err))
		return err
	}
	m.logger.Debug("module built", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Call invokes the module: it enters a sub-scope named after the module,
// builds the module if needed and runs forward. Call is how one module uses
// another.
func (m *Module) Call(c *Context, inputs ...*graph.Node) (*graph.Node, error) {
	cc := c.enter(m, c.Scope.WithSubScope(m.name))
	if err := m.Build(cc); err != nil {
		return nil, err
	}
	return m.Forward(cc, inputs...)
}

// Forward runs the forward function in the caller's scope. It does not build.
func (m *Module) Forward(c *Context, inputs ...*graph.Node) (*graph.Node, error) {
	m.mu.Lock()
	fn, declared := m.forward, m.inputs
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoForward, m.name)
	}
	if err := checkInputs(m.name, "forward", declared, inputs); err != nil {
		return nil, err
	}
	out, err := fn(c.enter(m, c.Scope), inputs...)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("module %s: forward returned no output", m.name)
	}
	return out, nil
}

// Step runs the named training step in the caller's scope. It does not build.
func (m *Module) Step(c *Context, name string, inputs ...*graph.Node) (WithLoss, error) {
	s, err := m.step(name)
	if err != nil {
		return WithLoss{}, err
	}
	if err := checkInputs(m.name, name, s.inputs, inputs); err != nil {
		return WithLoss{}, err
	}
	out, err := s.fn(c.enter(m, c.Scope), inputs...)
	if err != nil {
		return WithLoss{}, err
	}
	if out.Loss == nil {
		return WithLoss{}, fmt.Errorf("%w: %s.%s", ErrNoLoss, m.name, name)
	}
	return out, nil
}

// Train runs the module's training policy: the override from DefineTrain
// when there is one, otherwise the single defined training step.
func (m *Module) Train(t Trainer, inputs ...*tensor.Tensor) (*StepResult, error) {
	m.mu.Lock()
	override := m.train
	names := make([]string, len(m.steps))
	for i, s := range m.steps {
		names[i] = s.name
	}
	m.mu.Unlock()

	if override != nil {
		return override(t, inputs...)
	}
	switch len(names) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNoTrainingStep, m.name)
	case 1:
		return t.TrainStep(names[0], inputs...)
	default:
		return nil, fmt.Errorf("%w: %s has %v", ErrAmbiguousTrain, m.name, names)
	}
}

func checkInputs(module, entry string, declared []Input, got []*graph.Node) error {
	if len(declared) == 0 {
		return nil
	}
	if len(got) != len(declared) {
		return fmt.Errorf("%w: %s.%s takes %d, got %d", ErrInputCount, module, entry, len(declared), len(got))
	}
	return nil
}
