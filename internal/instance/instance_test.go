package instance

import (
	"sync/atomic"
	"testing"

	"github.com/born-ml/weaver/internal/build"
	"github.com/born-ml/weaver/internal/config"
	"github.com/born-ml/weaver/internal/graph"
	"github.com/born-ml/weaver/internal/module"
	"github.com/born-ml/weaver/internal/optim"
	"github.com/born-ml/weaver/internal/session"
	"github.com/born-ml/weaver/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func vec(t *testing.T, data ...float64) *tensor.Tensor {
	t.Helper()
	v, err := tensor.FromSlice(data, tensor.Shape{len(data)})
	require.NoError(t, err)
	return v
}

// newAdder: forward(x) = x + weights, weights = ones(4) filled by the build.
func newAdder(t *testing.T, inits *atomic.Int32) *module.Module {
	t.Helper()
	m := module.New("Adder")
	weights := module.MustDeclareBuildSlot(m, "weights", func(c *module.Context) (*graph.Node, error) {
		inits.Add(1)
		return c.Ones(tensor.Shape{4}), nil
	})
	require.NoError(t, m.DefineForward(func(c *module.Context, in ...*graph.Node) (*graph.Node, error) {
		w, err := weights.Get(c)
		if err != nil {
			return nil, err
		}
		return c.Add(in[0], w), nil
	}, module.Input{Name: "x", Shape: tensor.Shape{4}}))
	return m
}

// newRegressor: forward(x) = x + W with a trainable W, and a training step
// whose loss is forward(x) - labels.
func newRegressor(t *testing.T) *module.Module {
	t.Helper()
	m := module.New("Regressor")
	require.NoError(t, m.DefineForward(func(c *module.Context, in ...*graph.Node) (*graph.Node, error) {
		w, err := module.Remember(c, "W", func() (*graph.Node, error) {
			return c.Variable("W", tensor.Ones(tensor.Shape{4})), nil
		})
		if err != nil {
			return nil, err
		}
		return c.Add(in[0], w), nil
	}, module.Input{Name: "x", Shape: tensor.Shape{4}}))
	require.NoError(t, m.DefineTrainingStep("step", func(c *module.Context, in ...*graph.Node) (module.WithLoss, error) {
		out, err := m.Forward(c, in[0])
		if err != nil {
			return module.WithLoss{}, err
		}
		return module.WithLoss{Result: out, Loss: c.Sub(out, in[1])}, nil
	}, module.Input{Name: "x", Shape: tensor.Shape{4}}, module.Input{Name: "labels", Shape: tensor.Shape{4}}))
	return m
}

func TestForward_BuildsOnceAndAddsWeights(t *testing.T) {
	var inits atomic.Int32
	inst := New(newAdder(t, &inits))
	defer inst.Close()

	assert.False(t, inst.Prepared())
	assert.Nil(t, inst.Graph())
	assert.Equal(t, int32(0), inits.Load())

	out, err := inst.Forward(vec(t, 1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4, 5}, out.Data())
	assert.Equal(t, int32(1), inits.Load())

	out, err = inst.Forward(vec(t, 0, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 1}, out.Data())
	assert.Equal(t, int32(1), inits.Load())

	assert.True(t, inst.Prepared())
	assert.Equal(t, build.Built, inst.Module().Lifecycle())
}

func TestTrain_RunsTheOnlyTrainingStep(t *testing.T) {
	x, labels := vec(t, 1, 2, 3, 4), vec(t, 2, 2, 2, 2)

	a := New(newRegressor(t), WithIsolatedState())
	defer a.Close()
	viaTrain, err := a.Train(x, labels)
	require.NoError(t, err)

	b := New(newRegressor(t), WithIsolatedState())
	defer b.Close()
	viaStep, err := b.TrainStep("step", x, labels)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 2, 3}, viaTrain.Loss.Data())
	assert.True(t, tensor.Equal(viaStep.Loss, viaTrain.Loss))
	assert.Equal(t, []float64{2, 3, 4, 5}, viaTrain.Result.Data())

	grad, ok := viaTrain.Gradients["Regressor/W"]
	require.True(t, ok)
	assert.Equal(t, []float64{1, 1, 1, 1}, grad.Data())
}

func TestInstances_IsolatedStatesKeepOwnVariables(t *testing.T) {
	m := newRegressor(t)
	trained := New(m, WithIsolatedState(), WithOptimizer(optim.NewSGD(optim.SGDConfig{LR: 0.5})))
	defer trained.Close()
	other := New(m, WithIsolatedState())
	defer other.Close()

	_, err := trained.TrainStep("step", vec(t, 0, 0, 0, 0), vec(t, 0, 0, 0, 0))
	require.NoError(t, err)

	vars, err := trained.Variables()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, vars["Regressor/W"].Data())

	vars, err = other.Variables()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 1}, vars["Regressor/W"].Data())

	out, err := other.Forward(vec(t, 0, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 1}, out.Data())

	// Neither binding touched the module's default state.
	assert.Equal(t, build.Defined, m.Lifecycle())
}

func TestSharedDefaultState_RequiresIsolation(t *testing.T) {
	var inits atomic.Int32
	m := newAdder(t, &inits)

	first := New(m)
	defer first.Close()
	_, err := first.Forward(vec(t, 0, 0, 0, 0))
	require.NoError(t, err)

	second := New(m)
	defer second.Close()
	_, err = second.Forward(vec(t, 0, 0, 0, 0))
	assert.ErrorIs(t, err, module.ErrForeignGraph)
}

func TestTrainStep_OptimizerReducesLoss(t *testing.T) {
	m := module.New("Fit")
	require.NoError(t, m.DefineTrainingStep("mse", func(c *module.Context, in ...*graph.Node) (module.WithLoss, error) {
		w, err := module.Remember(c, "w", func() (*graph.Node, error) {
			return c.Variable("w", tensor.Zeros(tensor.Shape{1})), nil
		})
		if err != nil {
			return module.WithLoss{}, err
		}
		pred := c.Mul(in[0], w)
		return module.WithLoss{Result: pred, Loss: c.Mean(c.Square(c.Sub(pred, in[1])))}, nil
	}, module.Input{Name: "x", Shape: tensor.Shape{3}}, module.Input{Name: "y", Shape: tensor.Shape{3}}))

	inst := New(m, WithIsolatedState(), WithOptimizer(optim.NewSGD(optim.SGDConfig{LR: 0.05})))
	defer inst.Close()

	x, y := vec(t, 1, 2, 3), vec(t, 2, 4, 6)
	first, err := inst.Train(x, y)
	require.NoError(t, err)
	var last *module.StepResult
	for range 50 {
		last, err = inst.Train(x, y)
		require.NoError(t, err)
	}
	assert.Less(t, last.Loss.Item(), first.Loss.Item())

	vars, err := inst.Variables()
	require.NoError(t, err)
	assert.InDelta(t, 2.0, vars["Fit/w"].Item(), 0.05)
}

func TestErrors(t *testing.T) {
	var inits atomic.Int32
	inst := New(newAdder(t, &inits), WithIsolatedState())

	_, err := inst.Forward(vec(t, 1), vec(t, 2))
	assert.ErrorIs(t, err, module.ErrInputCount)

	// Backend failures come back as session execution errors.
	_, err = inst.Forward(vec(t, 1, 2, 3))
	var ee *session.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, session.ErrExecution)
	assert.ErrorIs(t, err, session.ErrShapeMismatch)

	_, err = inst.TrainStep("missing")
	assert.ErrorIs(t, err, module.ErrUnknownStep)

	_, err = inst.Train()
	assert.ErrorIs(t, err, module.ErrNoTrainingStep)

	require.NoError(t, inst.Close())
	require.NoError(t, inst.Close())
	_, err = inst.Forward(vec(t, 1, 2, 3, 4))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = inst.AsOperand(vec(t, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNoForward(t *testing.T) {
	m := module.New("StepsOnly")
	require.NoError(t, m.DefineTrainingStep("s", func(c *module.Context, in ...*graph.Node) (module.WithLoss, error) {
		return module.WithLoss{Loss: c.Sum(in[0])}, nil
	}, module.Input{Name: "x"}))

	inst := New(m)
	defer inst.Close()
	_, err := inst.Forward(vec(t, 1))
	assert.ErrorIs(t, err, module.ErrNoForward)

	res, err := inst.Train(vec(t, 1, 2))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, res.Loss.Item(), 1e-12)
	assert.Nil(t, res.Result)
	assert.Empty(t, res.Gradients)
}

func TestPrepare_BuildFailureIsReported(t *testing.T) {
	m := module.New("Broken")
	module.MustDeclareBuildSlot(m, "W", func(*module.Context) (int, error) {
		return 0, assert.AnError
	})
	require.NoError(t, m.DefineForward(func(c *module.Context, in ...*graph.Node) (*graph.Node, error) {
		return in[0], nil
	}))

	inst := New(m, WithIsolatedState())
	defer inst.Close()

	_, err := inst.Forward()
	assert.ErrorIs(t, err, build.ErrBuildFailed)
	assert.ErrorIs(t, err, assert.AnError)

	_, err = inst.Forward()
	assert.ErrorIs(t, err, build.ErrUnusable)
	assert.ErrorIs(t, err, assert.AnError)
}

// newFlaky: forward(x) = x + ones(4), with a build that fails while *fail.
func newFlaky(t *testing.T, fail *bool) *module.Module {
	t.Helper()
	m := module.New("Flaky")
	weights := module.MustDeclareBuildSlot(m, "weights", func(c *module.Context) (*graph.Node, error) {
		if *fail {
			return nil, assert.AnError
		}
		return c.Ones(tensor.Shape{4}), nil
	})
	require.NoError(t, m.DefineForward(func(c *module.Context, in ...*graph.Node) (*graph.Node, error) {
		w, err := weights.Get(c)
		if err != nil {
			return nil, err
		}
		return c.Add(in[0], w), nil
	}, module.Input{Name: "x", Shape: tensor.Shape{4}}))
	return m
}

func TestReset_ModuleThenNewInstance(t *testing.T) {
	fail := true
	m := newFlaky(t, &fail)

	broken := New(m)
	defer broken.Close()
	_, err := broken.Forward(vec(t, 1, 2, 3, 4))
	require.ErrorIs(t, err, assert.AnError)

	fail = false
	require.NoError(t, m.Reset())

	inst := New(m)
	defer inst.Close()
	out, err := inst.Forward(vec(t, 1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4, 5}, out.Data())
}

func TestReset_RetriesSameInstance(t *testing.T) {
	fail := true
	inst := New(newFlaky(t, &fail))
	defer inst.Close()

	_, err := inst.Forward(vec(t, 1, 2, 3, 4))
	require.ErrorIs(t, err, build.ErrBuildFailed)
	_, err = inst.Forward(vec(t, 1, 2, 3, 4))
	require.ErrorIs(t, err, build.ErrUnusable)

	fail = false
	require.NoError(t, inst.Reset())
	assert.Equal(t, build.Defined, inst.Module().Lifecycle())

	out, err := inst.Forward(vec(t, 1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4, 5}, out.Data())
	assert.True(t, inst.Prepared())

	assert.ErrorIs(t, inst.Reset(), build.ErrNotFailed)
}

func TestAsOperand(t *testing.T) {
	var inits atomic.Int32
	inst := New(newAdder(t, &inits))
	defer inst.Close()

	out, err := inst.Forward(vec(t, 1, 2, 3, 4))
	require.NoError(t, err)

	x, err := inst.AsOperand(out)
	require.NoError(t, err)
	ec, err := inst.Eager()
	require.NoError(t, err)

	total, err := ec.Value(ec.Scope().Sum(x))
	require.NoError(t, err)
	assert.InDelta(t, 14.0, total.Item(), 1e-12)
}

func TestForward_ConcurrentFirstUse(t *testing.T) {
	var inits atomic.Int32
	inst := New(newAdder(t, &inits))
	defer inst.Close()

	var g errgroup.Group
	results := make([]*tensor.Tensor, 8)
	for i := range results {
		g.Go(func() error {
			out, err := inst.Forward(vec(t, float64(i), 0, 0, 0))
			results[i] = out
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), inits.Load())
	for i, out := range results {
		assert.InDelta(t, float64(i)+1, out.Data()[0], 1e-12)
	}
}

func TestFromConfig(t *testing.T) {
	f, err := config.Parse([]byte(`
instance "trainer" {
  isolated_state = true
  optimizer "sgd" {
    learning_rate = 0.5
  }
}
`), "weaver.hcl", nil)
	require.NoError(t, err)

	m := newRegressor(t)
	inst, err := FromConfig(m, f, "trainer")
	require.NoError(t, err)
	defer inst.Close()

	_, err = inst.TrainStep("step", vec(t, 0, 0, 0, 0), vec(t, 0, 0, 0, 0))
	require.NoError(t, err)
	vars, err := inst.Variables()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, vars["Regressor/W"].Data())
	assert.Equal(t, build.Defined, m.Lifecycle())

	_, err = FromConfig(m, f, "nope")
	assert.ErrorIs(t, err, config.ErrUnknownInstance)
}
