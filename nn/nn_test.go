// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn_test

import (
	"testing"

	"github.com/born-ml/weaver/graph"
	"github.com/born-ml/weaver/instance"
	"github.com/born-ml/weaver/nn"
	"github.com/born-ml/weaver/optim"
	"github.com/born-ml/weaver/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModel(t *testing.T) *nn.Module {
	t.Helper()
	hidden := nn.NewDense("Hidden", nn.DenseConfig{Units: 4, Activation: nn.Tanh, Seed: 1})
	out := nn.NewDense("Out", nn.DenseConfig{Units: 1, Seed: 2})

	m := nn.New("Model")
	forward := func(c *nn.Context, in ...*graph.Node) (*graph.Node, error) {
		h, err := hidden.Call(c, in[0])
		if err != nil {
			return nil, err
		}
		return out.Call(c, h)
	}
	require.NoError(t, m.DefineForward(forward, nn.Input{Name: "x", Shape: tensor.Shape{4, 2}}))
	require.NoError(t, m.DefineTrainingStep("fit", func(c *nn.Context, in ...*graph.Node) (nn.WithLoss, error) {
		pred, err := forward(c, in[0])
		if err != nil {
			return nn.WithLoss{}, err
		}
		return nn.WithLoss{Result: pred, Loss: nn.MSE(c, pred, in[1])}, nil
	}, nn.Input{Name: "x", Shape: tensor.Shape{4, 2}}, nn.Input{Name: "y", Shape: tensor.Shape{4, 1}}))
	return m
}

func TestDense_NestedTraining(t *testing.T) {
	inst := instance.New(newModel(t), instance.WithOptimizer(optim.NewSGD(optim.SGDConfig{LR: 0.05})))
	defer inst.Close()

	x, err := tensor.Matrix([][]float64{{1, 2}, {2, 1}, {0, 1}, {1, 0}})
	require.NoError(t, err)
	y, err := tensor.Matrix([][]float64{{3}, {3}, {1}, {1}})
	require.NoError(t, err)

	first, err := inst.Train(x, y)
	require.NoError(t, err)
	last := first
	for range 100 {
		last, err = inst.Train(x, y)
		require.NoError(t, err)
	}
	assert.Less(t, last.Loss.Item(), first.Loss.Item())

	vars, err := inst.Variables()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 4}, vars["Model/Hidden/W"].Shape())
	assert.Equal(t, tensor.Shape{4}, vars["Model/Hidden/b"].Shape())
	assert.Equal(t, tensor.Shape{4, 1}, vars["Model/Out/W"].Shape())
	assert.Len(t, vars, 4)

	pred, err := inst.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 1}, pred.Shape())
}

func TestDense_NeedsKnownShape(t *testing.T) {
	layer := nn.NewDense("Dense", nn.DenseConfig{Units: 2})
	m := nn.New("Wrapper")
	require.NoError(t, m.DefineForward(func(c *nn.Context, in ...*graph.Node) (*graph.Node, error) {
		return layer.Call(c, in[0])
	}, nn.Input{Name: "x"}))

	inst := instance.New(m)
	defer inst.Close()
	_, err := inst.Forward(tensor.Values(1, 2))
	assert.ErrorIs(t, err, nn.ErrUnknownShape)

	assert.Panics(t, func() { nn.NewDense("Empty", nn.DenseConfig{}) })
}

func TestBuildSlot_NotBuiltYet(t *testing.T) {
	m := nn.New("Slots")
	slot, err := nn.DeclareBuildSlot(m, "scale", func(*nn.Context) (float64, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, "scale", slot.Key())

	_, err = nn.DeclareBuildSlot(m, "scale", func(*nn.Context) (float64, error) { return 3, nil })
	var kc *nn.KeyCollisionError
	require.ErrorAs(t, err, &kc)
	assert.ErrorIs(t, err, nn.ErrKeyCollision)

	require.NoError(t, m.DefineForward(func(c *nn.Context, in ...*graph.Node) (*graph.Node, error) {
		return c.Scale(in[0], slot.MustGet(c)), nil
	}, nn.Input{Name: "x", Shape: tensor.Shape{2}}))
	assert.Equal(t, nn.Defined, m.Lifecycle())

	inst := instance.New(m)
	defer inst.Close()
	out, err := inst.Forward(tensor.Values(1, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4}, out.Data())
	assert.Equal(t, nn.Built, m.Lifecycle())
}

func TestRemember_SameKeyTwoSites(t *testing.T) {
	m := nn.New("Clash")
	require.NoError(t, m.DefineForward(func(c *nn.Context, in ...*graph.Node) (*graph.Node, error) {
		a := nn.MustRemember(c, "k", func() (float64, error) { return 1, nil })
		b, err := nn.Remember(c, "k", func() (float64, error) { return 2, nil })
		if err != nil {
			return nil, err
		}
		return c.Scale(in[0], a+b), nil
	}, nn.Input{Name: "x"}))

	inst := instance.New(m)
	defer inst.Close()
	_, err := inst.Forward(tensor.Values(1))
	assert.ErrorIs(t, err, nn.ErrKeyCollision)
}
