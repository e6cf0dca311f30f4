package session

import (
	"math"
	"testing"

	"github.com/born-ml/weaver/internal/graph"
	"github.com/born-ml/weaver/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(t *testing.T, data ...float64) *tensor.Tensor {
	t.Helper()
	v, err := tensor.FromSlice(data, tensor.Shape{len(data)})
	require.NoError(t, err)
	return v
}

func mat2(t *testing.T, rows, cols int, data ...float64) *tensor.Tensor {
	t.Helper()
	v, err := tensor.FromSlice(data, tensor.Shape{rows, cols})
	require.NoError(t, err)
	return v
}

func TestRun_Elementwise(t *testing.T) {
	g := graph.New()
	s := g.Root()
	x := s.Placeholder("x", nil)
	y := s.Placeholder("y", nil)

	sum, diff, prod, quot := s.Add(x, y), s.Sub(x, y), s.Mul(x, y), s.Div(x, y)

	sess := New(g)
	out, err := sess.Runner().
		Feed(x, vec(t, 6, 8)).
		Feed(y, vec(t, 2, 4)).
		Fetch(sum, diff, prod, quot).
		Run()
	require.NoError(t, err)

	assert.Equal(t, []float64{8, 12}, out[0].Data())
	assert.Equal(t, []float64{4, 4}, out[1].Data())
	assert.Equal(t, []float64{12, 32}, out[2].Data())
	assert.Equal(t, []float64{3, 2}, out[3].Data())
	assert.Equal(t, 1, sess.Runs())
}

func TestRun_Broadcast(t *testing.T) {
	g := graph.New()
	s := g.Root()
	x := s.Placeholder("x", tensor.Shape{2, 3})
	b := s.Constant(vec(t, 10, 20, 30))

	sess := New(g)
	out, err := sess.Runner().Feed(x, mat2(t, 2, 3, 1, 2, 3, 4, 5, 6)).Fetch(s.Add(x, b)).Run()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, out[0].Shape())
	assert.Equal(t, []float64{11, 22, 33, 14, 25, 36}, out[0].Data())
}

func TestRun_MatMulTranspose(t *testing.T) {
	g := graph.New()
	s := g.Root()
	a := s.Constant(mat2(t, 2, 3, 1, 2, 3, 4, 5, 6))
	b := s.Constant(mat2(t, 3, 2, 7, 8, 9, 10, 11, 12))

	out, err := New(g).Runner().Fetch(s.MatMul(a, b), s.Transpose(a)).Run()
	require.NoError(t, err)

	assert.Equal(t, []float64{58, 64, 139, 154}, out[0].Data())
	assert.Equal(t, tensor.Shape{3, 2}, out[1].Shape())
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, out[1].Data())
}

func TestRun_Unary(t *testing.T) {
	g := graph.New()
	s := g.Root()
	x := s.Constant(vec(t, -1, 0, 2))

	out, err := New(g).Runner().
		Fetch(s.ReLU(x), s.Neg(x), s.Square(x), s.Scale(x, 3), s.Sum(x), s.Mean(x), s.Sigmoid(x), s.Tanh(x)).
		Run()
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 0, 2}, out[0].Data())
	assert.Equal(t, []float64{1, 0, -2}, out[1].Data())
	assert.Equal(t, []float64{1, 0, 4}, out[2].Data())
	assert.Equal(t, []float64{-3, 0, 6}, out[3].Data())
	assert.Equal(t, 1.0, out[4].Item())
	assert.InDelta(t, 1.0/3, out[5].Item(), 1e-12)
	assert.InDelta(t, 0.5, out[6].Data()[1], 1e-12)
	assert.InDelta(t, math.Tanh(2), out[7].Data()[2], 1e-12)
}

func TestRun_MissingFeed(t *testing.T) {
	g := graph.New()
	s := g.Root()
	x := s.Placeholder("x", nil)
	y := s.Add(x, s.Ones(tensor.Shape{2}))

	_, err := New(g).Runner().Fetch(y).Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecution)
	assert.ErrorIs(t, err, ErrMissingFeed)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "x", execErr.Node)
}

func TestRun_ShapeMismatch(t *testing.T) {
	g := graph.New()
	s := g.Root()
	x := s.Placeholder("x", tensor.Shape{2})
	u := s.Placeholder("u", nil)
	y := s.Add(u, s.Ones(tensor.Shape{3}))

	sess := New(g)
	_, err := sess.Runner().Feed(x, vec(t, 1, 2, 3)).Fetch(x).Run()
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = sess.Runner().Feed(u, vec(t, 1, 2)).Fetch(y).Run()
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.ErrorIs(t, err, ErrExecution)
}

func TestRunner_InvalidFeed(t *testing.T) {
	g := graph.New()
	s := g.Root()
	c := s.Ones(tensor.Shape{1})
	other := graph.New().Root().Placeholder("x", nil)

	sess := New(g)
	_, err := sess.Runner().Feed(c, vec(t, 1)).Fetch(c).Run()
	assert.ErrorIs(t, err, ErrInvalidFeed)

	_, err = sess.Runner().Feed(other, vec(t, 1)).Run()
	assert.ErrorIs(t, err, ErrInvalidFeed)

	_, err = sess.Runner().Fetch(other).Run()
	assert.ErrorIs(t, err, ErrInvalidFeed)
}

func TestVariables(t *testing.T) {
	g := graph.New()
	s := g.Root()
	w := s.Variable("w", vec(t, 1, 1))
	y := s.Scale(w, 2)

	sess := New(g)
	cur, err := sess.Variable(w)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, cur.Data())

	require.NoError(t, sess.Assign(w, vec(t, 3, 4)))
	out, err := sess.Runner().Fetch(y).Run()
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 8}, out[0].Data())

	// The graph's initial value is untouched.
	assert.Equal(t, []float64{1, 1}, w.Value().Data())

	err = sess.Assign(w, vec(t, 1, 2, 3))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = sess.Variable(y)
	assert.ErrorIs(t, err, ErrInvalidFeed)
}

func TestClose(t *testing.T) {
	g := graph.New()
	c := g.Root().Ones(tensor.Shape{1})
	sess := New(g)
	require.NoError(t, sess.Close())

	_, err := sess.Runner().Fetch(c).Run()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGradients_Numeric(t *testing.T) {
	tests := []struct {
		name  string
		build func(s *graph.Scope, w *graph.Node) *graph.Node
		init  *tensor.Tensor
		want  []float64
	}{
		{
			name:  "sum of squares",
			build: func(s *graph.Scope, w *graph.Node) *graph.Node { return s.Sum(s.Square(w)) },
			init:  tensor.Full(tensor.Shape{3}, 2),
			want:  []float64{4, 4, 4},
		},
		{
			name: "mean of broadcast add",
			build: func(s *graph.Scope, w *graph.Node) *graph.Node {
				return s.Mean(s.Add(s.Ones(tensor.Shape{2, 3}), w))
			},
			init: tensor.Zeros(tensor.Shape{3}),
			want: []float64{1.0 / 3, 1.0 / 3, 1.0 / 3},
		},
		{
			name: "division",
			build: func(s *graph.Scope, w *graph.Node) *graph.Node {
				return s.Sum(s.Div(s.Fill(tensor.Shape{2}, 6), w))
			},
			init: tensor.Full(tensor.Shape{2}, 2),
			want: []float64{-1.5, -1.5},
		},
		{
			name:  "relu",
			build: func(s *graph.Scope, w *graph.Node) *graph.Node { return s.Sum(s.ReLU(w)) },
			init:  mustVec(-1, 3),
			want:  []float64{0, 1},
		},
		{
			name:  "sigmoid at zero",
			build: func(s *graph.Scope, w *graph.Node) *graph.Node { return s.Sum(s.Sigmoid(w)) },
			init:  tensor.Zeros(tensor.Shape{2}),
			want:  []float64{0.25, 0.25},
		},
		{
			name:  "tanh at zero",
			build: func(s *graph.Scope, w *graph.Node) *graph.Node { return s.Sum(s.Tanh(w)) },
			init:  tensor.Zeros(tensor.Shape{1}),
			want:  []float64{1},
		},
		{
			name: "sub and neg",
			build: func(s *graph.Scope, w *graph.Node) *graph.Node {
				return s.Sum(s.Neg(s.Sub(s.Ones(tensor.Shape{2}), s.Scale(w, 3))))
			},
			init: tensor.Zeros(tensor.Shape{2}),
			want: []float64{3, 3},
		},
		{
			name: "non-scalar output",
			build: func(s *graph.Scope, w *graph.Node) *graph.Node {
				return s.Mul(w, w)
			},
			init: mustVec(1, 2),
			want: []float64{2, 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graph.New()
			s := g.Root()
			w := s.Variable("w", tt.init)
			grads, err := graph.Gradients(tt.build(s, w), w)
			require.NoError(t, err)

			out, err := New(g).Runner().Fetch(grads...).Run()
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, out[0].Data(), 1e-9)
		})
	}
}

func TestGradients_MatMul(t *testing.T) {
	g := graph.New()
	s := g.Root()
	x := s.Placeholder("x", tensor.Shape{1, 2})
	w := s.Variable("w", tensor.Ones(tensor.Shape{2, 3}))
	b := s.Variable("b", tensor.Zeros(tensor.Shape{3}))
	loss := s.Sum(s.Add(s.MatMul(x, w), b))

	grads, err := graph.Gradients(loss, w, b)
	require.NoError(t, err)

	out, err := New(g).Runner().Feed(x, mat2(t, 1, 2, 2, 5)).Fetch(grads...).Run()
	require.NoError(t, err)

	// dL/dW[i,j] = x[i]; dL/db = 1
	assert.Equal(t, []float64{2, 2, 2, 5, 5, 5}, out[0].Data())
	assert.Equal(t, []float64{1, 1, 1}, out[1].Data())
}

func mustVec(data ...float64) *tensor.Tensor {
	v, err := tensor.FromSlice(data, tensor.Shape{len(data)})
	if err != nil {
		panic(err)
	}
	return v
}
