package session

import (
	"fmt"
	"math"

	"github.com/born-ml/weaver/internal/parallel"
	"github.com/born-ml/weaver/internal/tensor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var kernelConfig = parallel.DefaultConfig()

// binary applies fn element-wise after broadcasting a and b to a common shape.
// fn has the gonum floats "To" signature: fn(dst, s, t).
func binary(a, b *tensor.Tensor, fn func(dst, s, t []float64) []float64) (*tensor.Tensor, error) {
	shape, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	dst := make([]float64, shape.NumElements())
	fn(dst, expand(a, shape), expand(b, shape))
	return tensor.New(shape, dst)
}

// unary maps fn over every element of x.
func unary(x *tensor.Tensor, fn func(float64) float64) *tensor.Tensor {
	out := x.Clone()
	parallel.Map(out.Data(), kernelConfig, fn)
	return out
}

func scale(x *tensor.Tensor, f float64) *tensor.Tensor {
	out := x.Clone()
	floats.Scale(f, out.Data())
	return out
}

func relu(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}

func step(v float64) float64 {
	if v > 0 {
		return 1
	}
	return 0
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// expand broadcasts t's data to shape. Returns t's own buffer when no
// broadcasting is needed.
func expand(t *tensor.Tensor, shape tensor.Shape) []float64 {
	if t.Shape().Equal(shape) {
		return t.Data()
	}

	out := make([]float64, shape.NumElements())
	src := t.Data()
	eachSource(t.Shape(), shape, func(dstIdx, srcIdx int) {
		out[dstIdx] = src[srcIdx]
	})
	return out
}

func broadcastTo(t *tensor.Tensor, shape tensor.Shape) (*tensor.Tensor, error) {
	full, err := tensor.BroadcastShapes(t.Shape(), shape)
	if err != nil || !full.Equal(shape) {
		return nil, fmt.Errorf("%w: cannot broadcast %v to %v", ErrShapeMismatch, t.Shape(), shape)
	}
	return tensor.New(shape, expand(t, shape))
}

// reduceTo sums t over the dimensions that broadcasting added or stretched
// to go from shape to t's shape. It is the adjoint of expand.
func reduceTo(t *tensor.Tensor, shape tensor.Shape) (*tensor.Tensor, error) {
	if t.Shape().Equal(shape) {
		return t, nil
	}
	full, err := tensor.BroadcastShapes(shape, t.Shape())
	if err != nil || !full.Equal(t.Shape()) {
		return nil, fmt.Errorf("%w: cannot reduce %v to %v", ErrShapeMismatch, t.Shape(), shape)
	}

	out := make([]float64, shape.NumElements())
	src := t.Data()
	eachSource(shape, t.Shape(), func(wideIdx, narrowIdx int) {
		out[narrowIdx] += src[wideIdx]
	})
	return tensor.New(shape, out)
}

// eachSource walks every flat index of the broadcast shape `to` and reports
// the flat index of the element of `from` it reads.
func eachSource(from, to tensor.Shape, visit func(toIdx, fromIdx int)) {
	toStrides := to.ComputeStrides()
	fromStrides := from.ComputeStrides()
	lead := len(to) - len(from)

	for i := 0; i < to.NumElements(); i++ {
		rem, j := i, 0
		for d := range to {
			idx := rem / toStrides[d]
			rem %= toStrides[d]
			if fd := d - lead; fd >= 0 && from[fd] != 1 {
				j += idx * fromStrides[fd]
			}
		}
		visit(i, j)
	}
}

func matmul(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 || as[1] != bs[0] {
		return nil, fmt.Errorf("%w: MatMul of %v and %v", ErrShapeMismatch, as, bs)
	}

	am := mat.NewDense(as[0], as[1], a.Data())
	bm := mat.NewDense(bs[0], bs[1], b.Data())
	var c mat.Dense
	c.Mul(am, bm)
	return denseToTensor(&c), nil
}

func transpose(x *tensor.Tensor) (*tensor.Tensor, error) {
	s := x.Shape()
	if len(s) != 2 {
		return nil, fmt.Errorf("%w: Transpose of %v", ErrShapeMismatch, s)
	}
	m := mat.NewDense(s[0], s[1], x.Data())
	return denseToTensor(mat.DenseCopyOf(m.T())), nil
}

func denseToTensor(m *mat.Dense) *tensor.Tensor {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	t, err := tensor.New(tensor.Shape{r, c}, data)
	if err != nil {
		panic(err)
	}
	return t
}

func mean(x *tensor.Tensor) *tensor.Tensor {
	return tensor.Scalar(floats.Sum(x.Data()) / float64(x.NumElements()))
}
