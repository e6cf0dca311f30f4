// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/born-ml/weaver/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicAPI(t *testing.T) {
	x, err := tensor.FromSlice([]float64{1, 1, 1, 1}, tensor.Shape{2, 2})
	require.NoError(t, err)
	assert.True(t, tensor.Equal(x, tensor.Ones(tensor.Shape{2, 2})))

	m, err := tensor.Matrix([][]float64{{1, 1}, {1, 1}})
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(x, m, 0))

	_, err = tensor.Matrix([][]float64{{1}, {1, 2}})
	assert.ErrorIs(t, err, tensor.ErrRagged)

	assert.Equal(t, tensor.Shape{3}, tensor.Values(1, 2, 3).Shape())
	assert.InDelta(t, 2.5, tensor.Scalar(2.5).Item(), 0)

	s, err := tensor.BroadcastShapes(tensor.Shape{2, 1}, tensor.Shape{3})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, s)
}
