// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"testing"

	"github.com/gomlx/sparseconv/backends"
	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNew(t *testing.T) {
	backend, err := backends.NewWithConfig("cpu:chunk=2")
	require.NoError(t, err)
	assert.Equal(t, BackendName, backend.Name())
	assert.Equal(t, 2, backend.(*Backend).ChunkSize())
	assert.Contains(t, backend.Description(), "chunk=2")

	backend, err = backends.NewWithConfig("cpu")
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, backend.(*Backend).ChunkSize())

	_, err = backends.NewWithConfig("cpu:chunk=0")
	assert.Error(t, err)
	_, err = backends.NewWithConfig("cpu:unknown=1")
	assert.ErrorContains(t, err, "unknown configuration option")
	_, err = backends.NewWithConfig("tpu:")
	assert.ErrorContains(t, err, "can't find backend")
	assert.Contains(t, backends.List(), BackendName)
}

func TestGatherMulScatter(t *testing.T) {
	for _, chunk := range []int{1, 2, DefaultChunkSize} {
		b := &Backend{chunkSize: chunk}
		src := mat.NewDense(3, 2, []float64{
			1, 2,
			3, 4,
			5, 6,
		})
		kernel := mat.NewDense(2, 1, []float64{1, 10})
		dst := mat.NewDense(2, 1, nil)
		// dst[1] += src[0]*k, dst[0] += src[2]*k, dst[1] += src[1]*k
		require.NoError(t, b.GatherMulScatter(src, kernel, dst, []int32{0, 2, 1}, []int32{1, 0, 1}))
		assert.Equal(t, []float64{65, 21 + 43}, dst.RawMatrix().Data, "chunk=%d", chunk)

		// Transposed kernel: from 1 channel back to 2.
		grad := mat.NewDense(3, 2, nil)
		require.NoError(t, b.GatherMulScatter(dst, kernel.T(), grad, []int32{0}, []int32{2}))
		assert.Equal(t, []float64{0, 0, 0, 0, 65, 650}, grad.RawMatrix().Data)
	}
}

func TestGatherOuterAccumulate(t *testing.T) {
	b := &Backend{chunkSize: 1}
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	g := mat.NewDense(2, 1, []float64{10, 100})
	dst := mat.NewDense(2, 1, nil)
	// dst += a[1]ᵀ g[0] + a[0]ᵀ g[1]
	require.NoError(t, b.GatherOuterAccumulate(a, g, dst, []int32{1, 0}, []int32{0, 1}))
	assert.Equal(t, []float64{30 + 100, 40 + 200}, dst.RawMatrix().Data)
}

func TestErrors(t *testing.T) {
	b := &Backend{chunkSize: DefaultChunkSize}
	src := mat.NewDense(1, 2, nil)
	dst := mat.NewDense(1, 3, nil)
	err := b.GatherMulScatter(src, mat.NewDense(2, 2, nil), dst, []int32{0}, []int32{0})
	assert.True(t, errors.Is(err, coords.ErrDimensionMismatch))
	err = b.GatherMulScatter(src, mat.NewDense(2, 3, nil), dst, []int32{0}, nil)
	assert.Error(t, err)
	err = b.GatherOuterAccumulate(src, dst, mat.NewDense(3, 3, nil), []int32{0}, []int32{0})
	assert.True(t, errors.Is(err, coords.ErrDimensionMismatch))

	b.Finalize()
	assert.True(t, b.IsFinalized())
	err = b.GatherMulScatter(src, mat.NewDense(2, 3, nil), dst, []int32{0}, []int32{0})
	assert.ErrorContains(t, err, "after Finalize")
}
