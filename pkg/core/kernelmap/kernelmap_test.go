// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernelmap

import (
	"math/rand"
	"testing"

	"github.com/gomlx/sparseconv/internal/workerspool"
	"github.com/gomlx/sparseconv/pkg/core/coords"
	"github.com/gomlx/sparseconv/pkg/core/region"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func vec(t *testing.T, dims int, values ...int) coords.Vec {
	v, err := coords.MakeVec(dims, values...)
	require.NoError(t, err)
	return v
}

func indexMap(t *testing.T, dims int, flat ...int32) *coords.IndexMap {
	im, err := coords.NewIndexMap(dims, 0)
	require.NoError(t, err)
	require.NoError(t, im.InsertBatch(flat, false))
	return im
}

// spatialRows returns the first spatial component of each row.
func spatialRows(im *coords.IndexMap) []int32 {
	values := make([]int32, im.Len())
	for ii, key := range im.Rows() {
		values[ii] = key.At(0)
	}
	return values
}

func TestStride2Pooling1D(t *testing.T) {
	// Positions 0..5, batch 0, resolution 1.
	in := indexMap(t, 1, 0, 0, 1, 0, 2, 0, 3, 0, 4, 0, 5, 0)
	out, err := StridedCoords(in, vec(t, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 2, 4}, spatialRows(out))

	b := NewBuilder(nil)
	m, err := b.Build(in, out, vec(t, 1, 1), Params{KernelSize: vec(t, 1, 2), Dilation: vec(t, 1, 1)})
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	require.Equal(t, 2, m.NumOffsets())
	assert.Equal(t, []int32{0, 2, 4}, m.In[0])
	assert.Equal(t, []int32{0, 1, 2}, m.Out[0])
	assert.Equal(t, []int32{1, 3, 5}, m.In[1])
	assert.Equal(t, []int32{0, 1, 2}, m.Out[1])
	assert.Equal(t, 6, m.NumPairs())
	assert.Equal(t, uint64(48), m.MemoryBytes())
}

func TestStridedCoordsNegative(t *testing.T) {
	in := indexMap(t, 2,
		-1, -1, 0,
		-2, 3, 0,
		1, 1, 0,
		-1, -1, 1)
	out, err := StridedCoords(in, vec(t, 2, 2))
	require.NoError(t, err)
	want := []coords.Key{
		coords.MakeKey([]int32{-2, -2}, 0),
		coords.MakeKey([]int32{-2, 2}, 0),
		coords.MakeKey([]int32{0, 0}, 0),
		coords.MakeKey([]int32{-2, -2}, 1),
	}
	assert.Equal(t, want, out.Rows())

	_, err = StridedCoords(in, vec(t, 3, 2))
	assert.True(t, errors.Is(err, coords.ErrDimensionMismatch))
}

func TestSameResolutionCentered(t *testing.T) {
	// 1D with kernel 3, stride 1: neighbors at distance pixelDist*dilation.
	in := indexMap(t, 1, 0, 0, 2, 0, 4, 0, 8, 0)
	pd := vec(t, 1, 2)
	m, err := NewBuilder(nil).Build(in, in, pd, Params{KernelSize: vec(t, 1, 3), Dilation: vec(t, 1, 1)})
	require.NoError(t, err)
	// Offset -1: input c pairs with output c+2.
	assert.Equal(t, []int32{0, 1}, m.In[0])
	assert.Equal(t, []int32{1, 2}, m.Out[0])
	// Offset 0: identity.
	assert.Equal(t, []int32{0, 1, 2, 3}, m.In[1])
	assert.Equal(t, []int32{0, 1, 2, 3}, m.Out[1])
	// Offset +1: input c pairs with output c-2.
	assert.Equal(t, []int32{1, 2}, m.In[2])
	assert.Equal(t, []int32{0, 1}, m.Out[2])

	// Dilation 2 skips the neighbors at distance 2.
	m, err = NewBuilder(nil).Build(in, in, pd, Params{KernelSize: vec(t, 1, 3), Dilation: vec(t, 1, 2)})
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 2}, m.In[0])
	assert.Equal(t, []int32{2, 3}, m.Out[0])
}

func TestTransposeReversesForward(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	flat := make([]int32, 0, 3*200)
	for range 200 {
		flat = append(flat, int32(rng.Intn(20)-10), int32(rng.Intn(20)-10), int32(rng.Intn(2)))
	}
	fine := indexMap(t, 2, flat...)
	finePD := vec(t, 2, 1)
	coarse, err := StridedCoords(fine, vec(t, 2, 2))
	require.NoError(t, err)

	params := Params{KernelSize: vec(t, 2, 3), Dilation: vec(t, 2, 1)}
	b := NewBuilder(nil)
	fw, err := b.Build(fine, coarse, finePD, params)
	require.NoError(t, err)
	tr, err := b.BuildTranspose(coarse, fine, finePD, params)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())
	require.Equal(t, fw.NumOffsets(), tr.NumOffsets())

	type pair struct{ fine, coarse int32 }
	for k := range fw.NumOffsets() {
		fwPairs := make(map[pair]bool)
		for ii := range fw.In[k] {
			fwPairs[pair{fw.In[k][ii], fw.Out[k][ii]}] = true
		}
		trPairs := make(map[pair]bool)
		for ii := range tr.In[k] {
			trPairs[pair{tr.Out[k][ii], tr.In[k][ii]}] = true
		}
		assert.Equalf(t, fwPairs, trPairs, "kernel offset %d", k)

		// Transposed pairs ordered by (coarse) input row.
		for ii := 1; ii < len(tr.In[k]); ii++ {
			assert.Less(t, tr.In[k][ii-1], tr.In[k][ii])
		}
	}
}

func TestParallelBuildIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	flat := make([]int32, 0, 4*500)
	for range 500 {
		flat = append(flat, int32(rng.Intn(16)), int32(rng.Intn(16)), int32(rng.Intn(16)), int32(rng.Intn(3)))
	}
	in := indexMap(t, 3, flat...)
	pd := vec(t, 3, 1)
	out, err := StridedCoords(in, vec(t, 3, 2))
	require.NoError(t, err)
	params := Params{KernelSize: vec(t, 3, 3), Dilation: vec(t, 3, 1), Region: region.Region{Type: region.Hypercross}}

	sequential, err := NewBuilder(workerspool.NewWithParallelism(0)).Build(in, out, pd, params)
	require.NoError(t, err)
	parallel, err := NewBuilder(workerspool.NewWithParallelism(-1)).Build(in, out, pd, params)
	require.NoError(t, err)
	assert.Equal(t, sequential, parallel)
	assert.Equal(t, 7, parallel.NumOffsets())

	// Each input row contributes at most once per offset.
	for k := range parallel.NumOffsets() {
		seen := make(map[int32]bool)
		for _, inRow := range parallel.In[k] {
			assert.False(t, seen[inRow])
			seen[inRow] = true
		}
	}
}

func TestCustomRegion(t *testing.T) {
	in := indexMap(t, 2, 0, 0, 0, 1, 0, 0, 0, 1, 0)
	r, err := region.NewCustom(2, []int32{0, 0, -1, 0})
	require.NoError(t, err)
	m, err := NewBuilder(nil).Build(in, in, vec(t, 2, 1), Params{KernelSize: vec(t, 2, 1), Dilation: vec(t, 2, 1), Region: r})
	require.NoError(t, err)
	require.Equal(t, 2, m.NumOffsets())
	assert.Equal(t, []int32{0, 1, 2}, m.In[0])
	// Offset (-1, 0): only input (0,0) has a match, output (1,0).
	assert.Equal(t, []int32{0}, m.In[1])
	assert.Equal(t, []int32{1}, m.Out[1])
}

func TestBuildErrors(t *testing.T) {
	in := indexMap(t, 2, 0, 0, 0)
	b := NewBuilder(nil)
	_, err := b.Build(in, in, vec(t, 2, 1), Params{KernelSize: vec(t, 3, 3), Dilation: vec(t, 2, 1)})
	assert.True(t, errors.Is(err, coords.ErrDimensionMismatch))
	_, err = b.Build(in, in, vec(t, 2, 1), Params{KernelSize: vec(t, 2, 2), Dilation: vec(t, 2, 1),
		Region: region.Region{Type: region.Hypercross}})
	assert.True(t, errors.Is(err, coords.ErrInvalidArgument))
	_, err = b.BuildTranspose(in, indexMap(t, 1, 0, 0), vec(t, 2, 1), Params{KernelSize: vec(t, 2, 2), Dilation: vec(t, 2, 1)})
	assert.True(t, errors.Is(err, coords.ErrDimensionMismatch))
}

func TestGlobal(t *testing.T) {
	in := indexMap(t, 1, 5, 1, 3, 0, 7, 1, 2, 0)
	origin, err := OriginCoords(in)
	require.NoError(t, err)
	assert.Equal(t, []coords.Key{coords.MakeKey([]int32{0}, 1), coords.MakeKey([]int32{0}, 0)}, origin.Rows())

	m, err := BuildGlobal(in, origin)
	require.NoError(t, err)
	require.Equal(t, 1, m.NumOffsets())
	assert.Equal(t, []int32{0, 1, 2, 3}, m.In[0])
	assert.Equal(t, []int32{0, 1, 0, 1}, m.Out[0])

	batches, err := OriginCoordsForBatches(1, 2)
	require.NoError(t, err)
	m, err = BuildGlobal(in, batches)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 0, 1, 0}, m.Out[0])

	batches, err = OriginCoordsForBatches(1, 1)
	require.NoError(t, err)
	_, err = BuildGlobal(in, batches)
	assert.True(t, errors.Is(err, coords.ErrInvalidArgument))
}

func TestValidate(t *testing.T) {
	m := &InOutMap{In: [][]int32{{1, 2}}, Out: [][]int32{{1}}}
	assert.Error(t, m.Validate())
	m = &InOutMap{In: [][]int32{{1}}, Out: [][]int32{{1}, {2}}}
	assert.Error(t, m.Validate())
	assert.Equal(t, "InOutMap{offsets=1, pairs=1}", m.String())
}
