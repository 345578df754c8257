// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package coords

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	// Empty sequence is the offset basis.
	assert.Equal(t, uint64(14695981039346656037), Hash([]int32{}))

	// One step by hand: (basis * prime) ^ 7.
	basis := uint64(14695981039346656037)
	want := (basis * 1099511628211) ^ 7
	assert.Equal(t, want, Hash([]int32{7}))

	// Order-sensitive.
	assert.NotEqual(t, Hash([]int32{1, 2, 3}), Hash([]int32{3, 2, 1}))

	// Same routine independent of the integer type, negative values sign-extended.
	assert.Equal(t, Hash([]int32{-1, 5}), Hash([]int64{-1, 5}))
	assert.Equal(t, Hash([]int{-1, 5}), HashUint64(^uint64(0), 5))
}

func TestVec(t *testing.T) {
	v, err := MakeVec(3, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 2, 2}, v.Values())
	assert.Equal(t, 8, v.Product())
	assert.Equal(t, "(2, 2, 2)", v.String())

	v2, err := MakeVec(3, 1, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 4, 8}, v.Mul(v2).Values())

	q, err := v.Mul(v2).Div(v)
	require.NoError(t, err)
	assert.Equal(t, v2, q)

	_, err = v2.Div(v)
	assert.True(t, errors.Is(err, ErrInvalidArgument), "1/2 is not divisible: %v", err)

	_, err = MakeVec(3, 1, 2)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	_, err = MakeVec(MaxDims+1, 1)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	assert.True(t, ZeroVec(2).IsZero())
	assert.False(t, ZeroVec(2).AllPositive())
	assert.NotEqual(t, ZeroVec(2), ZeroVec(3))
}

func TestKey(t *testing.T) {
	k := MakeKey([]int32{-3, 5}, 1)
	assert.Equal(t, 2, k.Dims())
	assert.Equal(t, int32(1), k.Batch())
	assert.Equal(t, []int32{-3, 5, 1}, k.Row())
	assert.Equal(t, k, KeyFromRow([]int32{-3, 5, 1}))
	assert.Equal(t, Hash([]int32{-3, 5, 1}), k.Hash())

	pd, _ := MakeVec(2, 2)
	assert.Equal(t, MakeKey([]int32{-4, 4}, 1), k.Align(pd))
	assert.Equal(t, MakeKey([]int32{0, 0}, 1), k.Origin())
	assert.Equal(t, MakeKey([]int32{-1, 3}, 1), k.Shift([]int32{1, -1}, pd, 1))
	assert.Equal(t, MakeKey([]int32{-5, 7}, 1), k.Shift([]int32{1, -1}, pd, -1))
}

func TestFloorDiv(t *testing.T) {
	for _, tc := range []struct{ a, b, want int32 }{
		{0, 2, 0}, {1, 2, 0}, {2, 2, 1}, {-1, 2, -1}, {-2, 2, -1}, {-3, 2, -2}, {7, 3, 2}, {-7, 3, -3},
	} {
		assert.Equalf(t, tc.want, FloorDiv(tc.a, tc.b), "FloorDiv(%d, %d)", tc.a, tc.b)
	}
}

func TestIndexMap(t *testing.T) {
	im, err := NewIndexMap(1, 0)
	require.NoError(t, err)

	// Idempotent insertion.
	row, inserted := im.Insert(MakeKey([]int32{4}, 0))
	assert.Equal(t, 0, row)
	assert.True(t, inserted)
	row, inserted = im.Insert(MakeKey([]int32{4}, 0))
	assert.Equal(t, 0, row)
	assert.False(t, inserted)
	assert.Equal(t, 1, im.Len())

	// Batch index is part of the identity.
	row, inserted = im.Insert(MakeKey([]int32{4}, 1))
	assert.Equal(t, 1, row)
	assert.True(t, inserted)

	_, found := im.Lookup(MakeKey([]int32{5}, 0))
	assert.False(t, found)
}

func TestIndexMapDuplicates(t *testing.T) {
	flat := []int32{0, 0, 1, 0, 0, 0} // (0,0), (1,0), (0,0) with batch last.

	collapsed, err := NewIndexMap(1, 3)
	require.NoError(t, err)
	require.NoError(t, collapsed.InsertBatch(flat, false))
	assert.Equal(t, 2, collapsed.Len())
	row, found := collapsed.Lookup(MakeKey([]int32{0}, 0))
	require.True(t, found)
	assert.Equal(t, 0, row)
	row, found = collapsed.Lookup(MakeKey([]int32{1}, 0))
	require.True(t, found)
	assert.Equal(t, 1, row)

	preserved, err := NewIndexMap(1, 3)
	require.NoError(t, err)
	require.NoError(t, preserved.InsertBatch(flat, true))
	assert.Equal(t, 3, preserved.Len())
	assert.Equal(t, 2, preserved.NumUnique())
	assert.Equal(t, preserved.Row(0), preserved.Row(2))
	row, _ = preserved.Lookup(MakeKey([]int32{0}, 0))
	assert.Equal(t, 0, row, "lookup of a repeated coordinate returns its first row")

	// Buffer not a multiple of dims+1: nothing inserted.
	err = preserved.InsertBatch([]int32{1, 2, 3}, false)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.Equal(t, 3, preserved.Len())
}

func TestIndexMapContiguity(t *testing.T) {
	im, err := NewIndexMap(3, 0)
	require.NoError(t, err)
	const n = 1000
	seen := make(map[int]bool, n)
	for ii := range n {
		// Many repeated coordinates.
		key := MakeKey([]int32{int32(ii % 10), int32(ii % 7), -int32(ii % 13)}, int32(ii%2))
		row, _ := im.Insert(key)
		seen[row] = true
	}
	require.Len(t, seen, im.Len())
	for row := range im.Len() {
		assert.True(t, seen[row], "row %d missing", row)
		got, found := im.Lookup(im.Row(row))
		require.True(t, found)
		assert.Equal(t, row, got)
	}
}
