// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/gomlx/sparseconv/pkg/core/metadata"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const line8 = `# x batch
0 0
1 0
2 0
3 0

4 0
5 0
6 0
7 0
`

func TestReadCoords(t *testing.T) {
	flat, dims, err := readCoords(strings.NewReader(line8))
	require.NoError(t, err)
	assert.Equal(t, 1, dims)
	assert.Len(t, flat, 16)
	assert.Equal(t, []int32{0, 0, 1, 0}, flat[:4])

	flat, dims, err = readCoords(strings.NewReader("1 -2 3 0\n4 5 6 1\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, dims)
	assert.Equal(t, []int32{1, -2, 3, 0, 4, 5, 6, 1}, flat)

	_, _, err = readCoords(strings.NewReader("1 2 0\n1 0\n"))
	require.ErrorContains(t, err, "line 2")
	_, _, err = readCoords(strings.NewReader("7\n"))
	require.Error(t, err)
	_, _, err = readCoords(strings.NewReader("1 x\n"))
	require.Error(t, err)
	_, _, err = readCoords(strings.NewReader("# nothing\n"))
	require.Error(t, err)
}

func testConfig() config {
	return config{
		levels:   3,
		kernel:   []int{2},
		stride:   []int{2},
		dilation: []int{1},
		region:   "cube",
		workers:  2,
		progress: io.Discard,
	}
}

func TestBuildPyramid(t *testing.T) {
	flat, dims, err := readCoords(strings.NewReader(line8))
	require.NoError(t, err)
	md := must.M1(metadata.New(dims))
	defer md.Release()
	levels, numBatches, err := buildPyramid(md, flat, testConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, numBatches)
	require.Len(t, levels, 3)
	for ii, want := range []struct{ in, out, pairs int }{{8, 4, 8}, {4, 2, 4}, {2, 1, 2}} {
		assert.Equal(t, want.in, levels[ii].numIn, "level %d", ii)
		assert.Equal(t, want.out, levels[ii].numOut, "level %d", ii)
		assert.Equal(t, want.pairs, levels[ii].numPairs, "level %d", ii)
		assert.Equal(t, 2, levels[ii].numOffsets)
	}

	cfg := testConfig()
	cfg.region = "cross"
	_, _, err = buildPyramid(must.M1(metadata.New(dims)), flat, cfg)
	require.ErrorIs(t, err, metadata.ErrInvalidArgument, "hypercross requires odd kernel sizes")

	cfg = testConfig()
	cfg.region = "sphere"
	_, _, err = buildPyramid(must.M1(metadata.New(dims)), flat, cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.kernel = []int{3, 3}
	_, _, err = buildPyramid(must.M1(metadata.New(dims)), flat, cfg)
	require.ErrorIs(t, err, metadata.ErrDimensionMismatch)
}

func TestInspect(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, inspect(&out, strings.NewReader(line8), testConfig()))
	report := out.String()
	assert.Contains(t, report, "Summary")
	assert.Contains(t, report, "Levels")
	assert.Contains(t, report, "largest level: 8 pairs")
	assert.Contains(t, report, "total: 14 pairs")

	require.Error(t, inspect(&out, strings.NewReader(""), testConfig()))
}
