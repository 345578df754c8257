// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpers(t *testing.T) {
	assert.Equal(t, []int32{-1, -1, -1}, SliceWithValue[int32](3, -1))
	assert.Equal(t, []string{"1", "2"}, Map([]int{1, 2}, func(e int) string { return string(rune('0' + e)) }))
	assert.Equal(t, 7, Max([]int{3, 7, -2}))
	assert.Equal(t, 0, Max([]int{}))
	assert.Equal(t, 8, Sum([]int{3, 7, -2}))
	assert.InDelta(t, 1.5, Sum([]float64{1, 0.5}), 1e-9)
}

func TestIntsFlag(t *testing.T) {
	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	kernel := IntsFlag(flags, "kernel", []int{3}, "kernel size")
	stride := IntsFlag(flags, "stride", []int{2, 2}, "strides")
	require.NoError(t, flags.Parse([]string{"-kernel=3, 5,1"}))
	assert.Equal(t, []int{3, 5, 1}, *kernel)
	assert.Equal(t, []int{2, 2}, *stride)
	assert.Equal(t, "2,2", flags.Lookup("stride").Value.String())

	flags = flag.NewFlagSet("test", flag.ContinueOnError)
	flags.SetOutput(new(discard))
	IntsFlag(flags, "kernel", nil, "kernel size")
	require.Error(t, flags.Parse([]string{"-kernel=a"}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
