// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_ForEach(t *testing.T) {
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := NewWithParallelism(parallelism)
		const n = 100
		var count atomic.Int32
		visited := make([]int32, n)
		pool.ForEach(n, func(i int) {
			runtime.Gosched()
			visited[i]++
			count.Add(1)
		})
		assert.Equal(t, int32(n), count.Load(), "parallelism=%d", parallelism)
		for i, v := range visited {
			assert.Equalf(t, int32(1), v, "index %d visited %d times with parallelism=%d", i, v, parallelism)
		}
	}
}

func TestPool_Limit(t *testing.T) {
	pool := NewWithParallelism(2)
	var running, maxRunning atomic.Int32
	pool.ForEach(20, func(int) {
		current := running.Add(1)
		for {
			prev := maxRunning.Load()
			if current <= prev || maxRunning.CompareAndSwap(prev, current) {
				break
			}
		}
		runtime.Gosched()
		running.Add(-1)
	})
	assert.LessOrEqual(t, maxRunning.Load(), int32(2))
	assert.True(t, pool.IsEnabled())
	assert.False(t, pool.IsUnlimited())
	assert.Equal(t, 2, pool.MaxParallelism())
}

func TestPool_Sequential(t *testing.T) {
	pool := New()
	pool.SetMaxParallelism(0)
	var order []int
	pool.ForEach(5, func(i int) { order = append(order, i) })
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
