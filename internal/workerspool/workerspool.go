// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements a soft-bounded pool of goroutines, used to build the maps of the different
// kernel offsets in parallel.
package workerspool

import (
	"runtime"
	"sync"

	"github.com/gomlx/sparseconv/pkg/support/xsync"
)

// Pool limits the number of tasks running in parallel.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return NewWithParallelism(runtime.NumCPU())
}

// NewWithParallelism returns a new Pool with the given maxParallelism, see SetMaxParallelism.
func NewWithParallelism(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is a soft-target for parallelism.
// If set to 0 parallelism is disabled.
// If set to -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// It should only be changed before any tasks start running.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available to run the task, and starts it in a goroutine.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return
	} else if w.maxParallelism == 0 {
		task()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.lockedRunTaskInGoroutine(task)
}

// lockedRunTaskInGoroutine and keep tabs on w.numRunning.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}

// ForEach calls fn(i) for i in [0, n), using the pool workers, and returns when all calls are finished.
//
// Each index is processed exactly once. With parallelism disabled the calls happen sequentially, in order.
func (w *Pool) ForEach(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	if !w.IsEnabled() || n == 1 {
		for i := range n {
			fn(i)
		}
		return
	}
	wg := xsync.NewDynamicWaitGroup()
	for i := range n {
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			fn(i)
		})
	}
	wg.Wait()
}
