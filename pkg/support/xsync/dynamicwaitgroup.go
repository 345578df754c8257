// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements extra synchronization tools.
package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// DynamicWaitGroup is a WaitGroup-like synchronization primitive that allows the count
// to be changed (new values added) while someone is waiting for it.
type DynamicWaitGroup struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int64
}

// NewDynamicWaitGroup creates a new DynamicWaitGroup.
func NewDynamicWaitGroup() *DynamicWaitGroup {
	wg := &DynamicWaitGroup{}
	wg.cond = sync.NewCond(&wg.mu)
	return wg
}

// Add changes the counter by the given delta. It panics if the counter goes negative.
func (wg *DynamicWaitGroup) Add(delta int) {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	wg.count += int64(delta)
	if wg.count < 0 {
		panic(errors.Errorf("DynamicWaitGroup: negative counter"))
	}
	if wg.count == 0 {
		// Waiters re-check the condition upon waking.
		wg.cond.Broadcast()
	}
}

// Done decrements the counter by one.
func (wg *DynamicWaitGroup) Done() {
	wg.Add(-1)
}

// Wait blocks until the counter is zero.
func (wg *DynamicWaitGroup) Wait() {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	for wg.count > 0 {
		wg.cond.Wait()
	}
}
