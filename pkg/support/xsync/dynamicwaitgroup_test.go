// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	wg.Wait() // Counter at zero: returns immediately.

	var done atomic.Int32
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Adding while someone may be waiting.
		wg.Add(1)
		go func() {
			defer wg.Done()
			done.Add(1)
		}()
		done.Add(1)
	}()
	wg.Wait()
	assert.Equal(t, int32(2), done.Load())
	wg.Wait()

	require.Panics(t, func() { wg.Done() })
}
