// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_Map(t *testing.T) {
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := NewWithParallelism(parallelism)
		var running, maxRunning atomic.Int32
		results := make([]int, 100)
		pool.Map(len(results), func(i int) {
			current := running.Add(1)
			for {
				prev := maxRunning.Load()
				if current <= prev || maxRunning.CompareAndSwap(prev, current) {
					break
				}
			}
			runtime.Gosched()
			results[i] = i * i
			running.Add(-1)
		})
		for i, v := range results {
			assert.Equal(t, i*i, v)
		}
		if parallelism > 0 {
			assert.LessOrEqual(t, int(maxRunning.Load()), parallelism)
		}
		if parallelism == 0 {
			assert.Equal(t, int32(1), maxRunning.Load())
		}
	}
	assert.True(t, New().IsEnabled())
	assert.True(t, NewWithParallelism(-1).IsUnlimited())
	assert.False(t, NewWithParallelism(0).IsEnabled())
}
