/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gtimer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeCounter(start uint64) (HardwareCounter, *uint64) {
	v := start
	return func() uint64 { return v }, &v
}

func TestNowAffine(t *testing.T) {
	hw, v := fakeCounter(1000)
	c := New(hw)

	base := c.Now()
	require.Equal(t, uint64(1000), base.Local)
	require.Equal(t, uint64(1000), base.Global)

	c.SetGlobalOffset(500)
	*v = 2000
	after := c.Now()

	// global_2 - global_1 == (local_2 - local_1) + delta_offset, rate==0
	require.Equal(t, int64(after.Global)-int64(base.Global), int64(*v-1000)+500)
}

func TestAffineWithRate(t *testing.T) {
	hw, v := fakeCounter(0)
	c := New(hw)
	c.SetRelativeRate(0.0001) // 100 ppm

	*v = 1_000_000
	tv := c.Now()
	require.Equal(t, uint64(1_000_000), tv.Local)
	require.Equal(t, uint64(1_000_100), tv.Global) // local + rate*local
}

func TestSetGlobalOffsetSequence(t *testing.T) {
	hw, v := fakeCounter(0)
	c := New(hw)

	deltas := []int64{10, -3, 7, 100, -50}
	var sum int64
	prev := c.Now()
	for i, d := range deltas {
		c.SetGlobalOffset(d)
		sum += d
		*v = uint64((i + 1) * 1000)
		cur := c.Now()
		require.Equal(t, int64(cur.Global)-int64(prev.Global), int64(cur.Local-prev.Local)+d)
		prev = cur
	}
	_ = sum
}

func TestConcurrentReadersConsistentSnapshot(t *testing.T) {
	hw, _ := fakeCounter(42)
	c := New(hw)
	c.SetGlobalOffset(100)
	c.SetRelativeRate(0.00002)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tv := c.Now()
			require.Equal(t, uint64(42), tv.Local)
		}()
	}
	wg.Wait()
}

func TestSystemHardwareCounterMonotonic(t *testing.T) {
	hw := SystemHardwareCounter()
	a := hw()
	b := hw()
	require.GreaterOrEqual(t, b, a)
}
