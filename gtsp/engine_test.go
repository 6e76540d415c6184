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

package gtsp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshtime/clocksync/beacon"
	"github.com/meshtime/clocksync/gtimer"
	"github.com/meshtime/clocksync/mac/simmac"
)

func counterStep(step uint64) gtimer.HardwareCounter {
	var n uint64
	return func() uint64 {
		n += step
		return n
	}
}

func TestMacReadCreatesNeighborOnFirstBeacon(t *testing.T) {
	clock := gtimer.New(counterStep(1000))
	e := New(5, clock, nil)
	e.paused = false
	require.False(t, e.IsSynced())

	toa := clock.Now()
	b := beacon.GTSP{DispatchMarker: beacon.DispatchGTSP, Local: toa.Local, Global: toa.Global}
	frame, err := b.MarshalBinary()
	require.NoError(t, err)

	e.MacRead(frame, 9, toa)
	require.True(t, e.IsSynced())
	require.Equal(t, 1, e.neighbors.Len())
}

func TestMacReadJumpsForwardOnLargePositiveGap(t *testing.T) {
	clock := gtimer.New(counterStep(1000))
	e := New(5, clock, nil)
	e.paused = false

	toa := clock.Now()
	// neighbor's global is far ahead of ours: immediate jump expected.
	b := beacon.GTSP{DispatchMarker: beacon.DispatchGTSP, Local: toa.Local, Global: toa.Global + 1_000_000}
	frame, _ := b.MarshalBinary()
	e.MacRead(frame, 9, toa)

	after := clock.Now()
	require.Greater(t, after.Global, after.Local)
}

func TestMacReadIgnoredWhenPaused(t *testing.T) {
	clock := gtimer.New(counterStep(1000))
	e := New(5, clock, nil) // paused by default
	toa := clock.Now()
	b := beacon.GTSP{DispatchMarker: beacon.DispatchGTSP, Local: toa.Local, Global: toa.Global}
	frame, _ := b.MarshalBinary()
	e.MacRead(frame, 9, toa)
	require.Equal(t, 0, e.neighbors.Len())
}

func TestRateStatsObservedOnRepeatBeaconsFromSameNeighbor(t *testing.T) {
	clock := gtimer.New(counterStep(1_000_000))
	e := New(5, clock, nil)
	e.paused = false

	for i := 0; i < 3; i++ {
		toa := clock.Now()
		b := beacon.GTSP{DispatchMarker: beacon.DispatchGTSP, Local: toa.Local, Global: toa.Local}
		frame, _ := b.MarshalBinary()
		e.MacRead(frame, 9, toa)
	}

	require.GreaterOrEqual(t, e.RateStats().Count(), uint64(2))
}

func TestTwoNodeNeighborhoodOverSimmacBus(t *testing.T) {
	bus := simmac.NewBus()
	clockA := gtimer.New(counterStep(1000))
	clockB := gtimer.New(counterStep(1000))

	transportA := simmac.NewTransport(bus, 1, clockA)
	transportB := simmac.NewTransport(bus, 2, clockB)
	defer transportA.Close()
	defer transportB.Close()

	a := New(1, clockA, transportA)
	b := New(2, clockB, transportB)
	a.SetBeaconDelay(20 * time.Millisecond)
	b.SetBeaconDelay(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Resume(ctx)
	b.Resume(ctx)

	require.Eventually(t, func() bool {
		return a.IsSynced() && b.IsSynced()
	}, 3*time.Second, 20*time.Millisecond)
}

func TestGTSPEnabledReflectsPauseResume(t *testing.T) {
	bus := simmac.NewBus()
	clock := gtimer.New(counterStep(1000))
	transport := simmac.NewTransport(bus, 1, clock)
	defer transport.Close()
	e := New(1, clock, transport)
	require.False(t, e.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Resume(ctx)
	require.True(t, e.Enabled())

	e.Pause()
	require.False(t, e.Enabled())
}

func TestTriggerAndUntrigger(t *testing.T) {
	clock := gtimer.New(counterStep(1000))
	e := New(1, clock, nil)
	require.False(t, e.IsSynced())

	e.Trigger(42)
	require.True(t, e.IsSynced())
	require.NotNil(t, e.neighbors.Lookup(42))

	e.Untrigger(42)
	require.False(t, e.IsSynced())
	require.Nil(t, e.neighbors.Lookup(42))
}
