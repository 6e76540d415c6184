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

package ftsp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshtime/clocksync/beacon"
	"github.com/meshtime/clocksync/estimator"
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

func TestPreferredRootDeclaresSelfImmediately(t *testing.T) {
	e := New(PreferredRoot, gtimer.New(counterStep(1000)), nil)
	require.True(t, e.IsSynced())
}

func TestMacReadConvergesOffsetAndMarksSynced(t *testing.T) {
	clock := gtimer.New(counterStep(1_000_000)) // 1s hardware ticks
	e := New(5, clock, nil)
	e.paused = false
	require.False(t, e.IsSynced())

	const rootOffset = uint64(1_000_000) // root is 1s ahead
	for i := uint16(1); i <= 4; i++ {
		toa := clock.Now()
		b := beacon.FTSP{DispatchMarker: beacon.DispatchFTSP, ID: 1, Root: 1, Seq: i, Global: toa.Local + rootOffset}
		frame, err := b.MarshalBinary()
		require.NoError(t, err)
		e.MacRead(frame, 1, toa)
	}

	require.True(t, e.IsSynced())
	final := clock.Now()
	// The root's true global at this instant is final.Local + rootOffset
	// (by construction); the applied correction should track it tightly.
	require.InDelta(t, float64(final.Local+rootOffset), float64(final.Global), 1000)
}

func TestMacReadDropsStaleSequence(t *testing.T) {
	clock := gtimer.New(counterStep(1_000_000))
	e := New(5, clock, nil)
	e.paused = false

	toa := clock.Now()
	b := beacon.FTSP{DispatchMarker: beacon.DispatchFTSP, ID: 1, Root: 1, Seq: 5, Global: toa.Local}
	frame, _ := b.MarshalBinary()
	e.MacRead(frame, 1, toa)
	require.Equal(t, 1, e.table.Len())

	// Same or lower seq from the same root must be dropped.
	stale, _ := b.MarshalBinary()
	e.MacRead(stale, 1, clock.Now())
	require.Equal(t, 1, e.table.Len())
}

func TestMacReadIgnoredWhenPausedOrRoot(t *testing.T) {
	clock := gtimer.New(counterStep(1_000_000))
	root := New(PreferredRoot, clock, nil)
	root.paused = false // isolate the "self is root" rejection from pause
	toa := clock.Now()
	b := beacon.FTSP{DispatchMarker: beacon.DispatchFTSP, ID: 2, Root: 2, Seq: 1, Global: toa.Local}
	frame, _ := b.MarshalBinary()
	root.MacRead(frame, 2, toa) // self is root: must be a no-op
	require.Equal(t, 0, root.table.Len())

	nonRoot := New(5, clock, nil)
	nonRoot.paused = true
	nonRoot.MacRead(frame, 2, toa)
	require.Equal(t, 0, nonRoot.table.Len())
}

func TestSanityGateRejectsImplausibleOffsetAndClearsTable(t *testing.T) {
	clock := gtimer.New(counterStep(1_000_000))
	e := New(5, clock, nil)
	e.paused = false

	// First accepted beacon establishes sync (table len 1, still "unsynced"
	// so the loose 1-year bound applies and this passes).
	toa1 := clock.Now()
	b1 := beacon.FTSP{DispatchMarker: beacon.DispatchFTSP, ID: 1, Root: 1, Seq: 1, Global: toa1.Local}
	f1, _ := b1.MarshalBinary()
	e.MacRead(f1, 1, toa1)
	require.Equal(t, 1, e.table.Len())

	for i := uint16(2); i <= 4; i++ {
		toa := clock.Now()
		b := beacon.FTSP{DispatchMarker: beacon.DispatchFTSP, ID: 1, Root: 1, Seq: i, Global: toa.Local}
		f, _ := b.MarshalBinary()
		e.MacRead(f, 1, toa)
	}
	require.True(t, e.IsSynced())

	// Now a wildly implausible jump arrives: once synced, anything over
	// SaneOffsetSynced (1s) must be rejected and clear the table.
	toa := clock.Now()
	bad := beacon.FTSP{DispatchMarker: beacon.DispatchFTSP, ID: 1, Root: 1, Seq: 5, Global: toa.Local + 10_000_000}
	frame, _ := bad.MarshalBinary()
	e.MacRead(frame, 1, toa)
	require.Equal(t, 0, e.table.Len())
}

// TestSanityGateObservesAcceptedCorrections is the regression for the
// ExprGate feedback loop: every offset correction MacRead actually applies
// must flow into the gate's RateStats, so a field-tuned expression sees a
// nonzero "stddev" instead of a permanently-dry accumulator.
func TestSanityGateObservesAcceptedCorrections(t *testing.T) {
	clock := gtimer.New(counterStep(1_000_000))
	e := New(5, clock, nil)
	e.paused = false

	stats := estimator.NewRateStats()
	gate, err := estimator.NewExprGate("1000000", stats)
	require.NoError(t, err)
	e.SetSanityGate(gate)

	require.Equal(t, uint64(0), stats.Count())

	for i := uint16(1); i <= 4; i++ {
		toa := clock.Now()
		b := beacon.FTSP{DispatchMarker: beacon.DispatchFTSP, ID: 1, Root: 1, Seq: i, Global: toa.Local}
		frame, err := b.MarshalBinary()
		require.NoError(t, err)
		e.MacRead(frame, 1, toa)
	}

	require.True(t, e.IsSynced())
	require.Greater(t, stats.Count(), uint64(0))
}

func TestSetBeaconDelayAndPropTime(t *testing.T) {
	e := New(5, gtimer.New(counterStep(1000)), nil)
	e.SetBeaconDelay(5 * time.Second)
	e.SetPropTime(2220)
	require.Equal(t, 5*time.Second, e.beaconPeriod)
	require.Equal(t, uint64(2220), e.txDelay)
}

func TestDriverTimestampOverwritesGlobalWithPropDelay(t *testing.T) {
	clock := gtimer.New(counterStep(1000))
	e := New(5, clock, nil)
	e.SetPropTime(500)

	b := beacon.FTSP{DispatchMarker: beacon.DispatchFTSP, ID: 5, Root: 5, Seq: 1}
	frame, _ := b.MarshalBinary()
	require.NoError(t, e.DriverTimestamp(frame))

	var decoded beacon.FTSP
	require.NoError(t, decoded.UnmarshalBinary(frame))
	now := clock.Now()
	require.InDelta(t, float64(now.Global+500), float64(decoded.Global), 2000)
}

func TestTwoNodeConvergenceOverSimmacBus(t *testing.T) {
	bus := simmac.NewBus()
	clockA := gtimer.New(counterStep(1000))
	clockB := gtimer.New(counterStep(1000))

	transportA := simmac.NewTransport(bus, 1, clockA)
	transportB := simmac.NewTransport(bus, 2, clockB)
	defer transportA.Close()
	defer transportB.Close()

	a := New(PreferredRoot, clockA, transportA)
	b := New(2, clockB, transportB)
	a.SetBeaconDelay(20 * time.Millisecond)
	b.SetBeaconDelay(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Resume(ctx)
	b.Resume(ctx)

	require.Eventually(t, func() bool {
		return b.IsSynced()
	}, 3*time.Second, 20*time.Millisecond)
}

func TestEnabledReflectsPauseResume(t *testing.T) {
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
