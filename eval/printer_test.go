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

package eval

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/meshtime/clocksync/beacon"
	"github.com/meshtime/clocksync/gtimer"
)

func counterStep(step uint64) gtimer.HardwareCounter {
	var n uint64
	return func() uint64 {
		n += step
		return n
	}
}

func TestHeartbeatPrintsEhLine(t *testing.T) {
	clock := gtimer.New(counterStep(1000))
	p := New(5, clock, nil)
	var buf bytes.Buffer
	p.SetOutput(&buf)

	p.heartbeat()
	require.Contains(t, buf.String(), "#eh, a:5, c:1, gl:")
}

func TestMacReadPrintsEtLine(t *testing.T) {
	clock := gtimer.New(counterStep(1000))
	p := New(5, clock, nil)
	var buf bytes.Buffer
	p.SetOutput(&buf)

	b := beacon.Eval{DispatchMarker: beacon.DispatchClockSyncEval, Counter: 42}
	frame, err := b.MarshalBinary()
	require.NoError(t, err)

	toa := clock.Now()
	p.MacRead(frame, 9, toa)
	require.Contains(t, buf.String(), "#et, a:9, c:42, tl:")
}

func TestResumeEmitsPeriodicHeartbeats(t *testing.T) {
	clock := gtimer.New(counterStep(1000))
	p := New(5, clock, nil)
	p.SetInterval(10 * time.Millisecond)
	var buf bytes.Buffer
	p.SetOutput(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Resume(ctx)

	require.Eventually(t, func() bool {
		return buf.Len() > 0
	}, time.Second, 10*time.Millisecond)
	p.Pause()
}

func TestCountersTrackEmittedRecords(t *testing.T) {
	clock := gtimer.New(counterStep(1000))
	p := New(5, clock, nil)
	var buf bytes.Buffer
	p.SetOutput(&buf)

	p.heartbeat()
	p.heartbeat()
	require.Equal(t, float64(2), testutil.ToFloat64(p.countHeartbeats))
}
