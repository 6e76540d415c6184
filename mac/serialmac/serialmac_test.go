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

package serialmac

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshtime/clocksync/gtimer"
)

func newClock() *gtimer.Clock {
	var n uint64
	return gtimer.New(func() uint64 {
		n += 1000
		return n
	})
}

func TestBroadcastThenReceiveRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	sender := newTransport(a, newClock())
	receiver := newTransport(b, newClock())
	defer sender.Close()
	defer receiver.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- sender.Broadcast([]byte{0xAB, 0xCD, 0xEF}) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	frame, src, toa, err := receiver.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, []byte{0xAB, 0xCD, 0xEF}, frame)
	require.Equal(t, uint16(0), src)
	require.Greater(t, toa.Global, uint64(0))
}

func TestBroadcastRejectsOversizedFrame(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	tr := newTransport(a, newClock())

	err := tr.Broadcast(make([]byte, 256))
	require.Error(t, err)
}

func TestReceiveRespectsContextCancellation(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	tr := newTransport(b, newClock())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, _, err := tr.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
