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

package rootelection

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const rootTimeout = 3
const ignoreRootMsg = 4

func TestSelfElectsAfterTimeout(t *testing.T) {
	s := New(5)
	require.False(t, s.RootKnown())

	for i := 0; i < rootTimeout; i++ {
		require.False(t, s.Tick(rootTimeout))
	}
	require.True(t, s.Tick(rootTimeout))
	require.True(t, s.IsRoot())

	root, seq, _ := s.Snapshot()
	require.Equal(t, uint16(5), root)
	require.Equal(t, uint16(0), seq)
}

func TestLowerRootIDWinsTieBreak(t *testing.T) {
	s := New(5)
	accepted := s.OnBeacon(1, 10, ignoreRootMsg)
	require.True(t, accepted)

	root, seq, _ := s.Snapshot()
	require.Equal(t, uint16(1), root)
	require.Equal(t, uint16(10), seq)

	// A higher root id claim must not displace the adopted lower root.
	accepted = s.OnBeacon(3, 99, ignoreRootMsg)
	require.False(t, accepted)
	root, _, _ = s.Snapshot()
	require.Equal(t, uint16(1), root)
}

func TestSameRootNewerSeqAccepted(t *testing.T) {
	s := New(5)
	s.OnBeacon(1, 10, ignoreRootMsg)

	require.True(t, s.OnBeacon(1, 11, ignoreRootMsg))
	_, seq, _ := s.Snapshot()
	require.Equal(t, uint16(11), seq)

	// Stale or equal sequence numbers from the same root are dropped.
	require.False(t, s.OnBeacon(1, 11, ignoreRootMsg))
	require.False(t, s.OnBeacon(1, 5, ignoreRootMsg))
}

func TestRecentlySelfDeclaredIgnoresLowerRootClaim(t *testing.T) {
	s := New(5)
	for i := 0; i <= rootTimeout; i++ {
		s.Tick(rootTimeout)
	}
	require.True(t, s.IsRoot())

	// A lower-id root claim arriving immediately after self-declaration is
	// ignored for ignoreRootMsg intervals, to avoid flapping.
	accepted := s.OnBeacon(1, 1, ignoreRootMsg)
	require.False(t, accepted)
	require.True(t, s.IsRoot())

	for i := 0; i < ignoreRootMsg; i++ {
		s.Tick(rootTimeout)
	}
	accepted = s.OnBeacon(1, 1, ignoreRootMsg)
	require.True(t, accepted)
	require.False(t, s.IsRoot())
}

func TestHeartBeatsResetWhenRootIsLower(t *testing.T) {
	s := New(5)
	s.OnBeacon(1, 1, ignoreRootMsg)
	s.Tick(rootTimeout)
	s.Tick(rootTimeout)
	_, _, hb := s.Snapshot()
	require.Equal(t, 0, hb)
}

func TestNextSeqIncrementsMonotonically(t *testing.T) {
	s := New(1)
	for i := 0; i < 3; i++ {
		s.Tick(0)
	}
	require.True(t, s.IsRoot())
	require.Equal(t, uint16(1), s.NextSeq())
	require.Equal(t, uint16(2), s.NextSeq())
}

func TestResetForgetsRoot(t *testing.T) {
	s := New(5)
	s.OnBeacon(1, 10, ignoreRootMsg)
	s.Reset()
	require.False(t, s.RootKnown())
	root, seq, hb := s.Snapshot()
	require.Equal(t, NoRoot, root)
	require.Equal(t, uint16(0), seq)
	require.Equal(t, 0, hb)
}

func TestForceRootPinsRootImmediately(t *testing.T) {
	s := New(1)
	s.ForceRoot(1)
	require.True(t, s.IsRoot())

	other := New(2)
	other.ForceRoot(1)
	require.False(t, other.IsRoot())
	root, _, _ := other.Snapshot()
	require.Equal(t, uint16(1), root)
}
