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

package synctable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeighborTableAddGet(t *testing.T) {
	nt := NewNeighborTable()
	n := nt.GetOrCreate(5)
	n.RemoteGlobal = 12345

	got := nt.Lookup(5)
	require.Same(t, n, got)
	require.Equal(t, uint64(12345), got.RemoteGlobal)
}

func TestNeighborTableRoundRobinEviction(t *testing.T) {
	nt := NewNeighborTable()
	for src := uint16(0); src < MaxNeighbors; src++ {
		nt.GetOrCreate(src)
	}
	require.Equal(t, MaxNeighbors, nt.Len())

	// table is full: next new source should evict src 0, the oldest.
	nt.GetOrCreate(MaxNeighbors)
	require.Nil(t, nt.Lookup(0))
	require.NotNil(t, nt.Lookup(MaxNeighbors))
	require.Equal(t, MaxNeighbors, nt.Len())

	nt.GetOrCreate(MaxNeighbors + 1)
	require.Nil(t, nt.Lookup(1))
}

func TestNeighborTableGetOrCreateIdempotent(t *testing.T) {
	nt := NewNeighborTable()
	a := nt.GetOrCreate(1)
	b := nt.GetOrCreate(1)
	require.Same(t, a, b)
	require.Equal(t, 1, nt.Len())
}

func TestNeighborTableRemove(t *testing.T) {
	nt := NewNeighborTable()
	nt.GetOrCreate(1)
	nt.GetOrCreate(2)
	require.Equal(t, 2, nt.Len())

	nt.Remove(1)
	require.Nil(t, nt.Lookup(1))
	require.NotNil(t, nt.Lookup(2))
	require.Equal(t, 1, nt.Len())

	// removing an untracked source is a no-op
	nt.Remove(99)
	require.Equal(t, 1, nt.Len())
}

func TestNeighborTableRemoveThenReuseSlot(t *testing.T) {
	nt := NewNeighborTable()
	for src := uint16(0); src < MaxNeighbors; src++ {
		nt.GetOrCreate(src)
	}
	nt.Remove(3)
	require.Equal(t, MaxNeighbors-1, nt.Len())

	nt.GetOrCreate(100)
	require.Equal(t, MaxNeighbors, nt.Len())
	require.NotNil(t, nt.Lookup(100))
}
