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

const maxAge = uint64(20 * 60 * 1_000_000) // 20 minutes in microseconds

func TestInsertFillsEmptySlotsFirst(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < MaxEntries; i++ {
		tbl.Insert(uint64(i*1000), uint64(i*1000), maxAge)
	}
	require.Equal(t, MaxEntries, tbl.Len())
}

func TestInsertEvictsOldestWhenFullAndNoneStale(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < MaxEntries; i++ {
		tbl.Insert(uint64((i+1)*1000), uint64((i+1)*1000), maxAge)
	}
	require.Equal(t, MaxEntries, tbl.Len())

	// Oldest local timestamp currently in the table is 1000 (slot 0).
	tbl.Insert(999_999, 999_999, maxAge)

	found := false
	for _, e := range tbl.Entries() {
		if e.Local == 1000 {
			found = true
		}
	}
	require.False(t, found, "entry with smallest Local timestamp should have been evicted")
	require.Equal(t, MaxEntries, tbl.Len())
}

func TestInsertPrefersStaleSlotOverOldest(t *testing.T) {
	tbl := NewTable()
	// Fill table with timestamps far in the past relative to a later insert.
	for i := 0; i < MaxEntries; i++ {
		tbl.Insert(uint64(i+1), uint64(i+1), maxAge)
	}

	// Now insert at a local time far enough ahead that every existing entry
	// is stale (older than local-maxAge); the new entry must land in a slot
	// that was swept to Empty, not necessarily the single globally-oldest one.
	staleSwept := tbl.Insert(maxAge*10, maxAge*10, maxAge)
	require.Equal(t, MaxEntries, staleSwept)
	require.Equal(t, 1, tbl.Len())
}

func TestClearEmptiesTable(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(1, 1, maxAge)
	require.Equal(t, 1, tbl.Len())
	tbl.Clear()
	require.Equal(t, 0, tbl.Len())
	require.Empty(t, tbl.Entries())
}

func TestInsertUnderflowGuard(t *testing.T) {
	tbl := NewTable()
	// local < maxAge: limitAge must clamp to 0, not wrap around.
	tbl.Insert(5, 5, maxAge)
	require.Equal(t, 1, tbl.Len())
}
