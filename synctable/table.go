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

// Package synctable implements the fixed-capacity sync-point stores used by
// FTSP/PulseSync (Table, one (local, global) observation per slot) and GTSP
// (NeighborTable, one slot per neighbor). Neither type is safe for
// concurrent use on its own: callers hold the owning protocol engine's
// single mutex around every call, per the concurrency model in SPEC_FULL.md
// §5.
package synctable

// MaxEntries is the FTSP/PulseSync regression table capacity.
const MaxEntries = 8

// State marks whether a table slot currently holds an observation.
type State uint8

// Slot states.
const (
	Empty State = iota
	Full
)

// Point is one (local time, peer global time) observation, as received by
// FTSP or PulseSync.
type Point struct {
	State  State
	Local  uint64
	Global uint64
}

// Table is the FTSP/PulseSync regression table: a flat array scanned on
// every insert, because the eviction rule (prefer a stale slot, else the
// globally oldest slot) is not a FIFO and doesn't fit a ring buffer.
type Table struct {
	entries [MaxEntries]Point
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// Clear empties every slot.
func (t *Table) Clear() {
	for i := range t.entries {
		t.entries[i] = Point{}
	}
}

// Len reports the number of FULL slots.
func (t *Table) Len() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].State == Full {
			n++
		}
	}
	return n
}

// Entries returns the FULL slots, in array order. The slice aliases no
// internal storage past the call (it's a fresh copy), so callers may hold
// onto it.
func (t *Table) Entries() []Point {
	out := make([]Point, 0, MaxEntries)
	for i := range t.entries {
		if t.entries[i].State == Full {
			out = append(out, t.entries[i])
		}
	}
	return out
}

// Insert applies spec.md §4.3 step 3 / the PulseSync add_new_entry
// algorithm: entries older than (nowLocal - maxAge) are swept to Empty
// first; the insert then prefers the first Empty slot, falling back to the
// slot with the smallest Local timestamp (the globally oldest entry) when
// the table has no Empty slot. It returns the number of slots it marked
// stale so callers can fold that into a staleness metric if desired.
func (t *Table) Insert(local, global, maxAge uint64) (staleSwept int) {
	var limitAge uint64
	if local > maxAge {
		limitAge = local - maxAge
	} // else limitAge stays 0: unsigned underflow guard from spec.md §4.3.

	freeItem := -1
	oldestItem := 0
	oldestTime := ^uint64(0) // max uint64

	for i := range t.entries {
		if t.entries[i].State == Full && t.entries[i].Local < limitAge {
			t.entries[i].State = Empty
			staleSwept++
		}
		if t.entries[i].State == Empty && freeItem < 0 {
			freeItem = i
		}
		if t.entries[i].Local < oldestTime {
			oldestTime = t.entries[i].Local
			oldestItem = i
		}
	}

	slot := freeItem
	if slot < 0 {
		slot = oldestItem
	}

	t.entries[slot] = Point{State: Full, Local: local, Global: global}
	return staleSwept
}
