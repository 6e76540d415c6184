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

import "container/ring"

// MaxNeighbors is the GTSP neighbor table capacity.
const MaxNeighbors = 10

// Neighbor is one GTSP peer observation: the local view of when the last
// beacon from src arrived, the peer's claimed (local, global) at send time,
// and the filtered relative-rate estimate for that peer.
type Neighbor struct {
	Src          uint16
	LocalLocal   uint64
	LocalGlobal  uint64
	RemoteLocal  uint64
	RemoteGlobal uint64
	RemoteRate   float32
	RelativeRate float64
}

// NeighborTable is the GTSP neighbor map: at most one entry per source,
// round-robin eviction of the oldest slot once capacity is reached. Unlike
// Table, this genuinely is FIFO (a new, never-seen neighbor always displaces
// whichever neighbor was inserted longest ago), so it is grounded on
// container/ring the way sptp/client's slidingWindow is.
type NeighborTable struct {
	size    int
	current *ring.Ring // each Value is a *Neighbor, or nil if unused
	bySrc   map[uint16]*Neighbor
}

// NewNeighborTable returns an empty table.
func NewNeighborTable() *NeighborTable {
	return &NeighborTable{
		current: ring.New(MaxNeighbors),
		bySrc:   make(map[uint16]*Neighbor, MaxNeighbors),
	}
}

// Lookup returns the existing Neighbor for src, or nil if none is tracked.
func (nt *NeighborTable) Lookup(src uint16) *Neighbor {
	return nt.bySrc[src]
}

// GetOrCreate returns the existing Neighbor for src if present; otherwise it
// allocates a new slot, evicting the oldest one if the table is full.
func (nt *NeighborTable) GetOrCreate(src uint16) *Neighbor {
	if n := nt.bySrc[src]; n != nil {
		return n
	}

	if nt.size < MaxNeighbors && nt.current.Value != nil {
		// A Remove left a free slot away from the cursor: fill that slot
		// and leave the cursor where it is.
		n := &Neighbor{Src: src}
		for r := nt.current.Next(); r != nt.current; r = r.Next() {
			if r.Value == nil {
				r.Value = n
				break
			}
		}
		nt.size++
		nt.bySrc[src] = n
		return n
	}

	if nt.size == MaxNeighbors {
		if evicted, ok := nt.current.Value.(*Neighbor); ok && evicted != nil {
			delete(nt.bySrc, evicted.Src)
		}
	} else {
		nt.size++
	}

	n := &Neighbor{Src: src}
	nt.current.Value = n
	nt.current = nt.current.Next()
	nt.bySrc[src] = n
	return n
}

// Remove drops src from the table, if present, freeing its ring slot for the
// next GetOrCreate. It is a no-op if src isn't tracked.
func (nt *NeighborTable) Remove(src uint16) {
	if _, ok := nt.bySrc[src]; !ok {
		return
	}
	delete(nt.bySrc, src)
	nt.size--

	r := nt.current
	for i := 0; i < MaxNeighbors; i++ {
		if n, ok := r.Value.(*Neighbor); ok && n != nil && n.Src == src {
			r.Value = nil
			return
		}
		r = r.Next()
	}
}

// Len reports how many neighbors are currently tracked.
func (nt *NeighborTable) Len() int {
	return nt.size
}

// All returns every tracked neighbor, in round-robin insertion order
// (oldest first).
func (nt *NeighborTable) All() []*Neighbor {
	out := make([]*Neighbor, 0, nt.size)
	r := nt.current
	for i := 0; i < MaxNeighbors; i++ {
		if n, ok := r.Value.(*Neighbor); ok && n != nil {
			out = append(out, n)
		}
		r = r.Next()
	}
	return out
}
