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

// Package rootelection implements the FTSP/PulseSync root arbitration state
// machine: a sequence-number driven election with "lowest node id wins" as
// its tie-break, shared by both protocols since PulseSync only differs in
// that its root is pinned rather than re-elected.
package rootelection

import "sync"

// NoRoot is the sentinel meaning "no root known yet". Any real node id
// compares less than it, so the first beacon a node ever hears is always
// adopted.
const NoRoot = uint16(0xFFFF)

// State is one node's view of the election: who it believes the root is,
// the root's latest sequence number, and how long it's been waiting for a
// root to appear. Tick, OnBeacon, NextSeq, ForceRoot and Reset mutate it.
// Every method except NodeID takes State's own mutex, because the engines
// call some of them (NextSeq, Snapshot) outside their own lock.
type State struct {
	mu sync.Mutex

	nodeID uint16
	rootID uint16
	seq    uint16

	heartBeats int

	selfDeclared   bool
	ticksSinceSelf int
}

// New returns election state for nodeID with no root known yet.
func New(nodeID uint16) *State {
	return &State{nodeID: nodeID, rootID: NoRoot}
}

// Tick advances the election by one beacon interval. If no root is known
// and heartBeats exceeds rootTimeout, the node declares itself root (seq
// resets to 0) and Tick reports becameRoot=true.
func (s *State) Tick(rootTimeout int) (becameRoot bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selfDeclared {
		s.ticksSinceSelf++
	}

	if s.rootID == NoRoot {
		s.heartBeats++
		if s.heartBeats > rootTimeout {
			s.rootID = s.nodeID
			s.seq = 0
			s.selfDeclared = true
			s.ticksSinceSelf = 0
			becameRoot = true
		}
	}

	if s.rootID < s.nodeID {
		s.heartBeats = 0
	}
	return becameRoot
}

// OnBeacon processes an incoming root/seq claim from another node, applying
// spec.md §4.7's adoption rule: a lower root id always wins unless this
// node recently declared itself root (within ignoreRootMsg intervals, to
// avoid flapping back to a root that's about to time out on its own); a
// beacon from the currently-adopted root with a newer sequence number
// advances seq. It reports whether the claim changed this node's state.
func (s *State) OnBeacon(root, seq uint16, ignoreRootMsg int) (accepted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recentlySelf := s.selfDeclared && s.ticksSinceSelf < ignoreRootMsg

	switch {
	case root < s.rootID && !recentlySelf:
		s.rootID = root
		s.seq = seq
		s.selfDeclared = false
		accepted = true
	case root == s.rootID && seqNewer(seq, s.seq):
		s.seq = seq
		accepted = true
	}

	if s.rootID < s.nodeID {
		s.heartBeats = 0
	}
	return accepted
}

// seqNewer reports whether b is a newer sequence number than a. spec.md
// leaves u16 wrap-around undefined (see DESIGN.md); this is a plain
// greater-than, matching the original source.
func seqNewer(b, a uint16) bool {
	return b > a
}

// NextSeq increments and returns this node's own sequence number. Only
// meaningful when IsRoot() — only the root hands out new sequence numbers.
func (s *State) NextSeq() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// IsRoot reports whether this node currently believes itself to be root.
func (s *State) IsRoot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootID == s.nodeID
}

// RootKnown reports whether any root (self or other) is currently known.
func (s *State) RootKnown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootID != NoRoot
}

// Snapshot returns the current root id, sequence number, and heartbeat
// count, for status reporting.
func (s *State) Snapshot() (rootID, seq uint16, heartBeats int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootID, s.seq, s.heartBeats
}

// NodeID returns this node's own id.
func (s *State) NodeID() uint16 {
	return s.nodeID
}

// Reset forgets the current root, as if the node had just booted.
// Neither engine nor the shell surface calls it; PulseSync's root is fixed
// via ForceRoot.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootID = NoRoot
	s.seq = 0
	s.heartBeats = 0
	s.selfDeclared = false
	s.ticksSinceSelf = 0
}

// ForceRoot pins root to preferredRoot immediately, without waiting out
// rootTimeout. PulseSync uses this at startup (spec.md §4.6: "Root is
// fixed"); ftsp.New also calls it when the node itself is the preferred
// root.
func (s *State) ForceRoot(preferredRoot uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootID = preferredRoot
	s.seq = 0
	s.selfDeclared = preferredRoot == s.nodeID
	s.ticksSinceSelf = 0
	s.heartBeats = 0
}
