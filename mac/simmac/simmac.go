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

// Package simmac implements mac.Transport as an in-process broadcast bus:
// every node sharing a *Bus hears every other node's frames with no real
// I/O involved. This is the transport behind the two-node convergence tests
// of the ftsp, gtsp, pulsesync and node packages and is the default for
// unit tests throughout the repo, the way the teacher's clock package favors an injectable fake over
// a real syscall in its own unit tests.
package simmac

import (
	"context"
	"sync"

	"github.com/meshtime/clocksync/gtimer"
	"github.com/meshtime/clocksync/mac"
)

// inboxSize bounds how many un-consumed frames a node tolerates before new
// broadcasts are silently dropped for it — the simulated analogue of spec.md
// §5's "beacons are best-effort" back-pressure policy.
const inboxSize = 32

type frameMsg struct {
	frame []byte
	src   uint16
}

// Bus is the shared medium a group of simmac Transports broadcast on. The
// zero value is not usable; construct with NewBus.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*Transport]chan frameMsg
}

// NewBus returns an empty bus ready for nodes to Join.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[*Transport]chan frameMsg)}
}

func (b *Bus) join(t *Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = t.inbox
}

func (b *Bus) leave(t *Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, t)
}

func (b *Bus) broadcast(from *Transport, frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub, inbox := range b.subscribers {
		if sub == from {
			continue
		}
		select {
		case inbox <- frameMsg{frame: cp, src: from.nodeID}:
		default:
			// inbox full: drop, matching the MAC's best-effort contract.
		}
	}
}

// Transport is one node's view of a Bus.
type Transport struct {
	bus    *Bus
	nodeID uint16
	clock  *gtimer.Clock
	inbox  chan frameMsg
}

var _ mac.Transport = (*Transport)(nil)

// NewTransport joins bus as nodeID, timestamping received frames against
// clock (the node's own LogicalClock — SPEC_FULL.md §4.11 requires Receive
// to stamp arrival as close to the wire as the transport allows).
func NewTransport(bus *Bus, nodeID uint16, clock *gtimer.Clock) *Transport {
	t := &Transport{
		bus:    bus,
		nodeID: nodeID,
		clock:  clock,
		inbox:  make(chan frameMsg, inboxSize),
	}
	bus.join(t)
	return t
}

// Broadcast implements mac.Transport.
func (t *Transport) Broadcast(frame []byte) error {
	t.bus.broadcast(t, frame)
	return nil
}

// Receive implements mac.Transport.
func (t *Transport) Receive(ctx context.Context) ([]byte, uint16, gtimer.Timeval, error) {
	select {
	case m := <-t.inbox:
		return m.frame, m.src, t.clock.Now(), nil
	case <-ctx.Done():
		return nil, 0, gtimer.Timeval{}, ctx.Err()
	}
}

// Close implements mac.Transport.
func (t *Transport) Close() error {
	t.bus.leave(t)
	return nil
}
