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

// Package node assembles one physical sensor node: a single LogicalClock,
// a single MAC transport, and whichever of the three protocol engines the
// deployment enables, all sharing the same radio via a dispatch-marker
// demultiplexer (see beacon.Dispatch).
package node

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/meshtime/clocksync/beacon"
	"github.com/meshtime/clocksync/eval"
	"github.com/meshtime/clocksync/ftsp"
	"github.com/meshtime/clocksync/gtimer"
	"github.com/meshtime/clocksync/gtsp"
	"github.com/meshtime/clocksync/mac"
	"github.com/meshtime/clocksync/pulsesync"
)

// Engine is the common surface every protocol engine type satisfies, used
// by Node's status reporting and the cmd/clocksync shell surface.
type Engine interface {
	IsSynced() bool
	Enabled() bool
	Pause()
	Resume(ctx context.Context)
}

// Node owns one clock and up to three protocol engines layered over a
// single shared mac.Transport. Only one transceiver exists per physical
// node; Node's internal demuxTransport fan-out is what lets FTSP, GTSP and
// PulseSync coexist on it, exactly as spec.md §6.1's dispatch marker
// implies.
type Node struct {
	ID        uint16
	Clock     *gtimer.Clock
	transport mac.Transport

	FTSP      *ftsp.Engine
	GTSP      *gtsp.Engine
	PulseSync *pulsesync.Engine

	// Eval is the independent EvalPrinter observer (spec.md §6.5): it
	// shares this node's transport and clock, broadcasting its own
	// heartbeat beacon and printing an event line for every ClockSync-Eval
	// beacon dispatchLoop hands it.
	Eval *eval.Printer

	// demuxers routes an inbound frame's dispatch marker to the matching
	// engine's demuxTransport. Populated once in New; read-only thereafter.
	demuxers map[uint8]*demuxTransport

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a Node with all three engines wired to the same transport via
// independent demultiplexed views of it.
func New(id uint16, clock *gtimer.Clock, transport mac.Transport) *Node {
	n := &Node{ID: id, Clock: clock, transport: transport}

	ftspView := newDemuxTransport(transport)
	gtspView := newDemuxTransport(transport)
	pulsesyncView := newDemuxTransport(transport)

	n.FTSP = ftsp.New(id, clock, ftspView)
	n.GTSP = gtsp.New(id, clock, gtspView)
	n.PulseSync = pulsesync.New(id, clock, pulsesyncView)
	n.Eval = eval.New(id, clock, transport)

	n.demuxers = map[uint8]*demuxTransport{
		beacon.DispatchFTSP:      ftspView,
		beacon.DispatchGTSP:      gtspView,
		beacon.DispatchPulseSync: pulsesyncView,
	}
	return n
}

// Resume starts the shared receive-dispatch loop plus every engine's own
// sender loop (each engine decides independently whether it has anything
// to do once resumed).
func (n *Node) Resume(ctx context.Context) {
	n.mu.Lock()
	if n.cancel != nil {
		n.mu.Unlock()
	} else {
		runCtx, cancel := context.WithCancel(ctx)
		n.cancel = cancel
		n.mu.Unlock()
		go n.dispatchLoop(runCtx)
	}

	n.FTSP.Resume(ctx)
	n.GTSP.Resume(ctx)
	n.PulseSync.Resume(ctx)
	n.Eval.Resume(ctx)
}

// Pause stops every engine, the EvalPrinter, and the shared dispatch loop.
func (n *Node) Pause() {
	n.FTSP.Pause()
	n.GTSP.Pause()
	n.PulseSync.Pause()
	n.Eval.Pause()

	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (n *Node) dispatchLoop(ctx context.Context) {
	for {
		frame, src, toa, err := n.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debugf("node[%d]: receive: %v", n.ID, err)
			continue
		}
		marker, ok := beacon.Dispatch(frame)
		if !ok {
			continue
		}
		if marker == beacon.DispatchClockSyncEval {
			n.Eval.MacRead(frame, src, toa)
			continue
		}
		view, known := n.demuxers[marker]
		if !known {
			log.Debugf("node[%d]: unknown dispatch marker %#x", n.ID, marker)
			continue
		}
		view.deliver(frame, src, toa)
	}
}

// Close releases the underlying transport.
func (n *Node) Close() error {
	return n.transport.Close()
}
