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

// Package pulsesync implements PulseSync: FTSP's regression and sync-table
// machinery, but with a fixed root (no dynamic re-election) and a rapid
// flood driven by randomized per-hop retransmission instead of a periodic
// beacon ticker.
package pulsesync

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/meshtime/clocksync/beacon"
	"github.com/meshtime/clocksync/estimator"
	"github.com/meshtime/clocksync/gtimer"
	"github.com/meshtime/clocksync/mac"
	"github.com/meshtime/clocksync/rootelection"
	"github.com/meshtime/clocksync/synctable"
)

// Parameters from spec.md §4.3/§4.6.
const (
	PreferredRoot       = uint16(1)
	DefaultFloodPeriod  = 30 * time.Second // root's own periodic flood trigger
	MinRetransmitDelay  = 1000 * time.Microsecond
	RetransmitJitterMax = 10000 * time.Microsecond
	MaxSyncPointAge     = uint64(20 * 60 * 1_000_000)
	RateCalcThreshold   = 3
	EntryValidLimit     = 4
	EntryThrowoutLimit  = int64(300)
	maxConsecutiveErrors = 3
)

// Engine is one node's PulseSync state. Unlike ftsp.Engine it carries no
// rootelection heartbeat timer: the root is pinned at construction via
// rootelection.State.ForceRoot and never reconsidered.
type Engine struct {
	mu sync.Mutex

	nodeID    uint16
	clock     *gtimer.Clock
	table     *synctable.Table
	root      *rootelection.State
	gate      estimator.SanityGate
	transport mac.Transport

	floodPeriod time.Duration
	txDelay     uint64
	paused      bool
	numErrors   int

	cancel context.CancelFunc
}

// New constructs an Engine pinned to PreferredRoot.
func New(nodeID uint16, clock *gtimer.Clock, transport mac.Transport) *Engine {
	e := &Engine{
		nodeID:      nodeID,
		clock:       clock,
		table:       synctable.NewTable(),
		root:        rootelection.New(nodeID),
		gate:        estimator.FixedGate{},
		transport:   transport,
		floodPeriod: DefaultFloodPeriod,
		txDelay:     1500,
		paused:      true,
	}
	e.root.ForceRoot(PreferredRoot)
	return e
}

// SetSanityGate overrides the default fixed-threshold sanity gate.
func (e *Engine) SetSanityGate(gate estimator.SanityGate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = gate
}

// SetFloodPeriod sets how often the root re-triggers a flood. Non-root
// nodes never consult this value; they only ever retransmit in direct
// response to a received beacon.
func (e *Engine) SetFloodPeriod(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.floodPeriod = d
}

// SetPropTime sets the calibrated transmission delay added at stamp time.
func (e *Engine) SetPropTime(us uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txDelay = us
}

// IsSynced reports whether the node is root, or holds enough accepted
// points in its table.
func (e *Engine) IsSynced() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isSyncedLocked()
}

func (e *Engine) isSyncedLocked() bool {
	return e.table.Len() >= EntryValidLimit || e.root.IsRoot()
}

// Enabled reports whether the engine is currently running (as opposed to
// paused).
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.paused
}

// Pause implements pause().
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Resume implements resume(): starts the root's periodic flood trigger (if
// root) and the receive loop.
func (e *Engine) Resume(ctx context.Context) {
	e.mu.Lock()
	if e.cancel != nil {
		e.paused = false
		e.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.paused = false
	e.mu.Unlock()

	go e.run(runCtx)
}

func (e *Engine) run(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	if e.root.IsRoot() {
		g.Go(func() error { return e.floodLoop(ctx) })
	}
	g.Go(func() error { return e.receiveLoop(ctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Warnf("pulsesync[%d]: control loop exited: %v", e.nodeID, err)
	}
}

// floodLoop is the root's periodic wavefront trigger (spec.md §4.3's
// periodic beacon, repurposed by §4.6 as the flood's origin).
func (e *Engine) floodLoop(ctx context.Context) error {
	e.mu.Lock()
	period := e.floodPeriod
	e.mu.Unlock()

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.sendBeacon()
		}
	}
}

func (e *Engine) sendBeacon() {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return
	}
	seq := e.root.NextSeq()
	rootID, _, _ := e.root.Snapshot()
	e.mu.Unlock()

	b := beacon.PulseSync{
		DispatchMarker: beacon.DispatchPulseSync,
		ID:             e.nodeID,
		Root:           rootID,
		Seq:            seq,
	}
	e.transmit(b)
}

func (e *Engine) transmit(b beacon.PulseSync) {
	frame, err := b.MarshalBinary()
	if err != nil {
		log.Errorf("pulsesync[%d]: marshal beacon: %v", e.nodeID, err)
		return
	}
	if err := e.DriverTimestamp(frame); err != nil {
		log.Errorf("pulsesync[%d]: driver timestamp: %v", e.nodeID, err)
		return
	}
	if err := e.transport.Broadcast(frame); err != nil {
		log.Warnf("pulsesync[%d]: broadcast: %v", e.nodeID, err)
	}
}

// DriverTimestamp overwrites the beacon's global field with a fresh clock
// reading plus calibrated transmission delay, without taking e.mu.
func (e *Engine) DriverTimestamp(frame []byte) error {
	return beacon.StampFTSP(frame, e.clock, e.txDelay)
}

func (e *Engine) receiveLoop(ctx context.Context) error {
	for {
		frame, src, toa, err := e.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Debugf("pulsesync[%d]: receive: %v", e.nodeID, err)
			continue
		}
		e.MacRead(ctx, frame, src, toa)
	}
}

// MacRead implements mac_read(payload, src, toa) for PulseSync: FTSP's
// sequence filter, sync-table insert, regression, sanity gate and apply,
// followed by spec.md §4.6's random-delay retransmission schedule rather
// than a periodic re-broadcast.
func (e *Engine) MacRead(ctx context.Context, payload []byte, _ uint16, toa gtimer.Timeval) {
	e.mu.Lock()

	if e.paused || e.root.IsRoot() {
		e.mu.Unlock()
		return
	}

	var b beacon.PulseSync
	if err := b.UnmarshalBinary(payload); err != nil {
		log.Debugf("pulsesync[%d]: decode: %v", e.nodeID, err)
		e.mu.Unlock()
		return
	}

	if !e.root.OnBeacon(b.Root, b.Seq, 0) {
		e.mu.Unlock()
		return
	}

	timeError := int64(b.Global) - int64(toa.Global)
	if e.isSyncedLocked() && abs64(timeError) > EntryThrowoutLimit {
		e.numErrors++
		if e.numErrors > maxConsecutiveErrors {
			e.table.Clear()
			e.numErrors = 0
		}
	} else {
		e.numErrors = 0
	}

	e.table.Insert(toa.Local, b.Global, MaxSyncPointAge)

	reg, ok := estimator.Regress(e.table.Entries())
	if !ok {
		e.mu.Unlock()
		return
	}

	estGlobal := reg.Offset + float64(toa.Local)*reg.Rate
	offsetGlobal := int64(estGlobal) - int64(toa.Global)

	if !e.gate.Allow(offsetGlobal, e.isSyncedLocked()) {
		e.table.Clear()
		e.mu.Unlock()
		return
	}

	e.clock.SetGlobalOffset(offsetGlobal)
	if obs, ok := e.gate.(estimator.Observer); ok {
		obs.Observe(offsetGlobal)
	}
	if e.table.Len() >= RateCalcThreshold {
		e.clock.SetRelativeRate(reg.Rate - 1)
	}

	rootID, seq, _ := e.root.Snapshot()
	e.mu.Unlock()

	// Schedule our own retransmission after a random propagation delay,
	// forming the rapid wavefront described in spec.md §4.6. This runs
	// detached from e.mu so it never blocks the receive loop.
	delay := MinRetransmitDelay + time.Duration(rand.Int63n(int64(RetransmitJitterMax)))
	go e.retransmitAfter(ctx, delay, beacon.PulseSync{
		DispatchMarker: beacon.DispatchPulseSync,
		ID:             e.nodeID,
		Root:           rootID,
		Seq:            seq,
	})
}

func (e *Engine) retransmitAfter(ctx context.Context, delay time.Duration, b beacon.PulseSync) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	e.mu.Lock()
	paused := e.paused
	e.mu.Unlock()
	if paused {
		return
	}
	e.transmit(b)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
