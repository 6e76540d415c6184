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

// Package ftsp implements the Flooding Time Synchronization Protocol: a
// tree-based, root-elected engine that converges every node's LogicalClock
// to the root's via periodic beacon floods and weighted linear regression.
package ftsp

import (
	"context"
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

// Parameters from spec.md §4.3.
const (
	PreferredRoot        = uint16(1)
	DefaultBeaconPeriod  = 30 * time.Second
	MaxSyncPointAge      = uint64(20 * 60 * 1_000_000) // 20min, microseconds
	RateCalcThreshold    = 3
	EntryValidLimit      = 4
	EntrySendLimit       = 3
	RootTimeout          = 3               // beacon intervals
	IgnoreRootMsg        = 4               // beacon intervals
	EntryThrowoutLimit   = int64(300)       // microseconds
	maxConsecutiveErrors = 3
)

// Engine is one node's FTSP protocol state: its sync table, root election,
// and the periodic sender/receiver goroutines that drive them. All mutable
// state is guarded by mu, per SPEC_FULL.md §5's one-mutex-per-engine model;
// DriverTimestamp is the deliberate exception, touching only frame bytes.
type Engine struct {
	mu sync.Mutex

	nodeID    uint16
	clock     *gtimer.Clock
	table     *synctable.Table
	root      *rootelection.State
	gate      estimator.SanityGate
	transport mac.Transport

	beaconPeriod time.Duration
	txDelay      uint64 // transmission_delay calibration, microseconds
	paused       bool
	numErrors    int

	cancel context.CancelFunc
}

// New constructs an Engine. If nodeID == PreferredRoot it declares itself
// root immediately at construction, matching spec.md §3's RootState
// invariant ("a node with node_id == PREFERRED_ROOT immediately declares
// itself root at resume").
func New(nodeID uint16, clock *gtimer.Clock, transport mac.Transport) *Engine {
	e := &Engine{
		nodeID:       nodeID,
		clock:        clock,
		table:        synctable.NewTable(),
		root:         rootelection.New(nodeID),
		gate:         estimator.FixedGate{},
		transport:    transport,
		beaconPeriod: DefaultBeaconPeriod,
		txDelay:      1500, // native driver default, per spec.md §4.3
		paused:       true,
	}
	if nodeID == PreferredRoot {
		e.root.ForceRoot(nodeID)
	}
	return e
}

// SetSanityGate overrides the default fixed-threshold sanity gate (see
// SPEC_FULL.md §4.5's govaluate-expression addition).
func (e *Engine) SetSanityGate(gate estimator.SanityGate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = gate
}

// SetBeaconDelay implements the Control API's set_beacon_delay(sec).
func (e *Engine) SetBeaconDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.beaconPeriod = d
}

// SetPropTime implements the Control API's set_prop_time(us): the
// transceiver's calibrated transmission delay, added to the beacon's global
// field at DriverTimestamp time.
func (e *Engine) SetPropTime(us uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txDelay = us
}

// IsSynced implements is_synced(): true once the sync table holds enough
// accepted points, or this node is root (a root is synced with itself by
// definition).
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

// Pause implements pause(): subsequent send/receive ticks become no-ops
// until Resume. It does not preempt in-flight work, matching spec.md §5.
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

// Resume implements resume(): (re)starts the beacon sender/cyclic-driver
// goroutine and the receive loop. Calling Resume while already running is a
// no-op beyond clearing paused, mirroring "resume() may re-create the
// cyclic driver thread once, guarded by clock_pid==0".
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
	g.Go(func() error { return e.senderLoop(ctx) })
	g.Go(func() error { return e.receiveLoop(ctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Warnf("ftsp[%d]: control loop exited: %v", e.nodeID, err)
	}
}

func (e *Engine) senderLoop(ctx context.Context) error {
	e.mu.Lock()
	period := e.beaconPeriod
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
	if e.root.Tick(RootTimeout) {
		log.Infof("ftsp[%d]: no root heard within timeout, declaring self root", e.nodeID)
	}
	isRoot := e.root.IsRoot()
	shouldSend := isRoot || e.table.Len() > EntrySendLimit
	e.mu.Unlock()
	if !shouldSend {
		return
	}

	var seq uint16
	if isRoot {
		seq = e.root.NextSeq()
	} else {
		_, lastSeq, _ := e.root.Snapshot()
		seq = lastSeq
	}
	rootID, _, _ := e.root.Snapshot()

	b := beacon.FTSP{
		DispatchMarker: beacon.DispatchFTSP,
		ID:             e.nodeID,
		Root:           rootID,
		Seq:            seq,
	}
	frame, err := b.MarshalBinary()
	if err != nil {
		log.Errorf("ftsp[%d]: marshal beacon: %v", e.nodeID, err)
		return
	}
	if err := e.DriverTimestamp(frame); err != nil {
		log.Errorf("ftsp[%d]: driver timestamp: %v", e.nodeID, err)
		return
	}
	if err := e.transport.Broadcast(frame); err != nil {
		log.Warnf("ftsp[%d]: broadcast: %v", e.nodeID, err)
	}
}

// DriverTimestamp implements driver_timestamp(frame, len): it overwrites
// the beacon's global field with the freshest clock reading plus the
// calibrated transmission delay, deliberately without taking e.mu, per
// spec.md §5's jitter-minimization rule.
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
			log.Debugf("ftsp[%d]: receive: %v", e.nodeID, err)
			continue
		}
		e.MacRead(frame, src, toa)
	}
}

// MacRead implements mac_read(payload, src, toa): spec.md §4.3's full
// receive path (sequence filter, sync-table insert, regression, sanity
// gate, apply).
func (e *Engine) MacRead(payload []byte, _ uint16, toa gtimer.Timeval) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused || e.root.IsRoot() {
		return
	}

	var b beacon.FTSP
	if err := b.UnmarshalBinary(payload); err != nil {
		log.Debugf("ftsp[%d]: decode: %v", e.nodeID, err)
		return
	}

	if !e.root.OnBeacon(b.Root, b.Seq, IgnoreRootMsg) {
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
		return
	}

	estGlobal := reg.Offset + float64(toa.Local)*reg.Rate
	offsetGlobal := int64(estGlobal) - int64(toa.Global)

	if !e.gate.Allow(offsetGlobal, e.isSyncedLocked()) {
		e.table.Clear()
		return
	}

	e.clock.SetGlobalOffset(offsetGlobal)
	if obs, ok := e.gate.(estimator.Observer); ok {
		obs.Observe(offsetGlobal)
	}
	if e.table.Len() >= RateCalcThreshold {
		e.clock.SetRelativeRate(reg.Rate - 1)
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
