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

// Package gtsp implements the Gradient Time Synchronization Protocol: a
// fully decentralized engine where every node averages its clock against
// its immediate neighbors rather than converging to an elected root.
package gtsp

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
	"github.com/meshtime/clocksync/synctable"
)

// Parameters from spec.md §4.4.
const (
	DefaultBeaconPeriod = 15 * time.Second // within spec.md's 5-30s range
	JumpThreshold       = int64(10)        // microseconds
	MovingAlpha         = 0.9
)

// Engine is one node's GTSP protocol state: its neighbor table and the
// periodic sender/receiver goroutines that drive it. GTSP has no root
// election — every node is symmetric.
type Engine struct {
	mu sync.Mutex

	nodeID    uint16
	clock     *gtimer.Clock
	neighbors *synctable.NeighborTable
	transport mac.Transport
	rateStats *estimator.RateStats

	beaconPeriod time.Duration
	paused       bool
	jumped       bool

	cancel context.CancelFunc
}

// New constructs an Engine for nodeID.
func New(nodeID uint16, clock *gtimer.Clock, transport mac.Transport) *Engine {
	return &Engine{
		nodeID:       nodeID,
		clock:        clock,
		neighbors:    synctable.NewNeighborTable(),
		transport:    transport,
		rateStats:    estimator.NewRateStats(),
		beaconPeriod: DefaultBeaconPeriod,
		paused:       true,
	}
}

// RateStats exposes the observational welford accumulator over filtered
// relative-rate samples. eval.Printer does not report it, and it never
// feeds back into the applied rate.
func (e *Engine) RateStats() *estimator.RateStats {
	return e.rateStats
}

// SetBeaconDelay implements set_beacon_delay(sec).
func (e *Engine) SetBeaconDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.beaconPeriod = d
}

// IsSynced reports whether this node has at least one tracked neighbor.
// GTSP has no single authoritative notion of "synced" the way a rooted
// protocol does, so a non-empty neighbor table is used as the proxy. How
// long ago a neighbor was last heard from is not checked.
func (e *Engine) IsSynced() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.neighbors.Len() > 0
}

// NeighborCount reports how many neighbors are currently tracked.
func (e *Engine) NeighborCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.neighbors.Len()
}

// Enabled reports whether the engine is currently running (as opposed to
// paused).
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.paused
}

// Trigger forces a neighbor-table entry for addr into existence, per the
// shell surface's "gtsp trigger add <addr>" — useful to pin a slot before
// that neighbor has ever beaconed.
func (e *Engine) Trigger(addr uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.neighbors.GetOrCreate(addr)
}

// Untrigger drops addr from the neighbor table, per "gtsp trigger rm <addr>".
func (e *Engine) Untrigger(addr uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.neighbors.Remove(addr)
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

// Resume implements resume().
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
		log.Warnf("gtsp[%d]: control loop exited: %v", e.nodeID, err)
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
	paused := e.paused
	e.mu.Unlock()
	if paused {
		return
	}

	b := beacon.GTSP{DispatchMarker: beacon.DispatchGTSP}
	frame, err := b.MarshalBinary()
	if err != nil {
		log.Errorf("gtsp[%d]: marshal beacon: %v", e.nodeID, err)
		return
	}
	if err := e.DriverTimestamp(frame); err != nil {
		log.Errorf("gtsp[%d]: driver timestamp: %v", e.nodeID, err)
		return
	}
	if err := e.transport.Broadcast(frame); err != nil {
		log.Warnf("gtsp[%d]: broadcast: %v", e.nodeID, err)
	}
}

// DriverTimestamp implements driver_timestamp(frame, len) for GTSP: it
// overwrites Local, Global and RelativeRate with a freshest clock reading,
// without taking e.mu (spec.md §5's jitter-minimization rule).
func (e *Engine) DriverTimestamp(frame []byte) error {
	return beacon.StampGTSP(frame, e.clock)
}

func (e *Engine) receiveLoop(ctx context.Context) error {
	for {
		frame, src, toa, err := e.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Debugf("gtsp[%d]: receive: %v", e.nodeID, err)
			continue
		}
		e.MacRead(frame, src, toa)
	}
}

// MacRead implements mac_read(payload, src, toa): spec.md §4.4's receive
// path (per-neighbor rate filter, jump detection, neighborhood rate/offset
// averaging).
func (e *Engine) MacRead(payload []byte, src uint16, toa gtimer.Timeval) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return
	}

	var b beacon.GTSP
	if err := b.UnmarshalBinary(payload); err != nil {
		log.Debugf("gtsp[%d]: decode: %v", e.nodeID, err)
		return
	}

	sp := e.neighbors.Lookup(src)
	jumpedThisRound := false
	if sp != nil {
		current := estimator.CurrentRate(toa.Local, sp, b.Local, b.RelativeRate)
		sp.RelativeRate = estimator.FilterRate(sp.RelativeRate, current, MovingAlpha)
		e.rateStats.Observe(sp.RelativeRate)
	} else {
		sp = e.neighbors.GetOrCreate(src)
	}

	sp.Src = src
	sp.LocalLocal = toa.Local
	sp.LocalGlobal = toa.Global
	sp.RemoteLocal = b.Local
	sp.RemoteGlobal = b.Global
	sp.RemoteRate = b.RelativeRate

	if int64(b.Global)-int64(toa.Global) > JumpThreshold {
		e.clock.SetGlobalOffset(int64(b.Global) - int64(toa.Global))
		e.jumped = true
		jumpedThisRound = true
	}

	neighbors := e.neighbors.All()
	newRate := estimator.AverageRate(e.clock.RelativeRate(), neighbors)
	e.clock.SetRelativeRate(newRate)

	if correction, apply := estimator.OffsetCorrection(neighbors, JumpThreshold, e.jumped); apply {
		e.clock.SetGlobalOffset(correction)
	}
	if jumpedThisRound {
		e.jumped = false
	}
}
