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

// Package eval implements EvalPrinter: an independent observer that emits
// the spec's line-oriented heartbeat/event records to stdout, and mirrors
// the same counters as Prometheus gauges for a monitoring endpoint.
package eval

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/meshtime/clocksync/beacon"
	"github.com/meshtime/clocksync/gtimer"
	"github.com/meshtime/clocksync/mac"
)

// DefaultInterval is the heartbeat period.
const DefaultInterval = 10 * time.Second

// Printer is the EvalPrinter: it periodically broadcasts an Eval beacon
// and prints a heartbeat line, and prints an event line whenever it
// observes one from a peer.
type Printer struct {
	mu sync.Mutex

	addr      uint16
	clock     *gtimer.Clock
	transport mac.Transport
	interval  time.Duration
	out       io.Writer

	counter uint32

	registry    *prometheus.Registry
	gaugeLocal  prometheus.Gauge
	gaugeGlobal prometheus.Gauge
	gaugeRate   prometheus.Gauge
	countHeartbeats prometheus.Counter
	countEvents prometheus.Counter

	cancel context.CancelFunc
}

// New constructs a Printer for addr, writing to os.Stdout by default.
func New(addr uint16, clock *gtimer.Clock, transport mac.Transport) *Printer {
	registry := prometheus.NewRegistry()
	p := &Printer{
		addr:      addr,
		clock:     clock,
		transport: transport,
		interval:  DefaultInterval,
		out:       os.Stdout,
		registry:  registry,
		gaugeLocal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clocksync_eval_local_microseconds", Help: "Last heartbeat's local hardware time.",
		}),
		gaugeGlobal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clocksync_eval_global_microseconds", Help: "Last heartbeat's synchronized global time.",
		}),
		gaugeRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clocksync_eval_relative_rate_ppb", Help: "Last heartbeat's relative rate correction, in parts per billion.",
		}),
		countHeartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clocksync_eval_heartbeats_total", Help: "Heartbeats emitted.",
		}),
		countEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clocksync_eval_events_total", Help: "Eval beacons received from peers.",
		}),
	}
	registry.MustRegister(p.gaugeLocal, p.gaugeGlobal, p.gaugeRate, p.countHeartbeats, p.countEvents)
	return p
}

// Registry exposes the Printer's Prometheus registry so a caller can mount
// it under its own HTTP server instead of calling ServeMetrics directly.
func (p *Printer) Registry() *prometheus.Registry {
	return p.registry
}

// SetOutput redirects the line-oriented output, mainly for tests.
func (p *Printer) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = w
}

// SetInterval overrides the heartbeat period.
func (p *Printer) SetInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
}

// Resume starts the heartbeat loop.
func (p *Printer) Resume(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	period := p.interval
	p.mu.Unlock()

	go p.heartbeatLoop(runCtx, period)
}

// Pause stops the heartbeat loop.
func (p *Printer) Pause() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Printer) heartbeatLoop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.heartbeat()
		}
	}
}

func (p *Printer) heartbeat() {
	counter := atomic.AddUint32(&p.counter, 1)
	now := p.clock.Now()

	if p.transport != nil {
		b := beacon.Eval{DispatchMarker: beacon.DispatchClockSyncEval, Counter: counter}
		frame, err := b.MarshalBinary()
		if err == nil {
			if err := p.transport.Broadcast(frame); err != nil {
				log.Debugf("eval[%d]: broadcast: %v", p.addr, err)
			}
		}
	}

	p.mu.Lock()
	out := p.out
	p.mu.Unlock()

	fmt.Fprintf(out, "#eh, a:%d, c:%d, gl:%d, gg:%d, gr:%d\n",
		p.addr, counter, now.Local, now.Global, int64(now.Rate*1e9))

	p.gaugeLocal.Set(float64(now.Local))
	p.gaugeGlobal.Set(float64(now.Global))
	p.gaugeRate.Set(now.Rate * 1e9)
	p.countHeartbeats.Inc()
}

// MacRead handles an inbound Eval beacon: spec.md §6.5's "#et" event line.
func (p *Printer) MacRead(payload []byte, src uint16, toa gtimer.Timeval) {
	var b beacon.Eval
	if err := b.UnmarshalBinary(payload); err != nil {
		log.Debugf("eval[%d]: decode: %v", p.addr, err)
		return
	}

	p.mu.Lock()
	out := p.out
	p.mu.Unlock()

	fmt.Fprintf(out, "#et, a:%d, c:%d, tl:%d, tg:%d\n", src, b.Counter, toa.Local, toa.Global)
	p.countEvents.Inc()
}

// ServeMetrics blocks serving /metrics on addr (e.g. ":9476"), matching
// config.Config.MonitoringPort. Callers typically run it in its own
// goroutine.
func (p *Printer) ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
