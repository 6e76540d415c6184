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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meshtime/clocksync/config"
	"github.com/meshtime/clocksync/control"
	"github.com/meshtime/clocksync/estimator"
	"github.com/meshtime/clocksync/gtimer"
	"github.com/meshtime/clocksync/mac"
	"github.com/meshtime/clocksync/mac/serialmac"
	"github.com/meshtime/clocksync/mac/simmac"
	"github.com/meshtime/clocksync/mac/udpmac"
	"github.com/meshtime/clocksync/node"
)

var runConfigFlag string

func init() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "", "path to the node's YAML config")
	_ = runCmd.MarkFlagRequired("config")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a clocksync node: clock, protocol engines, and the control/metrics HTTP API",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := doRun(runConfigFlag); err != nil {
			log.Fatal(err)
		}
	},
}

func buildTransport(cfg *config.Config, clock *gtimer.Clock) (mac.Transport, error) {
	switch cfg.Transport {
	case config.TransportSim:
		// A lone node on its own bus: useful to smoke-test a config without
		// real radio hardware, though it will never hear a peer.
		return simmac.NewTransport(simmac.NewBus(), cfg.NodeID, clock), nil
	case config.TransportUDP:
		return udpmac.New(udpmac.Config{
			MulticastAddr: cfg.MulticastAddr,
			InterfaceName: cfg.InterfaceName,
		}, clock)
	case config.TransportSerial:
		return serialmac.Open(serialmac.Config{
			Device:   cfg.SerialDevice,
			BaudRate: cfg.SerialBaudRate,
		}, clock)
	default:
		return nil, fmt.Errorf("run: unknown transport %q", cfg.Transport)
	}
}

func buildSanityGate(cfg *config.Config) (estimator.SanityGate, error) {
	if cfg.SanityExpr == "" {
		return estimator.FixedGate{}, nil
	}
	gate, err := estimator.NewExprGate(cfg.SanityExpr, estimator.NewRateStats())
	if err != nil {
		return nil, fmt.Errorf("run: sanity_expr: %w", err)
	}
	return gate, nil
}

func doRun(configPath string) error {
	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	profiles, err := config.LoadTransceiverProfiles("")
	if err != nil {
		return fmt.Errorf("loading transceiver profiles: %w", err)
	}
	profile, err := config.ResolveTransceiverProfile(profiles, cfg.TransceiverProfile)
	if err != nil {
		return fmt.Errorf("resolving transceiver profile: %w", err)
	}
	propUs := cfg.PropagationUs
	if propUs == 0 {
		propUs = profile.PropagationUs
	}

	clock := gtimer.New(gtimer.SystemHardwareCounter())
	transport, err := buildTransport(cfg, clock)
	if err != nil {
		return fmt.Errorf("building transport: %w", err)
	}
	defer transport.Close()

	gate, err := buildSanityGate(cfg)
	if err != nil {
		return err
	}

	n := node.New(cfg.NodeID, clock, transport)
	n.FTSP.SetSanityGate(gate)
	n.FTSP.SetBeaconDelay(cfg.BeaconInterval)
	n.FTSP.SetPropTime(propUs)
	n.GTSP.SetBeaconDelay(cfg.BeaconInterval)
	n.PulseSync.SetSanityGate(gate)
	n.PulseSync.SetFloodPeriod(cfg.BeaconInterval)
	n.PulseSync.SetPropTime(propUs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n.Resume(ctx)
	if !cfg.EnableFTSP {
		n.FTSP.Pause()
	}
	if !cfg.EnableGTSP {
		n.GTSP.Pause()
	}
	if !cfg.EnablePulseSync {
		n.PulseSync.Pause()
	}

	if cfg.MonitoringPort > 0 {
		srv := control.NewServer(ctx, n)
		metricsHandler := promhttp.HandlerFor(n.Eval.Registry(), promhttp.HandlerOpts{})
		addr := fmt.Sprintf(":%d", cfg.MonitoringPort)
		go func() {
			if err := srv.ListenAndServe(addr, metricsHandler); err != nil {
				log.Errorf("run: control/metrics server on %s: %v", addr, err)
			}
		}()
		log.Infof("run: node %d serving control/metrics API on %s", cfg.NodeID, addr)
	}

	sdNotify()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	n.Pause()
	return nil
}

// sdNotify tells systemd (if running under it) that startup is complete.
// Absence of NOTIFY_SOCKET just means we're not running under systemd, so
// that case is logged at debug rather than treated as an error.
func sdNotify() {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	switch {
	case err != nil:
		log.Warnf("run: sd_notify: %v", err)
	case !supported:
		log.Debug("run: sd_notify not supported, skipping")
	default:
		log.Debug("run: sent sd_notify ready")
	}
}
