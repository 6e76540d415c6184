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

// Package control is the HTTP surface a running "clocksync run" daemon
// exposes, and the client the cmd/clocksync shell subcommands use to reach
// it — the same split as ptp/sptp/stats, where FetchStats/FetchCounters are
// a thin JSON client against an address the CLI is pointed at.
package control

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// requestTimeout bounds every control-plane call; a node that's wedged
// shouldn't hang its operator's shell indefinitely.
const requestTimeout = 2 * time.Second

// Status is a point-in-time snapshot of one node, served at GET /status and
// rendered by "clocksync status".
type Status struct {
	NodeID uint16 `json:"node_id"`

	FTSPEnabled      bool `json:"ftsp_enabled"`
	FTSPSynced       bool `json:"ftsp_synced"`
	GTSPEnabled      bool `json:"gtsp_enabled"`
	GTSPSynced       bool `json:"gtsp_synced"`
	GTSPNeighbors    int  `json:"gtsp_neighbors"`
	PulseSyncEnabled bool `json:"pulsesync_enabled"`
	PulseSyncSynced  bool `json:"pulsesync_synced"`

	Local    uint64  `json:"local"`
	Global   uint64  `json:"global"`
	RatePPB  float64 `json:"rate_ppb"`
}

// FetchStatus retrieves the current Status from a running daemon at addr
// (host:port, as configured by Config.MonitoringPort).
func FetchStatus(addr string) (*Status, error) {
	c := http.Client{Timeout: requestTimeout}
	resp, err := c.Get(fmt.Sprintf("http://%s/status", addr))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("control: GET /status: %s: %s", resp.Status, body)
	}

	var s Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("control: decode status: %w", err)
	}
	return &s, nil
}

// PostToggle flips protocol ("ftsp", "gtsp", or "pulsesync") on or off on
// the running daemon at addr.
func PostToggle(addr, protocol string, on bool) error {
	state := "off"
	if on {
		state = "on"
	}
	u := fmt.Sprintf("http://%s/%s?state=%s", addr, protocol, url.QueryEscape(state))
	return post(u)
}

// PostTrigger implements "gtsp trigger add|rm <addr>": op is "add" or "rm",
// neighborAddr is the 16-bit node address to pin or drop.
func PostTrigger(addr, op string, neighborAddr uint16) error {
	u := fmt.Sprintf("http://%s/gtsp/trigger?op=%s&addr=%d", addr, url.QueryEscape(op), neighborAddr)
	return post(u)
}

func post(u string) error {
	c := http.Client{Timeout: requestTimeout}
	resp, err := c.Post(u, "application/x-www-form-urlencoded", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("control: POST %s: %s: %s", u, resp.Status, body)
	}
	return nil
}
