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

// Package beacon defines the on-wire beacon formats for FTSP, PulseSync,
// GTSP and the plain evaluation protocol, and the codec that (de)serializes
// them.
package beacon

// Dispatch markers: the one-byte protocol discriminator at frame payload
// byte 0.
const (
	DispatchGTSP          uint8 = 0x20
	DispatchClockSyncEval uint8 = 0x21
	DispatchNetworkTopo   uint8 = 0x22
	DispatchFTSP          uint8 = 0x23
	DispatchPulseSync     uint8 = 0x24
)

// FTSP is the FTSP/PulseSync beacon body.
type FTSP struct {
	DispatchMarker uint8
	ID             uint16
	Root           uint16
	Seq            uint16
	Global         uint64
}

// PulseSync reuses the FTSP wire shape; it is distinguished purely by its
// dispatch marker.
type PulseSync = FTSP

// GTSP is the GTSP beacon body.
type GTSP struct {
	DispatchMarker uint8
	Local          uint64
	Global         uint64
	RelativeRate   float32
}

// Eval is the ClockSync-Eval heartbeat/probe beacon body.
type Eval struct {
	DispatchMarker uint8
	Counter        uint32
}
