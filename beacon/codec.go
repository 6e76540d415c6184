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

package beacon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/meshtime/clocksync/gtimer"
)

// FTSPWireSize is the packed, big-endian on-wire size of an FTSP/PulseSync
// beacon: 1 (marker) + 2 (id) + 2 (root) + 2 (seq) + 8 (global).
const FTSPWireSize = 1 + 2 + 2 + 2 + 8

// GTSPWireSize is the packed on-wire size of a GTSP beacon: 1 + 8 + 8 + 4.
const GTSPWireSize = 1 + 8 + 8 + 4

// EvalWireSize is the packed on-wire size of an Eval beacon: 1 + 4.
const EvalWireSize = 1 + 4

// MarshalBinary implements encoding.BinaryMarshaler for FTSP/PulseSync
// beacons. Byte order is big-endian, no padding, matching §6.1 field list.
func (b *FTSP) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FTSPWireSize)
	buf[0] = b.DispatchMarker
	binary.BigEndian.PutUint16(buf[1:3], b.ID)
	binary.BigEndian.PutUint16(buf[3:5], b.Root)
	binary.BigEndian.PutUint16(buf[5:7], b.Seq)
	binary.BigEndian.PutUint64(buf[7:15], b.Global)
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for FTSP/PulseSync
// beacons.
func (b *FTSP) UnmarshalBinary(data []byte) error {
	if len(data) < FTSPWireSize {
		return fmt.Errorf("beacon: short FTSP frame: got %d bytes, want %d", len(data), FTSPWireSize)
	}
	b.DispatchMarker = data[0]
	b.ID = binary.BigEndian.Uint16(data[1:3])
	b.Root = binary.BigEndian.Uint16(data[3:5])
	b.Seq = binary.BigEndian.Uint16(data[5:7])
	b.Global = binary.BigEndian.Uint64(data[7:15])
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler for GTSP beacons.
func (b *GTSP) MarshalBinary() ([]byte, error) {
	buf := make([]byte, GTSPWireSize)
	buf[0] = b.DispatchMarker
	binary.BigEndian.PutUint64(buf[1:9], b.Local)
	binary.BigEndian.PutUint64(buf[9:17], b.Global)
	binary.BigEndian.PutUint32(buf[17:21], math.Float32bits(b.RelativeRate))
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for GTSP beacons.
func (b *GTSP) UnmarshalBinary(data []byte) error {
	if len(data) < GTSPWireSize {
		return fmt.Errorf("beacon: short GTSP frame: got %d bytes, want %d", len(data), GTSPWireSize)
	}
	b.DispatchMarker = data[0]
	b.Local = binary.BigEndian.Uint64(data[1:9])
	b.Global = binary.BigEndian.Uint64(data[9:17])
	b.RelativeRate = math.Float32frombits(binary.BigEndian.Uint32(data[17:21]))
	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler for Eval beacons.
func (b *Eval) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(b.DispatchMarker)
	if err := binary.Write(&buf, binary.BigEndian, b.Counter); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Eval beacons.
func (b *Eval) UnmarshalBinary(data []byte) error {
	if len(data) < EvalWireSize {
		return fmt.Errorf("beacon: short Eval frame: got %d bytes, want %d", len(data), EvalWireSize)
	}
	b.DispatchMarker = data[0]
	b.Counter = binary.BigEndian.Uint32(data[1:5])
	return nil
}

// Dispatch inspects the first byte of a frame and reports which beacon kind
// it is, without fully decoding it. Used by node.Node to route inbound
// frames to the right protocol engine.
func Dispatch(frame []byte) (marker uint8, ok bool) {
	if len(frame) == 0 {
		return 0, false
	}
	return frame[0], true
}

// StampFTSP overwrites the Global field of an already-marshaled FTSP/
// PulseSync frame in place with a freshly-read clock value plus the
// transmission delay. This is the Go analogue of driver_timestamp: it runs
// just before the frame leaves, without taking the protocol engine's mutex.
func StampFTSP(frame []byte, clk *gtimer.Clock, txDelay uint64) error {
	if len(frame) < FTSPWireSize {
		return fmt.Errorf("beacon: frame too short to stamp: %d bytes", len(frame))
	}
	now := clk.Now()
	binary.BigEndian.PutUint64(frame[7:15], now.Global+txDelay)
	return nil
}

// StampGTSP overwrites Local, Global and RelativeRate of an already-
// marshaled GTSP frame in place, as close to transmission as possible.
func StampGTSP(frame []byte, clk *gtimer.Clock) error {
	if len(frame) < GTSPWireSize {
		return fmt.Errorf("beacon: frame too short to stamp: %d bytes", len(frame))
	}
	now := clk.Now()
	binary.BigEndian.PutUint64(frame[1:9], now.Local)
	binary.BigEndian.PutUint64(frame[9:17], now.Global)
	binary.BigEndian.PutUint32(frame[17:21], math.Float32bits(float32(now.Rate)))
	return nil
}
