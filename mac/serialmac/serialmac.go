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

// Package serialmac implements mac.Transport over a framed serial line, for
// bridging to a real radio modem attached over USB/UART. Frames are
// length-prefixed (one byte, since every wire frame this module defines is
// well under 255 bytes) the way sa53fw/mac frames its command/response
// protocol over the same go.bug.st/serial port.
package serialmac

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/meshtime/clocksync/gtimer"
	"github.com/meshtime/clocksync/mac"
)

// DefaultBaudRate matches config.DefaultConfig's serial_baud_rate;
// operators with a different modem override it via Config.BaudRate.
const DefaultBaudRate = 115200

// Config configures a Transport.
type Config struct {
	Device   string
	BaudRate int
}

// Transport is a framed serial-line mac.Transport. The port field is an
// io.ReadWriteCloser rather than serial.Port so tests can substitute an
// in-memory pipe without a real serial device.
type Transport struct {
	mu    sync.Mutex
	port  io.ReadWriteCloser
	clock *gtimer.Clock
}

var _ mac.Transport = (*Transport)(nil)

// Open opens the serial device described by cfg.
func Open(cfg Config, clock *gtimer.Clock) (*Transport, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(cfg.Device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("serialmac: opening %s: %w", cfg.Device, err)
	}
	return newTransport(port, clock), nil
}

func newTransport(port io.ReadWriteCloser, clock *gtimer.Clock) *Transport {
	return &Transport{port: port, clock: clock}
}

// Broadcast implements mac.Transport. The serial line has exactly one peer
// at the other end, but from the protocol engine's point of view that peer
// may itself be relaying to many radio neighbors, so this is still a
// "broadcast" in the mac.Transport sense.
func (t *Transport) Broadcast(frame []byte) error {
	if len(frame) > 0xFF {
		return fmt.Errorf("serialmac: frame of %d bytes exceeds the 255-byte length-prefix limit", len(frame))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	buf := make([]byte, 1+len(frame))
	buf[0] = byte(len(frame))
	copy(buf[1:], frame)
	if _, err := t.port.Write(buf); err != nil {
		return fmt.Errorf("serialmac: write: %w", err)
	}
	return nil
}

// Receive implements mac.Transport. go.bug.st/serial has no context-aware
// read, so the blocking read runs in its own goroutine; a context
// cancellation abandons that goroutine (it will exit once Close() unblocks
// its Read, or the next byte arrives and is discarded).
func (t *Transport) Receive(ctx context.Context) ([]byte, uint16, gtimer.Timeval, error) {
	type result struct {
		frame []byte
		err   error
	}
	done := make(chan result, 1)

	go func() {
		lenByte := make([]byte, 1)
		if _, err := io.ReadFull(t.port, lenByte); err != nil {
			done <- result{err: fmt.Errorf("serialmac: reading frame length: %w", err)}
			return
		}
		frame := make([]byte, lenByte[0])
		if _, err := io.ReadFull(t.port, frame); err != nil {
			done <- result{err: fmt.Errorf("serialmac: reading frame body: %w", err)}
			return
		}
		done <- result{frame: frame}
	}()

	select {
	case <-ctx.Done():
		return nil, 0, gtimer.Timeval{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, 0, gtimer.Timeval{}, r.err
		}
		// The serial line has exactly one peer; there is no sender id to
		// recover from the medium itself, only from the beacon payload.
		return r.frame, 0, t.clock.Now(), nil
	}
}

// Close implements mac.Transport.
func (t *Transport) Close() error {
	return t.port.Close()
}
