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

package node

import (
	"context"

	"github.com/meshtime/clocksync/gtimer"
	"github.com/meshtime/clocksync/mac"
)

const demuxInboxSize = 32

// demuxTransport is a per-engine mac.Transport view over one shared,
// physical transport. Broadcast and Close pass straight through; Receive
// instead blocks on an internal inbox that Node's single dispatchLoop
// fills after inspecting each frame's dispatch marker. This lets three
// protocol engines each believe they own their own transport while only
// one goroutine ever calls the real transport's Receive.
type demuxTransport struct {
	underlying mac.Transport
	inbox      chan frameMsg
}

type frameMsg struct {
	frame []byte
	src   uint16
	toa   gtimer.Timeval
}

func newDemuxTransport(underlying mac.Transport) *demuxTransport {
	return &demuxTransport{underlying: underlying, inbox: make(chan frameMsg, demuxInboxSize)}
}

func (d *demuxTransport) Broadcast(frame []byte) error {
	return d.underlying.Broadcast(frame)
}

func (d *demuxTransport) Receive(ctx context.Context) ([]byte, uint16, gtimer.Timeval, error) {
	select {
	case <-ctx.Done():
		return nil, 0, gtimer.Timeval{}, ctx.Err()
	case m := <-d.inbox:
		return m.frame, m.src, m.toa, nil
	}
}

func (d *demuxTransport) Close() error {
	return nil // the shared underlying transport owns the real Close.
}

// deliver hands a dispatched frame to this engine's Receive, best-effort:
// if the engine's inbox is momentarily full, the frame is dropped rather
// than blocking the shared dispatch loop, mirroring simmac.Bus's
// broadcast semantics.
func (d *demuxTransport) deliver(frame []byte, src uint16, toa gtimer.Timeval) {
	select {
	case d.inbox <- frameMsg{frame: frame, src: src, toa: toa}:
	default:
	}
}

var _ mac.Transport = (*demuxTransport)(nil)
