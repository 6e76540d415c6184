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

// Package mac defines the MAC-layer collaborator contract: something that
// can broadcast a raw frame to every node in radio range and hand back
// frames it overhears, timestamped at the instant of arrival. spec.md
// treats the MAC as an external black box the protocol engines never
// manage; here that box is an interface with three real implementations
// (mac/simmac, mac/udpmac, mac/serialmac) instead of firmware this module
// never sees.
package mac

import (
	"context"

	"github.com/meshtime/clocksync/gtimer"
)

// Transport is the MAC-layer collaborator. Broadcast sends frame to every
// reachable peer; Receive blocks until a frame arrives (or ctx is done),
// returning the sender's node id and the local-clock time-of-arrival —
// Receive is expected to stamp toa as close to the wire as the transport
// allows, matching spec.md §6.3's "MAC layer timestamps frames at
// reception" contract.
type Transport interface {
	// Broadcast sends frame to all reachable peers. It does not block
	// waiting for acknowledgement — spec.md's MAC is best-effort.
	Broadcast(frame []byte) error

	// Receive blocks for the next inbound frame. src is the sender's
	// node id if the transport can recover one from the medium, 0
	// otherwise (the dispatch payload itself may carry a more authoritative
	// sender id, as FTSP/PulseSync beacons do).
	Receive(ctx context.Context) (frame []byte, src uint16, toa gtimer.Timeval, err error)

	// Close releases any underlying resources (sockets, file descriptors).
	Close() error
}
