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

// Package udpmac implements mac.Transport over IPv4 UDP multicast, so
// independent OS processes on the same LAN can form a real (if
// simulated-radio) multi-hop mesh: every process on the multicast group
// hears every other process's beacons, standing in for the 802.15.4
// broadcast domain spec.md assumes.
package udpmac

import (
	"context"
	"fmt"
	"net"

	"github.com/jsimonetti/rtnetlink/rtnl"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/meshtime/clocksync/gtimer"
	"github.com/meshtime/clocksync/mac"
)

// DefaultReadBufferSize bounds a single inbound frame; GTSP's 21-byte
// beacon is the largest wire frame this module defines, so this is
// generous headroom rather than a tight fit.
const DefaultReadBufferSize = 1500

// Config configures a Transport.
type Config struct {
	// MulticastAddr is the multicast group, e.g. "239.1.2.3:7784".
	MulticastAddr string
	// InterfaceName pins the multicast membership and send interface; if
	// empty, the kernel picks the default multicast-capable interface.
	InterfaceName string
}

// Transport broadcasts and receives frames over a UDP multicast group.
type Transport struct {
	clock *gtimer.Clock

	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	groupUp *net.UDPAddr
	ifi     *net.Interface
}

var _ mac.Transport = (*Transport)(nil)

// New joins the multicast group described by cfg and returns a Transport
// that timestamps received frames against clock.
func New(cfg Config, clock *gtimer.Clock) (*Transport, error) {
	groupAddr, err := net.ResolveUDPAddr("udp4", cfg.MulticastAddr)
	if err != nil {
		return nil, fmt.Errorf("udpmac: resolving %q: %w", cfg.MulticastAddr, err)
	}

	var ifi *net.Interface
	if cfg.InterfaceName != "" {
		ifi, err = net.InterfaceByName(cfg.InterfaceName)
		if err != nil {
			return nil, fmt.Errorf("udpmac: looking up interface %q: %w", cfg.InterfaceName, err)
		}
	} else if discovered, err := discoverMulticastInterface(); err != nil {
		log.Warnf("udpmac: rtnetlink interface discovery failed, falling back to kernel default route: %v", err)
	} else {
		ifi = discovered
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: groupAddr.Port})
	if err != nil {
		return nil, fmt.Errorf("udpmac: listening on port %d: %w", groupAddr.Port, err)
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.JoinGroup(ifi, groupAddr); err != nil {
		conn.Close()
		return nil, fmt.Errorf("udpmac: joining group %s: %w", groupAddr, err)
	}
	if err := pconn.SetMulticastLoopback(false); err != nil {
		log.Warnf("udpmac: disabling multicast loopback: %v", err)
	}

	t := &Transport{
		clock:   clock,
		conn:    conn,
		pconn:   pconn,
		groupUp: groupAddr,
		ifi:     ifi,
	}
	log.Infof("udpmac: joined %s on %s", groupAddr, ifaceLabel(ifi))
	return t, nil
}

func ifaceLabel(ifi *net.Interface) string {
	if ifi == nil {
		return "default interface"
	}
	return ifi.Name
}

// Broadcast implements mac.Transport.
func (t *Transport) Broadcast(frame []byte) error {
	_, err := t.conn.WriteToUDP(frame, t.groupUp)
	if err != nil {
		return fmt.Errorf("udpmac: broadcast: %w", err)
	}
	return nil
}

// Receive implements mac.Transport.
func (t *Transport) Receive(ctx context.Context) ([]byte, uint16, gtimer.Timeval, error) {
	type result struct {
		frame []byte
		src   uint16
		err   error
	}
	done := make(chan result, 1)

	go func() {
		buf := make([]byte, DefaultReadBufferSize)
		n, _, srcAddr, err := t.pconn.ReadFrom(buf)
		if err != nil {
			done <- result{err: fmt.Errorf("udpmac: receive: %w", err)}
			return
		}
		done <- result{frame: buf[:n], src: srcPort(srcAddr)}
	}()

	select {
	case <-ctx.Done():
		return nil, 0, gtimer.Timeval{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, 0, gtimer.Timeval{}, r.err
		}
		return r.frame, r.src, t.clock.Now(), nil
	}
}

// srcPort recovers a coarse node identifier from the sender's UDP source
// port, since node ids live in the beacon payload, not on the wire header;
// this is only used for diagnostics, never for protocol logic.
func srcPort(addr net.Addr) uint16 {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0
	}
	return uint16(udpAddr.Port)
}

// Close implements mac.Transport.
func (t *Transport) Close() error {
	if t.ifi != nil {
		if err := t.pconn.LeaveGroup(t.ifi, t.groupUp); err != nil {
			log.Warnf("udpmac: leaving group: %v", err)
		}
	}
	return t.conn.Close()
}

// SocketBufferSize reports the effective SO_RCVBUF, so an operator tuning a
// busy multicast domain can see what the kernel actually granted.
func (t *Transport) SocketBufferSize() (int, error) {
	return socketBufferSize(t.conn)
}

func socketBufferSize(conn *net.UDPConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var size int
	var sysErr error
	err = raw.Control(func(fd uintptr) {
		size, sysErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	})
	if err != nil {
		return 0, err
	}
	return size, sysErr
}

// discoverMulticastInterface asks the kernel, via netlink, for the set of
// interfaces it knows about and picks the first one that is up, not a
// loopback, and multicast-capable. This saves an operator from having to
// name an interface explicitly on hosts with one obvious choice, and is
// preferred over relying on the kernel's default-route selection (which
// `JoinGroup(nil, ...)` would otherwise do silently) because the chosen
// interface ends up logged and reproducible.
func discoverMulticastInterface() (*net.Interface, error) {
	conn, err := rtnl.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("udpmac: netlink dial: %w", err)
	}
	defer conn.Close()

	links, err := conn.Links()
	if err != nil {
		return nil, fmt.Errorf("udpmac: netlink link list: %w", err)
	}
	for _, link := range links {
		if link.Flags&net.FlagLoopback != 0 {
			continue
		}
		if link.Flags&net.FlagUp == 0 || link.Flags&net.FlagMulticast == 0 {
			continue
		}
		ifi := link
		return &ifi, nil
	}
	return nil, fmt.Errorf("udpmac: no up, multicast-capable, non-loopback interface found")
}
