//go:build linux

// File: internal/ipnet/address.go
// Package ipnet implements the synchronous IP connection layer.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Address resolution and formatting. The modern path resolves through the
// system resolver preferring IPv6 with IPv4 fallback; the legacy path is
// IPv4-only and special-cases the limited broadcast literal.

package ipnet

import (
	"fmt"
	"net"
	"strconv"

	"github.com/momentics/asyncip/api"
	"golang.org/x/sys/unix"
)

// resolveAddress maps host/port onto a socket address. An empty host is
// valid only for servers and binds the wildcard address.
func resolveAddress(host string, port uint16, role api.ConnType) (unix.Sockaddr, error) {
	if host == "" {
		if role != api.Server {
			return nil, fmt.Errorf("%w: client requires a host", api.ErrInvalidArgument)
		}
		// Wildcard IPv6 bind; V6ONLY is disabled later so mapped IPv4
		// clients are accepted too.
		return &unix.SockaddrInet6{Port: int(port)}, nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", api.ErrResolveFailure, host, err)
	}
	var v4 net.IP
	for _, ip := range ips {
		if ip.To4() == nil {
			sa := &unix.SockaddrInet6{Port: int(port)}
			copy(sa.Addr[:], ip.To16())
			return sa, nil
		}
		if v4 == nil {
			v4 = ip.To4()
		}
	}
	if v4 != nil {
		sa := &unix.SockaddrInet4{Port: int(port)}
		copy(sa.Addr[:], v4)
		return sa, nil
	}
	return nil, fmt.Errorf("%w: %q: no usable address", api.ErrResolveFailure, host)
}

// resolveAddressLegacy is the IPv4-only resolution used by the select(2)
// back-end. "255.255.255.255" maps to the limited broadcast address.
func resolveAddressLegacy(host string, port uint16, role api.ConnType) (unix.Sockaddr, error) {
	sa := &unix.SockaddrInet4{Port: int(port)}
	if host == "" {
		if role != api.Server {
			return nil, fmt.Errorf("%w: client requires a host", api.ErrInvalidArgument)
		}
		return sa, nil // INADDR_ANY
	}
	if host == "255.255.255.255" {
		sa.Addr = [4]byte{255, 255, 255, 255}
		return sa, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", api.ErrResolveFailure, host, err)
		}
		for _, candidate := range ips {
			if candidate.To4() != nil {
				ip = candidate
				break
			}
		}
	}
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%w: %q: not an IPv4 address", api.ErrResolveFailure, host)
	}
	copy(sa.Addr[:], ip.To4())
	return sa, nil
}

// formatSockaddr renders an address as "<numeric-host>/<numeric-port>".
// IPv6 hosts use their colon form.
func formatSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String() + "/" + strconv.Itoa(a.Port)
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String() + "/" + strconv.Itoa(a.Port)
	}
	return ""
}

// equalSockaddr reports whether two addresses share family, host and port.
func equalSockaddr(a, b unix.Sockaddr) bool {
	switch x := a.(type) {
	case *unix.SockaddrInet4:
		y, ok := b.(*unix.SockaddrInet4)
		return ok && x.Port == y.Port && x.Addr == y.Addr
	case *unix.SockaddrInet6:
		y, ok := b.(*unix.SockaddrInet6)
		return ok && x.Port == y.Port && x.Addr == y.Addr
	}
	return false
}

// isMulticast reports whether sa is an IPv4 (224.0.0.0/4) or IPv6 (ff00::/8)
// multicast group address.
func isMulticast(sa unix.Sockaddr) bool {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Addr[0]&0xF0 == 0xE0
	case *unix.SockaddrInet6:
		return a.Addr[0] == 0xFF
	}
	return false
}

// sockaddrPort extracts the port of a resolved address.
func sockaddrPort(sa unix.Sockaddr) int {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port
	case *unix.SockaddrInet6:
		return a.Port
	}
	return 0
}
