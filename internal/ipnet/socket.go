//go:build linux

// File: internal/ipnet/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket creation and option plumbing for the four connection variants.

package ipnet

import (
	"fmt"

	"github.com/momentics/asyncip/api"
	"golang.org/x/sys/unix"
)

// createSocket opens a socket matching the transport and address family.
func createSocket(transport api.ConnType, sa unix.Sockaddr) (int, error) {
	domain := unix.AF_INET
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		domain = unix.AF_INET6
	}
	sockType, proto := unix.SOCK_STREAM, unix.IPPROTO_TCP
	if transport == api.UDP {
		sockType, proto = unix.SOCK_DGRAM, unix.IPPROTO_UDP
	}
	fd, err := unix.Socket(domain, sockType|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return -1, fmt.Errorf("%w: socket: %v", api.ErrSocketFailure, err)
	}
	return fd, nil
}

// configureSocket applies the options every connection gets: non-blocking
// mode and local address reuse.
func configureSocket(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("%w: set non-blocking: %v", api.ErrSocketFailure, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("%w: SO_REUSEADDR: %v", api.ErrSocketFailure, err)
	}
	return nil
}

// bindServerSocket binds fd to the local address. IPv6 servers disable
// V6ONLY so mapped IPv4 clients are accepted.
func bindServerSocket(fd int, sa unix.Sockaddr) error {
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			return fmt.Errorf("%w: IPV6_V6ONLY: %v", api.ErrSocketFailure, err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("%w: bind: %v", api.ErrSocketFailure, err)
	}
	return nil
}

// bindTCPServerSocket binds and starts listening.
func bindTCPServerSocket(fd int, sa unix.Sockaddr) error {
	if err := bindServerSocket(fd, sa); err != nil {
		return err
	}
	if err := unix.Listen(fd, api.ListenBacklog); err != nil {
		return fmt.Errorf("%w: listen: %v", api.ErrSocketFailure, err)
	}
	return nil
}

// bindUDPServerSocket binds and configures multicast sends on the default
// interface. The legacy path enables broadcast instead.
func bindUDPServerSocket(fd int, sa unix.Sockaddr, legacy bool) error {
	if err := bindServerSocket(fd, sa); err != nil {
		return err
	}
	if legacy {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			return fmt.Errorf("%w: SO_BROADCAST: %v", api.ErrSocketFailure, err)
		}
		return nil
	}
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, api.MulticastTTL); err != nil {
			return fmt.Errorf("%w: IPV6_MULTICAST_HOPS: %v", api.ErrSocketFailure, err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_IF, 0); err != nil {
			return fmt.Errorf("%w: IPV6_MULTICAST_IF: %v", api.ErrSocketFailure, err)
		}
	} else {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, api.MulticastTTL); err != nil {
			return fmt.Errorf("%w: IP_MULTICAST_TTL: %v", api.ErrSocketFailure, err)
		}
		if err := unix.SetsockoptInet4Addr(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_IF, [4]byte{}); err != nil {
			return fmt.Errorf("%w: IP_MULTICAST_IF: %v", api.ErrSocketFailure, err)
		}
	}
	return nil
}

// connectTCPClientSocket connects a non-blocking socket, waiting for the
// handshake to finish when the kernel reports it in progress.
func connectTCPClientSocket(fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if err != unix.EINPROGRESS {
		return fmt.Errorf("%w: connect: %v", api.ErrSocketFailure, err)
	}
	// Non-blocking connect: poll for writability, then read SO_ERROR.
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		n, perr := unix.Poll(pfd, api.WaitTimeoutMs)
		if perr == unix.EINTR {
			continue
		}
		if perr != nil {
			return fmt.Errorf("%w: connect poll: %v", api.ErrSocketFailure, perr)
		}
		if n == 0 {
			return fmt.Errorf("%w: connect to %s", api.ErrOperationTimeout, formatSockaddr(sa))
		}
		break
	}
	soerr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		return fmt.Errorf("%w: SO_ERROR: %v", api.ErrSocketFailure, gerr)
	}
	if soerr != 0 {
		return fmt.Errorf("%w: connect: %v", api.ErrSocketFailure, unix.Errno(soerr))
	}
	return nil
}

// bindUDPClientSocket binds a local port and joins the remote group when it
// is a multicast address. Group members bind the group port itself (address
// reuse is already enabled) so group datagrams are actually delivered;
// loopback is disabled so a sender does not observe its own datagrams.
func bindUDPClientSocket(fd int, remote unix.Sockaddr) error {
	multicast := isMulticast(remote)
	var local unix.Sockaddr
	switch remote.(type) {
	case *unix.SockaddrInet6:
		la := &unix.SockaddrInet6{}
		if multicast {
			la.Port = sockaddrPort(remote)
		}
		local = la
	default:
		la := &unix.SockaddrInet4{}
		if multicast {
			la.Port = sockaddrPort(remote)
		}
		local = la
	}
	if err := unix.Bind(fd, local); err != nil {
		return fmt.Errorf("%w: bind local: %v", api.ErrSocketFailure, err)
	}
	if !multicast {
		return nil
	}
	switch a := remote.(type) {
	case *unix.SockaddrInet6:
		mreq := &unix.IPv6Mreq{}
		copy(mreq.Multiaddr[:], a.Addr[:])
		if err := unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq); err != nil {
			return fmt.Errorf("%w: IPV6_JOIN_GROUP: %v", api.ErrSocketFailure, err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_LOOP, 0); err != nil {
			return fmt.Errorf("%w: IPV6_MULTICAST_LOOP: %v", api.ErrSocketFailure, err)
		}
	case *unix.SockaddrInet4:
		mreq := &unix.IPMreq{}
		copy(mreq.Multiaddr[:], a.Addr[:])
		if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
			return fmt.Errorf("%w: IP_ADD_MEMBERSHIP: %v", api.ErrSocketFailure, err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 0); err != nil {
			return fmt.Errorf("%w: IP_MULTICAST_LOOP: %v", api.ErrSocketFailure, err)
		}
	}
	return nil
}
