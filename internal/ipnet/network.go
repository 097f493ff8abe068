//go:build linux

// File: internal/ipnet/network.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Network owns the descriptor set shared by every connection it opens and
// maps the public connection-type byte onto the four variants.

package ipnet

import (
	"fmt"
	"log"
	"time"

	"github.com/momentics/asyncip/api"
	"github.com/momentics/asyncip/internal/poll"
	"golang.org/x/sys/unix"
)

// Network opens connections and multiplexes their descriptors over a
// single poll set.
type Network struct {
	set    poll.Set
	legacy bool
}

// NewNetwork creates a connection layer over poll(2), or over select(2)
// when legacy is set. The legacy path is IPv4-only.
func NewNetwork(legacy bool) *Network {
	set := poll.New()
	if legacy {
		set = poll.NewLegacy()
	}
	return &Network{set: set, legacy: legacy}
}

// Open resolves host/port and creates a connection of the requested type.
func (n *Network) Open(connType api.ConnType, host string, port uint16) (*Conn, error) {
	if !connType.Valid() {
		return nil, fmt.Errorf("%w: connection type %#x", api.ErrInvalidArgument, uint8(connType))
	}
	if port < api.PortMin {
		return nil, fmt.Errorf("%w: port %d below %d", api.ErrInvalidArgument, port, api.PortMin)
	}

	resolve := resolveAddress
	if n.legacy {
		resolve = resolveAddressLegacy
	}
	sa, err := resolve(host, port, connType.Role())
	if err != nil {
		return nil, err
	}

	fd, err := createSocket(connType.Transport(), sa)
	if err != nil {
		return nil, err
	}
	if err := configureSocket(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}

	kind, err := setupVariant(fd, connType, sa, n.legacy)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	c := &Conn{
		net:       n,
		kind:      kind,
		fd:        fd,
		fdValid:   true,
		addr:      sa,
		multicast: kind == UDPServer && isMulticast(sa),
	}
	c.messageLength.Store(api.MaxMessageLength)

	if err := n.set.Insert(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: watch fd: %v", api.ErrSocketFailure, err)
	}
	log.Printf("[ipnet] opened %s %s", kind, formatSockaddr(sa))
	return c, nil
}

// setupVariant applies the bind/listen/connect sequence of the variant.
func setupVariant(fd int, connType api.ConnType, sa unix.Sockaddr, legacy bool) (Kind, error) {
	switch {
	case connType.Transport() == api.TCP && connType.Role() == api.Server:
		return TCPServer, bindTCPServerSocket(fd, sa)
	case connType.Transport() == api.TCP && connType.Role() == api.Client:
		return TCPClient, connectTCPClientSocket(fd, sa)
	case connType.Transport() == api.UDP && connType.Role() == api.Server:
		return UDPServer, bindUDPServerSocket(fd, sa, legacy)
	default:
		return UDPClient, bindUDPClientSocket(fd, sa)
	}
}

// WaitEvent blocks until at least one watched descriptor is readable or
// the timeout elapses. It returns the number of ready descriptors. An
// empty set sleeps out the timeout like the underlying syscall would.
func (n *Network) WaitEvent(timeoutMs int) int {
	if n.set.Len() == 0 {
		time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
		return 0
	}
	ready, err := n.set.Wait(timeoutMs)
	if err != nil {
		log.Printf("[ipnet] wait: %v", err)
		return 0
	}
	return ready
}

// IsDataAvailable reports whether c's descriptor was readable in the last
// completed WaitEvent.
func (n *Network) IsDataAvailable(c *Conn) bool {
	c.mu.Lock()
	fd, valid := c.fd, c.fdValid
	c.mu.Unlock()
	return valid && n.set.Readable(fd)
}

// Address renders the connection's resolved remote (or bound) address as
// "<host>/<port>".
func (n *Network) Address(c *Conn) string {
	return formatSockaddr(c.addr)
}

// Watched returns the number of descriptors currently multiplexed.
func (n *Network) Watched() int {
	return n.set.Len()
}
