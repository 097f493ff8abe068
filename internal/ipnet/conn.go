//go:build linux

// File: internal/ipnet/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn is one endpoint in one of the four variants. Servers own a list of
// their accepted clients; UDP pseudo-clients share the server's descriptor
// and only the last departing sharer actually closes it.

package ipnet

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/momentics/asyncip/api"
	"golang.org/x/sys/unix"
)

// Kind identifies the connection variant.
type Kind int

const (
	TCPServer Kind = iota
	TCPClient
	UDPServer
	UDPClient
)

func (k Kind) String() string {
	switch k {
	case TCPServer:
		return "tcp-server"
	case TCPClient:
		return "tcp-client"
	case UDPServer:
		return "udp-server"
	case UDPClient:
		return "udp-client"
	}
	return "unknown"
}

// Conn is a single synchronous endpoint. Message framing is fixed-size:
// every send transmits exactly messageLength bytes and receives read at
// most that many.
type Conn struct {
	net  *Network
	kind Kind

	mu      sync.Mutex
	fd      int
	fdValid bool
	addr    unix.Sockaddr

	// multicast marks a UDP server whose group address turns Send into a
	// single group datagram instead of a per-client fan-out.
	multicast bool

	messageLength atomic.Int32

	// Server side: accepted (or pseudo) clients. Client side: backref to
	// the accepting server, nil for dialed clients.
	clients      []*Conn
	pendingClose bool
	server       *Conn
}

// Kind returns the connection variant.
func (c *Conn) Kind() Kind { return c.kind }

// SetMessageLength changes the fixed frame size. Values outside
// (0, MaxMessageLength] are rejected.
func (c *Conn) SetMessageLength(n int) error {
	if n <= 0 || n > api.MaxMessageLength {
		return fmt.Errorf("%w: message length %d", api.ErrInvalidArgument, n)
	}
	c.messageLength.Store(int32(n))
	return nil
}

// MessageLength returns the current fixed frame size.
func (c *Conn) MessageLength() int { return int(c.messageLength.Load()) }

// ClientCount returns the number of clients linked to a server.
func (c *Conn) ClientCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// Valid reports whether the descriptor is still open.
func (c *Conn) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fdValid
}

// Receive reads one frame if one is pending. A nil slice with nil error
// means no data was available for this endpoint.
func (c *Conn) Receive() ([]byte, error) {
	switch c.kind {
	case TCPClient:
		return c.receiveTCP()
	case UDPClient:
		return c.receiveUDP()
	}
	return nil, fmt.Errorf("%w: receive on %s", api.ErrWrongRole, c.kind)
}

func (c *Conn) receiveTCP() ([]byte, error) {
	c.mu.Lock()
	fd, valid := c.fd, c.fdValid
	c.mu.Unlock()
	if !valid {
		return nil, fmt.Errorf("%w: connection closed", api.ErrPeerClosed)
	}
	buf := make([]byte, c.messageLength.Load())
	n, err := unix.Read(fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil, nil
	}
	if err != nil {
		log.Printf("[ipnet] read fd=%d: %v", fd, err)
		return nil, nil
	}
	if n == 0 {
		// Orderly shutdown by the peer: drop the descriptor so the poll
		// set stops reporting it.
		log.Printf("[ipnet] peer closed %s", formatSockaddr(c.addr))
		c.invalidate()
		return nil, fmt.Errorf("%w: %s", api.ErrPeerClosed, formatSockaddr(c.addr))
	}
	return buf[:n], nil
}

// receiveUDP peeks the pending datagram, checks the sender against the
// expected remote, and consumes it only on a match. Datagrams from other
// sources are left in the socket buffer for the endpoint they belong to.
func (c *Conn) receiveUDP() ([]byte, error) {
	c.mu.Lock()
	fd, valid := c.fd, c.fdValid
	c.mu.Unlock()
	if !valid {
		return nil, fmt.Errorf("%w: connection closed", api.ErrPeerClosed)
	}
	buf := make([]byte, c.messageLength.Load())
	_, from, err := unix.Recvfrom(fd, buf, unix.MSG_PEEK)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil, nil
	}
	if err != nil {
		log.Printf("[ipnet] peek fd=%d: %v", fd, err)
		return nil, nil
	}
	// A multicast subscriber accepts every group sender; unicast clients
	// only their configured remote.
	if !isMulticast(c.addr) && !equalSockaddr(from, c.addr) {
		return nil, nil
	}
	n, _, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		log.Printf("[ipnet] recvfrom fd=%d: %v", fd, err)
		return nil, nil
	}
	return buf[:n], nil
}

// Send transmits one fixed-size frame built from payload. Servers fan out
// to every client; a multicast UDP server sends a single group datagram.
func (c *Conn) Send(payload []byte) (int, error) {
	msgLen := int(c.messageLength.Load())
	if len(payload)+1 > msgLen {
		return 0, fmt.Errorf("%w: %d bytes into %d-byte frames", api.ErrMessageTooLong, len(payload), msgLen)
	}
	frame := make([]byte, msgLen)
	copy(frame, payload)

	switch c.kind {
	case TCPClient:
		return c.sendTCP(frame)
	case UDPClient:
		return c.sendUDP(frame)
	case UDPServer:
		if c.multicast {
			return c.sendUDP(frame)
		}
		return c.fanOut(frame)
	case TCPServer:
		return c.fanOut(frame)
	}
	return 0, fmt.Errorf("%w: send on %s", api.ErrWrongRole, c.kind)
}

func (c *Conn) sendTCP(frame []byte) (int, error) {
	c.mu.Lock()
	fd, valid := c.fd, c.fdValid
	c.mu.Unlock()
	if !valid {
		return 0, fmt.Errorf("%w: connection closed", api.ErrPeerClosed)
	}
	n, err := unix.Write(fd, frame)
	if err != nil {
		return 0, fmt.Errorf("%w: write: %v", api.ErrSocketFailure, err)
	}
	return n, nil
}

func (c *Conn) sendUDP(frame []byte) (int, error) {
	c.mu.Lock()
	fd, valid, to := c.fd, c.fdValid, c.addr
	c.mu.Unlock()
	if !valid {
		return 0, fmt.Errorf("%w: connection closed", api.ErrPeerClosed)
	}
	if err := unix.Sendto(fd, frame, 0, to); err != nil {
		return 0, fmt.Errorf("%w: sendto %s: %v", api.ErrSocketFailure, formatSockaddr(to), err)
	}
	return len(frame), nil
}

// fanOut sends the frame to every accepted client. Per-client failures are
// logged but do not stop the fan-out; the return value is the frame size
// when at least one client was reached.
func (c *Conn) fanOut(frame []byte) (int, error) {
	c.mu.Lock()
	clients := make([]*Conn, len(c.clients))
	copy(clients, c.clients)
	c.mu.Unlock()
	if len(clients) == 0 {
		return 0, nil
	}
	sent := 0
	for _, cl := range clients {
		var err error
		if c.kind == TCPServer {
			_, err = cl.sendTCP(frame)
		} else {
			_, err = cl.sendUDP(frame)
		}
		if err != nil {
			log.Printf("[ipnet] fan-out to %s: %v", formatSockaddr(cl.addr), err)
			continue
		}
		sent = len(frame)
	}
	return sent, nil
}

// Accept admits one pending client if there is one. A nil Conn with nil
// error means nothing was waiting.
func (c *Conn) Accept() (*Conn, error) {
	switch c.kind {
	case TCPServer:
		return c.acceptTCP()
	case UDPServer:
		return c.acceptUDP()
	}
	return nil, fmt.Errorf("%w: accept on %s", api.ErrWrongRole, c.kind)
}

func (c *Conn) acceptTCP() (*Conn, error) {
	c.mu.Lock()
	fd, valid := c.fd, c.fdValid
	c.mu.Unlock()
	if !valid {
		return nil, fmt.Errorf("%w: connection closed", api.ErrPeerClosed)
	}
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: accept: %v", api.ErrSocketFailure, err)
	}
	client := &Conn{
		net:     c.net,
		kind:    TCPClient,
		fd:      nfd,
		fdValid: true,
		addr:    sa,
		server:  c,
	}
	client.messageLength.Store(c.messageLength.Load())
	if err := c.net.set.Insert(nfd); err != nil {
		unix.Close(nfd)
		return nil, fmt.Errorf("%w: watch accepted fd: %v", api.ErrSocketFailure, err)
	}
	c.mu.Lock()
	c.clients = append(c.clients, client)
	c.mu.Unlock()
	log.Printf("[ipnet] accepted %s", formatSockaddr(sa))
	return client, nil
}

// acceptUDP peeks the next datagram and, when its source is new, registers
// a pseudo-client that shares the server's descriptor. The datagram itself
// stays queued for the pseudo-client's Receive.
func (c *Conn) acceptUDP() (*Conn, error) {
	c.mu.Lock()
	fd, valid := c.fd, c.fdValid
	c.mu.Unlock()
	if !valid {
		return nil, fmt.Errorf("%w: connection closed", api.ErrPeerClosed)
	}
	buf := make([]byte, c.messageLength.Load())
	_, from, err := unix.Recvfrom(fd, buf, unix.MSG_PEEK)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: peek: %v", api.ErrSocketFailure, err)
	}
	c.mu.Lock()
	for _, cl := range c.clients {
		if equalSockaddr(cl.addr, from) {
			c.mu.Unlock()
			return nil, nil
		}
	}
	client := &Conn{
		net:     c.net,
		kind:    UDPClient,
		fd:      fd,
		fdValid: true,
		addr:    from,
		server:  c,
	}
	client.messageLength.Store(c.messageLength.Load())
	c.clients = append(c.clients, client)
	c.mu.Unlock()
	log.Printf("[ipnet] new datagram peer %s", formatSockaddr(from))
	return client, nil
}

// Close tears the endpoint down. Closing a UDP server with live
// pseudo-clients defers the descriptor close until the last one leaves.
func (c *Conn) Close() error {
	switch c.kind {
	case TCPServer:
		return c.closeTCPServer()
	case TCPClient:
		return c.closeTCPClient()
	case UDPServer:
		return c.closeUDPServer()
	case UDPClient:
		return c.closeUDPClient()
	}
	return fmt.Errorf("%w: close on unknown kind", api.ErrInvalidArgument)
}

func (c *Conn) closeTCPServer() error {
	c.mu.Lock()
	clients := c.clients
	c.clients = nil
	c.mu.Unlock()
	// Orphan the children; each stays usable until closed on its own.
	for _, cl := range clients {
		cl.mu.Lock()
		cl.server = nil
		cl.mu.Unlock()
	}
	c.invalidate()
	return nil
}

func (c *Conn) closeTCPClient() error {
	c.mu.Lock()
	srv := c.server
	c.server = nil
	c.mu.Unlock()
	if srv != nil {
		srv.detach(c)
	}
	c.invalidate()
	return nil
}

func (c *Conn) closeUDPServer() error {
	c.mu.Lock()
	if len(c.clients) > 0 {
		// Pseudo-clients still share the descriptor; the last one to
		// close releases it.
		c.pendingClose = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.invalidate()
	return nil
}

func (c *Conn) closeUDPClient() error {
	c.mu.Lock()
	srv := c.server
	c.server = nil
	c.mu.Unlock()
	if srv == nil {
		// Dialed client: the descriptor is ours alone.
		c.invalidate()
		return nil
	}
	last := srv.detach(c)
	c.mu.Lock()
	c.fdValid = false
	c.mu.Unlock()
	if last {
		srv.invalidate()
	}
	return nil
}

// detach removes cl from the client list and reports whether this was the
// last client of a server whose close is pending.
func (c *Conn) detach(cl *Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.clients {
		if other == cl {
			c.clients = append(c.clients[:i], c.clients[i+1:]...)
			break
		}
	}
	return len(c.clients) == 0 && c.pendingClose
}

// invalidate removes the descriptor from the poll set and closes it. Safe
// to call more than once.
func (c *Conn) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fdValid {
		return
	}
	c.fdValid = false
	c.net.set.Remove(c.fd)
	if err := unix.Close(c.fd); err != nil {
		log.Printf("[ipnet] close fd=%d: %v", c.fd, err)
	}
}
