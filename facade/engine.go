//go:build linux

// File: facade/engine.go
// Package facade exposes the asynchronous connection engine: opaque
// identifiers instead of handles, queued reads and writes, and two
// background workers that move data between the queues and the sockets.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"bytes"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/momentics/asyncip/api"
	"github.com/momentics/asyncip/core/concurrency"
	"github.com/momentics/asyncip/internal/ipnet"
)

// asyncConn pairs a synchronous connection with its queues. Clients queue
// received frames in in; servers queue accepted client identifiers in
// kids. Exactly one of the two is allocated.
type asyncConn struct {
	conn *ipnet.Conn
	in   *concurrency.Queue[[]byte]
	kids *concurrency.Queue[uint64]
	out  *concurrency.Queue[[]byte]
	once sync.Once
}

// teardown releases the queues and closes the socket. Idempotent; it runs
// either from an explicit Close or from the registry destructor.
func (a *asyncConn) teardown() {
	a.once.Do(func() {
		if a.in != nil {
			a.in.Discard()
		}
		if a.kids != nil {
			a.kids.Discard()
		}
		a.out.Discard()
		if err := a.conn.Close(); err != nil {
			log.Printf("[engine] close %s: %v", a.conn.Kind(), err)
		}
	})
}

func (a *asyncConn) isServer() bool { return a.kids != nil }

// Engine is the asynchronous connection manager. Connections are addressed
// by identifiers that are never reused; the reader and writer goroutines
// run while at least one connection is open.
type Engine struct {
	cfg *Config
	net *ipnet.Network
	reg *concurrency.Registry[*asyncConn]

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New constructs an Engine with the given configuration. A nil cfg uses
// DefaultConfig.
func New(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()
	return &Engine{
		cfg: cfg,
		net: ipnet.NewNetwork(cfg.LegacyPoll),
		reg: concurrency.NewRegistry(func(a *asyncConn) { a.teardown() }),
	}
}

// Open creates a connection of the requested type and returns its
// identifier. The first successful Open starts the background workers.
func (e *Engine) Open(connType api.ConnType, host string, port uint16) (uint64, error) {
	conn, err := e.net.Open(connType, host, port)
	if err != nil {
		return api.InvalidID, err
	}
	if err := conn.SetMessageLength(e.cfg.MessageLength); err != nil {
		conn.Close()
		return api.InvalidID, err
	}
	id := e.register(conn)
	log.Printf("[engine] opened id=%d %s %s", id, conn.Kind(), e.net.Address(conn))
	return id, nil
}

// register wraps conn, adds it to the registry and makes sure the workers
// are running.
func (e *Engine) register(conn *ipnet.Conn) uint64 {
	a := &asyncConn{
		conn: conn,
		out:  concurrency.NewQueue[[]byte](e.cfg.QueueCapacity),
	}
	if conn.Kind() == ipnet.TCPServer || conn.Kind() == ipnet.UDPServer {
		a.kids = concurrency.NewQueue[uint64](e.cfg.QueueCapacity)
	} else {
		a.in = concurrency.NewQueue[[]byte](e.cfg.QueueCapacity)
	}
	id := e.reg.Add(a)
	e.startWorkers()
	return id
}

// Close tears down the identified connection; unknown identifiers are
// ignored. Closing the last connection stops the background workers,
// waiting up to JoinTimeoutMs for them.
func (e *Engine) Close(id uint64) {
	if !e.reg.Remove(id) {
		return
	}
	if e.reg.Len() == 0 {
		e.stopWorkers()
	}
}

// Read dequeues one received message from a client connection. A nil
// slice with nil error means the inbound queue was empty.
func (e *Engine) Read(id uint64) ([]byte, error) {
	a, ok := e.reg.Acquire(id)
	if !ok {
		return nil, fmt.Errorf("%w: connection %d", api.ErrNotFound, id)
	}
	defer e.reg.Release(id)
	if a.isServer() {
		return nil, fmt.Errorf("%w: read on server %d", api.ErrWrongRole, id)
	}
	if a.in.Len() == 0 {
		return nil, nil
	}
	msg, ok := a.in.Dequeue(concurrency.Wait)
	if !ok {
		return nil, nil
	}
	// Frames are fixed-size and zero-padded; return only the payload.
	if i := bytes.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}
	return msg, nil
}

// GetClient dequeues one accepted client identifier from a server
// connection. It returns InvalidID when none is pending.
func (e *Engine) GetClient(serverID uint64) (uint64, error) {
	a, ok := e.reg.Acquire(serverID)
	if !ok {
		return api.InvalidID, fmt.Errorf("%w: connection %d", api.ErrNotFound, serverID)
	}
	defer e.reg.Release(serverID)
	if !a.isServer() {
		return api.InvalidID, fmt.Errorf("%w: get-client on client %d", api.ErrWrongRole, serverID)
	}
	if a.kids.Len() == 0 {
		return api.InvalidID, nil
	}
	id, ok := a.kids.Dequeue(concurrency.Wait)
	if !ok {
		return api.InvalidID, nil
	}
	return id, nil
}

// Write enqueues data for the writer worker. A full outbound queue drops
// its oldest message to make room.
func (e *Engine) Write(id uint64, data []byte) error {
	a, ok := e.reg.Acquire(id)
	if !ok {
		return fmt.Errorf("%w: connection %d", api.ErrNotFound, id)
	}
	defer e.reg.Release(id)
	if limit := a.conn.MessageLength(); len(data)+1 > limit {
		return fmt.Errorf("%w: %d bytes into %d-byte frames", api.ErrMessageTooLong, len(data), limit)
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	if a.out.Len() == a.out.Cap() {
		log.Printf("[engine] id=%d: %v, dropping oldest", id, api.ErrQueueFull)
	}
	if !a.out.Enqueue(msg, concurrency.NoWait) {
		return fmt.Errorf("%w: connection %d", api.ErrQueueClosed, id)
	}
	return nil
}

// Address returns the connection's resolved address as "<host>/<port>".
func (e *Engine) Address(id uint64) (string, error) {
	a, ok := e.reg.Acquire(id)
	if !ok {
		return "", fmt.Errorf("%w: connection %d", api.ErrNotFound, id)
	}
	defer e.reg.Release(id)
	return e.net.Address(a.conn), nil
}

// IsServer reports whether id names a server connection.
func (e *Engine) IsServer(id uint64) (bool, error) {
	a, ok := e.reg.Acquire(id)
	if !ok {
		return false, fmt.Errorf("%w: connection %d", api.ErrNotFound, id)
	}
	defer e.reg.Release(id)
	return a.isServer(), nil
}

// Count returns the number of open connections, accepted clients included.
func (e *Engine) Count() int {
	return e.reg.Len()
}

// ClientCount returns the size of a server's client set. A client
// connection counts as 1; an unknown identifier as 0.
func (e *Engine) ClientCount(id uint64) int {
	a, ok := e.reg.Acquire(id)
	if !ok {
		return 0
	}
	defer e.reg.Release(id)
	if !a.isServer() {
		return 1
	}
	return a.conn.ClientCount()
}

// SetMessageLength changes the fixed frame size of the connection,
// clamping to MaxMessageLength, and returns the applied length.
func (e *Engine) SetMessageLength(id uint64, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: message length %d", api.ErrInvalidArgument, n)
	}
	if n > api.MaxMessageLength {
		n = api.MaxMessageLength
	}
	a, ok := e.reg.Acquire(id)
	if !ok {
		return 0, fmt.Errorf("%w: connection %d", api.ErrNotFound, id)
	}
	defer e.reg.Release(id)
	if err := a.conn.SetMessageLength(n); err != nil {
		return 0, err
	}
	return n, nil
}

// Shutdown closes every connection and stops the workers.
func (e *Engine) Shutdown() {
	e.reg.Discard()
	e.stopWorkers()
}

func (e *Engine) startWorkers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.wg.Add(2)
	go e.readLoop(e.stop)
	go e.writeLoop(e.stop)
	log.Printf("[engine] workers started")
}

// stopWorkers signals both workers and waits for them, bounded by
// JoinTimeoutMs. A worker stuck in its multiplexing wait is abandoned
// after the bound; it exits on its next pass.
func (e *Engine) stopWorkers() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("[engine] workers stopped")
	case <-time.After(time.Duration(e.cfg.JoinTimeoutMs) * time.Millisecond):
		log.Printf("[engine] worker join timed out after %dms", e.cfg.JoinTimeoutMs)
	}
}
