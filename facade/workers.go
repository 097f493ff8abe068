//go:build linux

// File: facade/workers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The two background goroutines. The reader blocks on the descriptor set,
// then walks the registry: servers accept into their client-id queues,
// clients drain one frame into their inbound queues. The writer wakes on
// a fixed cadence and sends one queued message per connection per pass.

package facade

import (
	"errors"
	"log"
	"time"

	"github.com/momentics/asyncip/api"
	"github.com/momentics/asyncip/core/concurrency"
)

// readLoop multiplexes every open descriptor and dispatches readiness.
// Entries whose inbound queue is full are skipped until the application
// drains them. EOF handling happens inside Receive; the entry itself is
// evicted later by the writer when a send fails.
func (e *Engine) readLoop(stop <-chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		if e.net.WaitEvent(e.cfg.WaitTimeoutMs) == 0 {
			continue
		}
		e.reg.ForEachKey(func(id uint64) {
			a, ok := e.reg.Acquire(id)
			if !ok {
				return
			}
			defer e.reg.Release(id)
			if !e.net.IsDataAvailable(a.conn) {
				return
			}
			if a.isServer() {
				if a.kids.Len() == a.kids.Cap() {
					return
				}
				e.acceptPending(a)
				return
			}
			if a.in.Len() == a.in.Cap() {
				return
			}
			msg, err := a.conn.Receive()
			if errors.Is(err, api.ErrPeerClosed) {
				// Descriptor already invalidated; the writer evicts the
				// entry on its next send attempt.
				return
			}
			if err != nil || msg == nil {
				return
			}
			a.in.Enqueue(msg, concurrency.Wait)
		})
	}
}

// acceptPending admits one waiting client, registers it and queues its
// identifier for the server's GetClient.
func (e *Engine) acceptPending(a *asyncConn) {
	client, err := a.conn.Accept()
	if err != nil {
		log.Printf("[engine] accept: %v", err)
		return
	}
	if client == nil {
		return
	}
	id := e.register(client)
	a.kids.Enqueue(id, concurrency.Wait)
	log.Printf("[engine] accepted id=%d %s", id, e.net.Address(client))
}

// writeLoop drains one message per connection per pass. A fatal send
// failure evicts the connection; an oversized message is dropped but the
// connection survives.
func (e *Engine) writeLoop(stop <-chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Duration(e.cfg.WriteIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		var dead []uint64
		e.reg.ForEachKey(func(id uint64) {
			a, ok := e.reg.Acquire(id)
			if !ok {
				return
			}
			defer e.reg.Release(id)
			if a.out.Len() == 0 {
				return
			}
			msg, ok := a.out.Dequeue(concurrency.Wait)
			if !ok {
				return
			}
			if _, err := a.conn.Send(msg); err != nil {
				if errors.Is(err, api.ErrMessageTooLong) {
					log.Printf("[engine] id=%d: %v", id, err)
					return
				}
				log.Printf("[engine] send id=%d: %v", id, err)
				dead = append(dead, id)
			}
		})
		for _, id := range dead {
			if e.reg.Remove(id) && e.reg.Len() == 0 {
				go e.stopWorkers()
			}
		}
	}
}
