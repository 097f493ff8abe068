//go:build linux

// File: internal/ipnet/network_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loopback exchanges across the four connection variants.

package ipnet

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/momentics/asyncip/api"
)

func waitAccept(t *testing.T, n *Network, srv *Conn) *Conn {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n.WaitEvent(100)
		if !n.IsDataAvailable(srv) {
			continue
		}
		child, err := srv.Accept()
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		if child != nil {
			return child
		}
	}
	t.Fatal("no client accepted before deadline")
	return nil
}

func waitReceive(t *testing.T, n *Network, c *Conn) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n.WaitEvent(100)
		msg, err := c.Receive()
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if msg != nil {
			return msg
		}
	}
	t.Fatal("no message before deadline")
	return nil
}

func TestOpenValidation(t *testing.T) {
	n := NewNetwork(false)
	if _, err := n.Open(api.ConnType(0xFF), "", 50000); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("bad type byte: %v", err)
	}
	if _, err := n.Open(api.TCP|api.Server, "", 1024); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("low port: %v", err)
	}
	if _, err := n.Open(api.TCP|api.Client, "", 50000); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("client without host: %v", err)
	}
}

func TestTCPExchange(t *testing.T) {
	n := NewNetwork(false)
	srv, err := n.Open(api.TCP|api.Server, "", 49201)
	if err != nil {
		t.Fatalf("open server: %v", err)
	}
	defer srv.Close()

	cli, err := n.Open(api.TCP|api.Client, "127.0.0.1", 49201)
	if err != nil {
		t.Fatalf("open client: %v", err)
	}
	defer cli.Close()

	child := waitAccept(t, n, srv)
	if child.Kind() != TCPClient {
		t.Fatalf("child kind = %v", child.Kind())
	}
	if srv.ClientCount() != 1 {
		t.Fatalf("client count = %d", srv.ClientCount())
	}

	payload := []byte("ping from client")
	if _, err := cli.Send(payload); err != nil {
		t.Fatalf("client send: %v", err)
	}
	got := waitReceive(t, n, child)
	if len(got) != cli.MessageLength() {
		t.Fatalf("frame size = %d, want %d", len(got), cli.MessageLength())
	}
	if !bytes.HasPrefix(got, payload) {
		t.Fatalf("payload mismatch: %q", got[:len(payload)])
	}

	reply := []byte("pong from server")
	if _, err := srv.Send(reply); err != nil {
		t.Fatalf("server broadcast: %v", err)
	}
	got = waitReceive(t, n, cli)
	if !bytes.HasPrefix(got, reply) {
		t.Fatalf("reply mismatch: %q", got[:len(reply)])
	}
}

func TestTCPPeerClose(t *testing.T) {
	n := NewNetwork(false)
	srv, err := n.Open(api.TCP|api.Server, "", 49202)
	if err != nil {
		t.Fatalf("open server: %v", err)
	}
	defer srv.Close()
	cli, err := n.Open(api.TCP|api.Client, "127.0.0.1", 49202)
	if err != nil {
		t.Fatalf("open client: %v", err)
	}
	child := waitAccept(t, n, srv)

	if err := cli.Close(); err != nil {
		t.Fatalf("client close: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n.WaitEvent(100)
		_, err := child.Receive()
		if errors.Is(err, api.ErrPeerClosed) {
			if child.Valid() {
				t.Fatal("descriptor still valid after peer close")
			}
			return
		}
	}
	t.Fatal("peer close never observed")
}

func TestTCPMessageTooLong(t *testing.T) {
	n := NewNetwork(false)
	srv, err := n.Open(api.TCP|api.Server, "", 49203)
	if err != nil {
		t.Fatalf("open server: %v", err)
	}
	defer srv.Close()
	cli, err := n.Open(api.TCP|api.Client, "127.0.0.1", 49203)
	if err != nil {
		t.Fatalf("open client: %v", err)
	}
	defer cli.Close()

	if err := cli.SetMessageLength(16); err != nil {
		t.Fatalf("set message length: %v", err)
	}
	if _, err := cli.Send(make([]byte, 16)); !errors.Is(err, api.ErrMessageTooLong) {
		t.Fatalf("oversized send: %v", err)
	}
	if _, err := cli.Send(make([]byte, 15)); err != nil {
		t.Fatalf("exact-fit send: %v", err)
	}
}

func TestUDPExchange(t *testing.T) {
	n := NewNetwork(false)
	srv, err := n.Open(api.UDP|api.Server, "", 49204)
	if err != nil {
		t.Fatalf("open server: %v", err)
	}
	cli, err := n.Open(api.UDP|api.Client, "127.0.0.1", 49204)
	if err != nil {
		t.Fatalf("open client: %v", err)
	}

	payload := []byte("udp datagram")
	if _, err := cli.Send(payload); err != nil {
		t.Fatalf("client send: %v", err)
	}

	pseudo := waitAccept(t, n, srv)
	if pseudo.Kind() != UDPClient {
		t.Fatalf("pseudo kind = %v", pseudo.Kind())
	}
	got := waitReceive(t, n, pseudo)
	if !bytes.HasPrefix(got, payload) {
		t.Fatalf("payload mismatch: %q", got[:len(payload)])
	}

	// Same source must not materialise a second pseudo-client.
	if _, err := cli.Send([]byte("again")); err != nil {
		t.Fatalf("client send: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n.WaitEvent(100)
		if !n.IsDataAvailable(srv) {
			continue
		}
		dup, err := srv.Accept()
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		if dup != nil {
			t.Fatal("duplicate pseudo-client for known source")
		}
		break
	}
	got = waitReceive(t, n, pseudo)
	if !bytes.HasPrefix(got, []byte("again")) {
		t.Fatalf("second payload mismatch: %q", got[:5])
	}

	reply := []byte("reply")
	if _, err := pseudo.Send(reply); err != nil {
		t.Fatalf("pseudo send: %v", err)
	}
	got = waitReceive(t, n, cli)
	if !bytes.HasPrefix(got, reply) {
		t.Fatalf("reply mismatch: %q", got[:len(reply)])
	}

	// Server close is deferred until the shared descriptor's last user
	// goes away.
	if err := srv.Close(); err != nil {
		t.Fatalf("server close: %v", err)
	}
	if !srv.Valid() {
		t.Fatal("shared descriptor closed while pseudo-client lives")
	}
	if err := pseudo.Close(); err != nil {
		t.Fatalf("pseudo close: %v", err)
	}
	if srv.Valid() {
		t.Fatal("shared descriptor survived last close")
	}
	cli.Close()
}

func TestAddressFormat(t *testing.T) {
	n := NewNetwork(false)
	cli, err := n.Open(api.UDP|api.Client, "127.0.0.1", 49205)
	if err != nil {
		t.Fatalf("open client: %v", err)
	}
	defer cli.Close()
	addr := n.Address(cli)
	if !strings.HasSuffix(addr, "/49205") {
		t.Fatalf("address %q lacks port suffix", addr)
	}
	if !strings.HasPrefix(addr, "127.0.0.1") {
		t.Fatalf("address %q lacks numeric host", addr)
	}
}

func TestLegacyIPv4Only(t *testing.T) {
	n := NewNetwork(true)
	srv, err := n.Open(api.UDP|api.Server, "", 49206)
	if err != nil {
		t.Fatalf("open legacy server: %v", err)
	}
	defer srv.Close()
	if _, err := n.Open(api.UDP|api.Client, "::1", 49206); err == nil {
		t.Fatal("legacy path accepted an IPv6 literal")
	}
}
