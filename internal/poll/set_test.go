//go:build linux

// File: internal/poll/set_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Both back-ends are exercised through the shared Set contract over pipe
// descriptor pairs.

package poll

import (
	"testing"

	"golang.org/x/sys/unix"
)

func makePipe(t *testing.T) (int, int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func backends() map[string]func() Set {
	return map[string]func() Set{
		"poll":   New,
		"select": NewLegacy,
	}
}

func TestSetInsertRemoveLen(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			s := mk()
			r1, _ := makePipe(t)
			r2, _ := makePipe(t)
			if err := s.Insert(r1); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := s.Insert(r1); err != nil {
				t.Fatalf("duplicate insert: %v", err)
			}
			if err := s.Insert(r2); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if s.Len() != 2 {
				t.Fatalf("len = %d, want 2", s.Len())
			}
			s.Remove(r1)
			s.Remove(r1) // unknown fd is a no-op
			if s.Len() != 1 {
				t.Fatalf("len = %d, want 1", s.Len())
			}
		})
	}
}

func TestSetWaitReportsReadable(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			s := mk()
			rd, wr := makePipe(t)
			quiet, _ := makePipe(t)
			if err := s.Insert(rd); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := s.Insert(quiet); err != nil {
				t.Fatalf("insert: %v", err)
			}

			n, err := s.Wait(0)
			if err != nil {
				t.Fatalf("wait: %v", err)
			}
			if n != 0 {
				t.Fatalf("ready = %d before any write", n)
			}

			if _, err := unix.Write(wr, []byte("x")); err != nil {
				t.Fatalf("write: %v", err)
			}
			n, err = s.Wait(1000)
			if err != nil {
				t.Fatalf("wait: %v", err)
			}
			if n != 1 {
				t.Fatalf("ready = %d, want 1", n)
			}
			if !s.Readable(rd) {
				t.Fatal("written pipe not reported readable")
			}
			if s.Readable(quiet) {
				t.Fatal("quiet pipe reported readable")
			}
		})
	}
}

func TestSetWaitTimeout(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			s := mk()
			rd, _ := makePipe(t)
			if err := s.Insert(rd); err != nil {
				t.Fatalf("insert: %v", err)
			}
			n, err := s.Wait(20)
			if err != nil {
				t.Fatalf("wait: %v", err)
			}
			if n != 0 {
				t.Fatalf("ready = %d on idle set", n)
			}
		})
	}
}

func TestSetRemoveClearsReadiness(t *testing.T) {
	for name, mk := range backends() {
		t.Run(name, func(t *testing.T) {
			s := mk()
			rd, wr := makePipe(t)
			if err := s.Insert(rd); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if _, err := unix.Write(wr, []byte("x")); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := s.Wait(1000); err != nil {
				t.Fatalf("wait: %v", err)
			}
			if !s.Readable(rd) {
				t.Fatal("pipe not readable after write")
			}
			s.Remove(rd)
			if s.Readable(rd) {
				t.Fatal("removed fd still reported readable")
			}
		})
	}
}

func TestSelectRejectsOversizedFD(t *testing.T) {
	s := NewLegacy()
	if err := s.Insert(unix.FD_SETSIZE); err == nil {
		t.Fatal("insert past FD_SETSIZE succeeded")
	}
}
