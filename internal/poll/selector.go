//go:build linux

// File: internal/poll/selector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Legacy select(2)-based Set implementation: a descriptor bitmap plus a
// high-water mark one past the largest subscribed descriptor. Wait copies
// the bitmap into a scratch set; readiness is queried against the scratch.

package poll

import (
	"sync"

	"golang.org/x/sys/unix"
)

type selectSet struct {
	mu      sync.Mutex
	polled  unix.FdSet
	active  unix.FdSet
	highFD  int // one past the largest subscribed fd
	members int
}

// NewLegacy creates the select(2)-backed descriptor set.
func NewLegacy() Set {
	return &selectSet{}
}

func (s *selectSet) Insert(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fd >= unix.FD_SETSIZE {
		return unix.EINVAL
	}
	if s.polled.IsSet(fd) {
		return nil
	}
	s.polled.Set(fd)
	s.members++
	if fd >= s.highFD {
		s.highFD = fd + 1
	}
	return nil
}

func (s *selectSet) Remove(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fd < 0 || fd >= unix.FD_SETSIZE || !s.polled.IsSet(fd) {
		return
	}
	s.polled.Clear(fd)
	s.active.Clear(fd)
	s.members--
	for s.highFD > 0 && !s.polled.IsSet(s.highFD-1) {
		s.highFD--
	}
}

func (s *selectSet) Wait(timeoutMs int) (int, error) {
	s.mu.Lock()
	polled := s.polled
	nfds := s.highFD
	s.mu.Unlock()

	var n int
	var err error
	var scratch unix.FdSet
	for {
		// Select mutates both the fd set and the timeout in place; rearm
		// fully on every retry.
		scratch = polled
		tv := unix.NsecToTimeval(int64(timeoutMs) * 1e6)
		n, err = unix.Select(nfds, &scratch, nil, nil, &tv)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.active = scratch
	s.mu.Unlock()
	return n, nil
}

func (s *selectSet) Readable(fd int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fd < 0 || fd >= unix.FD_SETSIZE {
		return false
	}
	return s.active.IsSet(fd)
}

func (s *selectSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members
}
