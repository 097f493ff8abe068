//go:build linux

// File: internal/poll/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// poll(2)-based Set implementation. Descriptors are kept in an array sorted
// by descriptor value; lookup, insert and remove are binary-searched. A
// removed descriptor is marked with a sentinel value so it sinks to the end
// on re-sort, then the array shrinks by one.

package poll

import (
	"sort"
	"sync"

	"golang.org/x/sys/unix"
)

// readableEvents are the readiness bits each entry subscribes to: normal
// and out-of-band data.
const readableEvents = unix.EPOLLRDNORM | unix.EPOLLRDBAND

// removedFD sorts after any real descriptor.
const removedFD = int32(1<<31 - 1)

type pollSet struct {
	mu  sync.Mutex
	fds []unix.PollFd
}

// New creates the poll(2)-backed descriptor set.
func New() Set {
	return &pollSet{}
}

// search returns the index of fd in s.fds, or -1. Caller holds s.mu.
func (s *pollSet) search(fd int) int {
	i := sort.Search(len(s.fds), func(i int) bool { return s.fds[i].Fd >= int32(fd) })
	if i < len(s.fds) && s.fds[i].Fd == int32(fd) {
		return i
	}
	return -1
}

func (s *pollSet) Insert(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.search(fd) >= 0 {
		return nil
	}
	s.fds = append(s.fds, unix.PollFd{Fd: int32(fd), Events: readableEvents})
	sort.Slice(s.fds, func(i, j int) bool { return s.fds[i].Fd < s.fds[j].Fd })
	return nil
}

func (s *pollSet) Remove(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.search(fd)
	if i < 0 {
		return
	}
	s.fds[i].Fd = removedFD
	sort.Slice(s.fds, func(i, j int) bool { return s.fds[i].Fd < s.fds[j].Fd })
	s.fds = s.fds[:len(s.fds)-1]
}

func (s *pollSet) Wait(timeoutMs int) (int, error) {
	s.mu.Lock()
	scratch := make([]unix.PollFd, len(s.fds))
	copy(scratch, s.fds)
	s.mu.Unlock()

	var n int
	var err error
	for {
		n, err = unix.Poll(scratch, timeoutMs)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return 0, err
	}

	// Publish readiness back onto the live entries. Descriptors removed
	// while Wait was blocked are skipped.
	s.mu.Lock()
	for _, pfd := range scratch {
		if i := s.search(int(pfd.Fd)); i >= 0 {
			s.fds[i].Revents = pfd.Revents
		}
	}
	s.mu.Unlock()
	return n, nil
}

func (s *pollSet) Readable(fd int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.search(fd)
	if i < 0 {
		return false
	}
	return s.fds[i].Revents&(readableEvents|unix.POLLIN) != 0
}

func (s *pollSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fds)
}
