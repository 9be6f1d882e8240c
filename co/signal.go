// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package co

import (
	"sync"
)

// Waiter exposes the channel to wait on for a Signal.
// A value read from the channel reports true for a single wake-up and false for a broadcast.
type Waiter interface {
	C() <-chan bool
}

// Signal is a channel-based rendezvous point for goroutines announcing or awaiting
// the occurrence of an event. Unlike sync.Cond, waiters can combine it with other
// channels in a select.
type Signal struct {
	l  sync.Mutex
	ch chan bool
}

func (s *Signal) init() {
	if s.ch == nil {
		s.ch = make(chan bool, 1)
	}
}

// Signal wakes at most one goroutine waiting on s.
func (s *Signal) Signal() {
	s.l.Lock()
	defer s.l.Unlock()

	s.init()
	select {
	case s.ch <- true:
	default:
	}
}

// Broadcast wakes every goroutine waiting on s.
func (s *Signal) Broadcast() {
	s.l.Lock()
	defer s.l.Unlock()

	s.init()
	close(s.ch)
	s.ch = make(chan bool, 1)
}

// NewWaiter creates a Waiter bound to s. Each call to C returns the channel
// current at that moment, so a waiter loop never misses a broadcast.
func (s *Signal) NewWaiter() Waiter {
	s.l.Lock()
	defer s.l.Unlock()

	s.init()
	ref := s.ch

	return waiterFunc(func() (ch <-chan bool) {
		ch = ref

		s.l.Lock()
		ref = s.ch
		s.l.Unlock()

		return
	})
}

type waiterFunc func() <-chan bool

func (w waiterFunc) C() <-chan bool {
	return w()
}
