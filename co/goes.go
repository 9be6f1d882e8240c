// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package co

import (
	"sync"
)

// Goes tracks the life-cycle of a set of goroutines.
// The zero value is ready to use.
type Goes struct {
	wg sync.WaitGroup
}

// Go runs f in a new goroutine.
func (g *Goes) Go(f func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		f()
	}()
}

// Wait blocks until all goroutines started by Go have returned.
func (g *Goes) Wait() {
	g.wg.Wait()
}

// Done returns a channel closed once all goroutines started by Go have returned.
// Handy for select-based shutdown paths.
func (g *Goes) Done() chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.wg.Wait()
	}()
	return done
}
