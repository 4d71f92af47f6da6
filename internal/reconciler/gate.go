/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reconciler

import (
	"errors"
	"sort"
	"sync"
)

// ErrInstanceBusy is returned when an operation targets an instance that
// already has a reconciliation in flight.
var ErrInstanceBusy = errors.New("instance has an operation in flight")

// Gate serializes mutations per instance. Snapshot writes and live catalog
// changes for one instance must never interleave, while operations against
// different instances run concurrently.
type Gate struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{held: make(map[string]bool)}
}

// TryAcquire claims the instance, returning false if it is already held.
func (g *Gate) TryAcquire(instance string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[instance] {
		return false
	}
	g.held[instance] = true
	return true
}

// Release frees the instance. Releasing an unheld instance is a no-op.
func (g *Gate) Release(instance string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, instance)
}

// Held lists the instances with operations in flight, sorted by name.
func (g *Gate) Held() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.held))
	for name := range g.held {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
