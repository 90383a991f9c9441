// Package slotmanager allocates the integer network slots [0,256) that
// back every sandbox's TAP subnet and derived MAC.
package slotmanager

import (
	"sync"

	"github.com/opensandbox/sandchest/internal/sandchesterr"
)

const maxSlots = 256

// Manager hands out slot ids in [0,256) under a single lock. No
// persistence: on restart every slot is free again.
type Manager struct {
	mu   sync.Mutex
	used [maxSlots]bool
}

func New() *Manager {
	return &Manager{}
}

// Allocate scans ascending from 0 and returns the first free slot.
// Lowest available id wins on ties between concurrent callers because
// the whole scan-and-mark happens under one lock.
func (m *Manager) Allocate() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < maxSlots; i++ {
		if !m.used[i] {
			m.used[i] = true
			return i, nil
		}
	}
	return 0, sandchesterr.ResourceExhaustedf("slotmanager: no free network slots")
}

// Release frees a slot. Idempotent: releasing an already-free or
// out-of-range slot is a no-op.
func (m *Manager) Release(slot int) {
	if slot < 0 || slot >= maxSlots {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[slot] = false
}

// ActiveCount returns the number of slots currently held.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.used {
		if u {
			n++
		}
	}
	return n
}
