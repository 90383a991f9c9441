package slotmanager

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateIsAscendingFirstFit(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		slot, err := m.Allocate()
		require.NoError(t, err)
		require.Equal(t, i, slot)
	}
}

func TestReleaseIsIdempotentAndReusable(t *testing.T) {
	m := New()
	slot, err := m.Allocate()
	require.NoError(t, err)
	m.Release(slot)
	m.Release(slot)
	m.Release(slot + 1000) // out of range, must not panic

	again, err := m.Allocate()
	require.NoError(t, err)
	require.Equal(t, slot, again)
}

func TestAllocateExhaustion(t *testing.T) {
	m := New()
	for i := 0; i < maxSlots; i++ {
		_, err := m.Allocate()
		require.NoError(t, err)
	}
	_, err := m.Allocate()
	require.Error(t, err)

	m.Release(17)
	slot, err := m.Allocate()
	require.NoError(t, err)
	require.Equal(t, 17, slot)
}

func TestConcurrentAllocationsAreUnique(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	results := make(chan int, maxSlots)
	for i := 0; i < maxSlots; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := m.Allocate()
			require.NoError(t, err)
			results <- slot
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for slot := range results {
		require.False(t, seen[slot], "slot %d allocated twice", slot)
		seen[slot] = true
	}
	require.Len(t, seen, maxSlots)
}
