package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()

	r.Add(1)
	r.Add(2)
	require.Equal(t, int64(2), r.Count())

	// Duplicate adds and removes are counted once.
	r.Add(1)
	require.Equal(t, int64(2), r.Count())

	r.Remove(1)
	r.Remove(1)
	require.Equal(t, int64(1), r.Count())

	r.Remove(2)
	require.Zero(t, r.Count())

	r.Remove(99)
	require.Zero(t, r.Count())
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := int64(0); i < 100; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			r.Add(id)
			r.Remove(id)
		}(i)
	}
	wg.Wait()

	require.Zero(t, r.Count())
}
