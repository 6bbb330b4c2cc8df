package job

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistryCreateGetRemove(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(4, zap.NewNop())
	id, ch := reg.Create()
	require.NotEmpty(t, id)
	require.NotNil(t, ch)

	rec, ok := reg.Get(id)
	require.True(t, ok)
	require.Same(t, ch, rec.Channel)
	require.False(t, rec.CreatedAt.IsZero())

	// Get has no side effect.
	_, ok = reg.Get(id)
	require.True(t, ok)

	rec, ok = reg.Remove(id)
	require.True(t, ok)
	require.Same(t, ch, rec.Channel)

	_, ok = reg.Remove(id)
	require.False(t, ok, "second remove must report absent")
	require.NotPanics(t, func() { reg.Remove(id) })
}

func TestRegistryConcurrentCreateYieldsUniqueIDs(t *testing.T) {
	t.Parallel()

	const (
		goroutines = 100
		perRoutine = 100
	)
	reg := NewRegistry(1, zap.NewNop())

	var (
		mu  sync.Mutex
		ids = make(map[string]struct{}, goroutines*perRoutine)
		wg  sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perRoutine)
			for i := 0; i < perRoutine; i++ {
				id, _ := reg.Create()
				local = append(local, id)
			}
			mu.Lock()
			for _, id := range local {
				ids[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, ids, goroutines*perRoutine, "job identifiers collided")
	require.Equal(t, goroutines*perRoutine, reg.Len())
}

func TestRegistrySweepRemovesOnlyStaleJobs(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(1, zap.NewNop())
	staleID, _ := reg.Create()

	// Backdate the stale record past any TTL we sweep with.
	reg.mu.Lock()
	rec := reg.jobs[staleID]
	rec.CreatedAt = time.Now().Add(-time.Hour)
	reg.jobs[staleID] = rec
	reg.mu.Unlock()

	freshID, _ := reg.Create()

	removed := reg.Sweep(time.Minute)
	require.Equal(t, 1, removed)

	_, ok := reg.Get(staleID)
	require.False(t, ok)
	_, ok = reg.Get(freshID)
	require.True(t, ok)

	require.Zero(t, reg.Sweep(time.Minute))
}
