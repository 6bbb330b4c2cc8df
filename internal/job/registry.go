// Package job owns the per-job event channel and the process-wide registry
// that maps job identifiers to live channels.
package job

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/udown/udownd/internal/metrics"
)

// Record pairs a job's channel with its creation time.
type Record struct {
	Channel   *Channel
	CreatedAt time.Time
}

// Registry is the process-wide job table. All methods are safe for concurrent
// use; none performs I/O.
type Registry struct {
	mu       sync.Mutex
	jobs     map[string]Record
	capacity int
	logger   *zap.Logger
}

// NewRegistry constructs a registry whose channels are created with the given
// capacity.
func NewRegistry(channelCapacity int, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		jobs:     make(map[string]Record),
		capacity: channelCapacity,
		logger:   logger,
	}
}

// Create mints a fresh unguessable identifier, registers a new channel under
// it, and returns both. It never blocks beyond the table lock.
func (r *Registry) Create() (string, *Channel) {
	// uuid.New is random (v4); rendered without dashes to match the compact
	// hex form clients embed in stream URLs.
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	ch := NewChannel(r.capacity, r.logger)
	r.mu.Lock()
	r.jobs[id] = Record{Channel: ch, CreatedAt: time.Now()}
	size := len(r.jobs)
	r.mu.Unlock()
	metrics.SetActiveJobs(size)
	return id, ch
}

// Get returns the record for id, if present. Pure lookup, no side effects.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[id]
	return rec, ok
}

// Remove atomically detaches and returns the record for id. Removing an
// absent id is a no-op; the second of two removes returns ok=false.
func (r *Registry) Remove(id string) (Record, bool) {
	r.mu.Lock()
	rec, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	size := len(r.jobs)
	r.mu.Unlock()
	if ok {
		metrics.SetActiveJobs(size)
	}
	return rec, ok
}

// Len reports the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Sweep removes every record older than ttl and returns how many it dropped.
// It bounds leakage from jobs that are never observed; a live stream removes
// its own record long before any sane TTL elapses.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	r.mu.Lock()
	var stale []string
	for id, rec := range r.jobs {
		if rec.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(r.jobs, id)
	}
	size := len(r.jobs)
	r.mu.Unlock()
	if len(stale) > 0 {
		metrics.SetActiveJobs(size)
		r.logger.Info("swept abandoned jobs", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// RunSweeper sweeps on the given interval until ctx is canceled.
func (r *Registry) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ttl)
		}
	}
}
