// Package cacheengine implements the Content-Addressed Cache of spec.md
// §4.6: deterministic archive storage keyed by task hash, a local
// filesystem tier and an optional remote HTTP tier multiplexed together,
// and the run-report side-car. Grounded in the teacher's internal/cache
// (Cache interface, cacheMultiplexer fan-out/promote/demote) and
// internal/cacheitem (deterministic tar+zstd archive format).
package cacheengine

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/types"
)

// Cache is the storage tier abstraction, matching the teacher's
// internal/cache.Cache shape but operating on types.Hash and a resolved
// output-file list rather than turborepo's string hash.
type Cache interface {
	// Fetch restores the archived outputs for hash into anchor, returning
	// whether a cache entry existed and the recorded task duration.
	Fetch(ctx context.Context, anchor string, hash types.Hash, outputs []string) (hit bool, duration int, err error)
	// Put archives outputs rooted at anchor under hash.
	Put(ctx context.Context, anchor string, hash types.Hash, duration int, outputs []string) error
	// Exists reports a cache hit without restoring anything.
	Exists(hash types.Hash) bool
}

// CacheDisabledError is returned by a Cache tier to signal the
// multiplexer should stop using it for the remainder of the run — e.g. a
// remote cache that returned 401/403. Grounded on the teacher's
// util.CacheDisabledError / cacheMultiplexer.removeCache flow.
type CacheDisabledError struct {
	Reason string
}

func (e *CacheDisabledError) Error() string { return "cache disabled: " + e.Reason }

// Multiplexer fans Put out to every tier concurrently and Fetch in
// priority order, promoting a lower-priority hit into every
// higher-priority tier, exactly as the teacher's cacheMultiplexer does.
type Multiplexer struct {
	mu     sync.RWMutex
	tiers  []Cache
	onDrop func(Cache, *CacheDisabledError)
}

// NewMultiplexer builds a Multiplexer over tiers in priority order
// (highest priority first, typically [local, remote]).
func NewMultiplexer(onDrop func(Cache, *CacheDisabledError), tiers ...Cache) *Multiplexer {
	return &Multiplexer{tiers: tiers, onDrop: onDrop}
}

func (m *Multiplexer) snapshot() []Cache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Cache, len(m.tiers))
	copy(out, m.tiers)
	return out
}

func (m *Multiplexer) drop(c Cache, reason *CacheDisabledError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tiers {
		if t == c {
			m.tiers = append(m.tiers[:i], m.tiers[i+1:]...)
			if m.onDrop != nil {
				m.onDrop(c, reason)
			}
			return
		}
	}
}

// Put stores into every tier concurrently, demoting any tier that
// reports CacheDisabledError rather than failing the whole operation.
func (m *Multiplexer) Put(ctx context.Context, anchor string, hash types.Hash, duration int, outputs []string) error {
	return m.storeUntil(ctx, anchor, hash, duration, outputs, len(m.snapshot()))
}

func (m *Multiplexer) storeUntil(ctx context.Context, anchor string, hash types.Hash, duration int, outputs []string, stopAt int) error {
	tiers := m.snapshot()
	if stopAt > len(tiers) {
		stopAt = len(tiers)
	}
	type removal struct {
		cache  Cache
		reason *CacheDisabledError
	}
	toRemove := make([]*removal, stopAt)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < stopAt; i++ {
		i := i
		c := tiers[i]
		g.Go(func() error {
			err := c.Put(gctx, anchor, hash, duration, outputs)
			if err == nil {
				return nil
			}
			var cd *CacheDisabledError
			if errors.As(err, &cd) {
				toRemove[i] = &removal{cache: c, reason: cd}
				return nil
			}
			return &errorsx.CacheError{Hash: string(hash), Op: "put", Message: err.Error()}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, r := range toRemove {
		if r != nil {
			m.drop(r.cache, r.reason)
		}
	}
	return nil
}

// Fetch checks tiers in priority order, stopping at the first hit and
// promoting it into every higher-priority tier.
func (m *Multiplexer) Fetch(ctx context.Context, anchor string, hash types.Hash, outputs []string) (bool, int, error) {
	tiers := m.snapshot()
	for i, c := range tiers {
		hit, duration, err := c.Fetch(ctx, anchor, hash, outputs)
		if err != nil {
			var cd *CacheDisabledError
			if errors.As(err, &cd) {
				m.drop(c, cd)
			}
			continue // lower-priority tiers still get a chance
		}
		if hit {
			_ = m.storeUntil(ctx, anchor, hash, duration, outputs, i)
			return true, duration, nil
		}
	}
	return false, 0, nil
}

func (m *Multiplexer) Exists(hash types.Hash) bool {
	for _, c := range m.snapshot() {
		if c.Exists(hash) {
			return true
		}
	}
	return false
}
