package cacheengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratum-build/stratum/internal/types"
)

func writeOutput(t *testing.T, anchor, rel, content string) {
	t.Helper()
	full := filepath.Join(anchor, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestArchiveRoundTrip(t *testing.T) {
	anchor := t.TempDir()
	writeOutput(t, anchor, "dist/out.js", "console.log(1)")
	writeOutput(t, anchor, "dist/nested/deep.js", "console.log(2)")

	archivePath := filepath.Join(t.TempDir(), "entry.tar.zst")
	require.NoError(t, WriteArchive(archivePath, anchor, []string{"dist/out.js", "dist/nested/deep.js"}))

	restoreAnchor := t.TempDir()
	restored, err := RestoreArchive(archivePath, restoreAnchor)
	require.NoError(t, err)
	assert.NotEmpty(t, restored)

	data, err := os.ReadFile(filepath.Join(restoreAnchor, "dist", "out.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))
}

func TestFSCachePutFetch(t *testing.T) {
	anchor := t.TempDir()
	writeOutput(t, anchor, "dist/out.js", "built")

	cache, err := NewFSCache(t.TempDir())
	require.NoError(t, err)

	hash := types.Hash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, cache.Put(context.Background(), anchor, hash, 42, []string{"dist/out.js"}))
	assert.True(t, cache.Exists(hash))

	restoreAnchor := t.TempDir()
	hit, duration, err := cache.Fetch(context.Background(), restoreAnchor, hash, nil)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 42, duration)

	data, err := os.ReadFile(filepath.Join(restoreAnchor, "dist", "out.js"))
	require.NoError(t, err)
	assert.Equal(t, "built", string(data))
}

func TestFSCacheMiss(t *testing.T) {
	cache, err := NewFSCache(t.TempDir())
	require.NoError(t, err)
	hit, _, err := cache.Fetch(context.Background(), t.TempDir(), types.Hash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), nil)
	require.NoError(t, err)
	assert.False(t, hit)
}

type fakeCache struct {
	puts, fetches int
	hit           bool
}

func (f *fakeCache) Fetch(ctx context.Context, anchor string, hash types.Hash, outputs []string) (bool, int, error) {
	f.fetches++
	return f.hit, 7, nil
}
func (f *fakeCache) Put(ctx context.Context, anchor string, hash types.Hash, duration int, outputs []string) error {
	f.puts++
	return nil
}
func (f *fakeCache) Exists(hash types.Hash) bool { return f.hit }

func TestMultiplexerPromotesOnLowerTierHit(t *testing.T) {
	local := &fakeCache{hit: false}
	remote := &fakeCache{hit: true}
	mplex := NewMultiplexer(nil, local, remote)

	hash := types.Hash("cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"[:64])
	hit, duration, err := mplex.Fetch(context.Background(), t.TempDir(), hash, nil)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 7, duration)
	assert.Equal(t, 1, local.puts) // promoted into the higher-priority tier
}

func TestMultiplexerDropsDisabledTier(t *testing.T) {
	dropped := false
	bad := &disabledCache{}
	good := &fakeCache{}
	mplex := NewMultiplexer(func(c Cache, reason *CacheDisabledError) { dropped = true }, bad, good)

	hash := types.Hash("dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd"[:64])
	err := mplex.Put(context.Background(), t.TempDir(), hash, 1, nil)
	require.NoError(t, err)
	assert.True(t, dropped)
	assert.Equal(t, 1, good.puts)
}

type disabledCache struct{}

func (disabledCache) Fetch(ctx context.Context, anchor string, hash types.Hash, outputs []string) (bool, int, error) {
	return false, 0, &CacheDisabledError{Reason: "revoked"}
}
func (disabledCache) Put(ctx context.Context, anchor string, hash types.Hash, duration int, outputs []string) error {
	return &CacheDisabledError{Reason: "revoked"}
}
func (disabledCache) Exists(hash types.Hash) bool { return false }
