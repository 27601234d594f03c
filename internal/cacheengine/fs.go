package cacheengine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/nightlyone/lockfile"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/types"
)

// FSCache is the local filesystem cache tier, grounded on the teacher's
// internal/cache.fsCache (hash.tar.zst + hash-meta.json sibling files)
// but using nightlyone/lockfile to serialise writers against the same
// hash, since spec.md §4.6 requires Put to be safe under concurrent
// pipeline execution of tasks sharing outputs (e.g. retried attempts).
type FSCache struct {
	dir string
}

// NewFSCache returns an FSCache rooted at dir, creating it if necessary.
func NewFSCache(dir string) (*FSCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &errorsx.CacheError{Op: "fs-init", Message: err.Error()}
	}
	return &FSCache{dir: dir}, nil
}

func (c *FSCache) archivePath(hash types.Hash) string {
	return filepath.Join(c.dir, string(hash)+".tar.zst")
}

func (c *FSCache) metaPath(hash types.Hash) string {
	return filepath.Join(c.dir, string(hash)+"-meta.json")
}

func (c *FSCache) lockPath(hash types.Hash) string {
	return filepath.Join(c.dir, string(hash)+".lock")
}

type cacheMeta struct {
	Hash     string `json:"hash"`
	Duration int    `json:"duration"`
}

func (c *FSCache) Exists(hash types.Hash) bool {
	_, err := os.Stat(c.archivePath(hash))
	return err == nil
}

func (c *FSCache) Fetch(_ context.Context, anchor string, hash types.Hash, _ []string) (bool, int, error) {
	if !c.Exists(hash) {
		return false, 0, nil
	}
	if _, err := RestoreArchive(c.archivePath(hash), anchor); err != nil {
		return false, 0, err
	}
	meta, err := c.readMeta(hash)
	if err != nil {
		return true, 0, err
	}
	return true, meta.Duration, nil
}

func (c *FSCache) Put(_ context.Context, anchor string, hash types.Hash, duration int, outputs []string) error {
	lock, err := lockfile.New(c.lockPath(hash))
	if err != nil {
		return &errorsx.CacheError{Hash: string(hash), Op: "lock-init", Message: err.Error()}
	}
	if err := c.acquireWithRetry(lock); err != nil {
		return &errorsx.CacheError{Hash: string(hash), Op: "lock-acquire", Message: err.Error()}
	}
	defer lock.Unlock()

	if err := WriteArchive(c.archivePath(hash), anchor, outputs); err != nil {
		return err
	}
	return c.writeMeta(hash, cacheMeta{Hash: string(hash), Duration: duration})
}

// acquireWithRetry retries lock acquisition with short fixed backoff: a
// concurrent Put for the same hash (two attempts of the same task racing
// after a retry) should wait rather than fail the run.
func (c *FSCache) acquireWithRetry(lock lockfile.Lockfile) error {
	var lastErr error
	for i := 0; i < 20; i++ {
		if err := lock.TryLock(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(50 * time.Millisecond)
	}
	return lastErr
}

func (c *FSCache) readMeta(hash types.Hash) (cacheMeta, error) {
	data, err := os.ReadFile(c.metaPath(hash))
	if err != nil {
		return cacheMeta{}, &errorsx.CacheError{Hash: string(hash), Op: "meta-read", Message: err.Error()}
	}
	var meta cacheMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, &errorsx.CacheError{Hash: string(hash), Op: "meta-parse", Message: err.Error()}
	}
	return meta, nil
}

func (c *FSCache) writeMeta(hash types.Hash, meta cacheMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return &errorsx.CacheError{Hash: string(hash), Op: "meta-marshal", Message: err.Error()}
	}
	if err := os.WriteFile(c.metaPath(hash), data, 0o644); err != nil {
		return &errorsx.CacheError{Hash: string(hash), Op: "meta-write", Message: err.Error()}
	}
	return nil
}
