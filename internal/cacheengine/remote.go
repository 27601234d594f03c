package cacheengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/stratum-build/stratum/internal/errorsx"
	"github.com/stratum-build/stratum/internal/types"
)

// RemoteCache is the optional remote blob-store tier, grounded on the
// teacher's internal/cache.httpCache (PUT/GET by hash, no local
// persistence) and internal/client.Client's retryablehttp-backed HTTP
// client. retryablehttp already retries transient transport failures
// per-request; backoff.ExponentialBackOff wraps the whole Fetch/Put
// operation (including archive I/O) so a server returning 200 with a
// truncated body also gets retried, which retryablehttp alone does not
// cover.
type RemoteCache struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewRemoteCache builds a RemoteCache pointed at baseURL (e.g.
// "https://cache.example.com/v1/artifacts").
func NewRemoteCache(baseURL string) *RemoteCache {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &RemoteCache{baseURL: baseURL, client: client}
}

func (c *RemoteCache) url(hash types.Hash) string {
	return fmt.Sprintf("%s/%s", c.baseURL, hash)
}

func (c *RemoteCache) Exists(hash types.Hash) bool {
	req, err := retryablehttp.NewRequest(http.MethodHead, c.url(hash), nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *RemoteCache) Fetch(ctx context.Context, anchor string, hash types.Hash, outputs []string) (bool, int, error) {
	tmp, err := os.CreateTemp("", "stratum-cache-*.tar.zst")
	if err != nil {
		return false, 0, &errorsx.CacheError{Hash: string(hash), Op: "remote-fetch", Message: err.Error()}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	op := func() error {
		tmp.Seek(0, io.SeekStart)
		tmp.Truncate(0)
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url(hash), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return backoff.Permanent(&CacheDisabledError{Reason: fmt.Sprintf("remote cache returned %d", resp.StatusCode)})
		}
		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(errNotFound)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		_, err = io.Copy(tmp, resp.Body)
		return err
	}

	if err := backoff.Retry(op, remoteBackoff()); err != nil {
		if err == errNotFound {
			return false, 0, nil
		}
		var cd *CacheDisabledError
		if isCacheDisabled(err, &cd) {
			return false, 0, cd
		}
		return false, 0, &errorsx.CacheError{Hash: string(hash), Op: "remote-fetch", Message: err.Error()}
	}

	if _, err := RestoreArchive(tmpPath, anchor); err != nil {
		return false, 0, err
	}
	return true, 0, nil
}

func (c *RemoteCache) Put(ctx context.Context, anchor string, hash types.Hash, duration int, outputs []string) error {
	tmp, err := os.CreateTemp("", "stratum-cache-*.tar.zst")
	if err != nil {
		return &errorsx.CacheError{Hash: string(hash), Op: "remote-put", Message: err.Error()}
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := WriteArchive(tmpPath, anchor, outputs); err != nil {
		return err
	}

	op := func() error {
		body, err := os.ReadFile(tmpPath)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, c.url(hash), bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return backoff.Permanent(&CacheDisabledError{Reason: fmt.Sprintf("remote cache returned %d", resp.StatusCode)})
		}
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	}

	if err := backoff.Retry(op, remoteBackoff()); err != nil {
		var cd *CacheDisabledError
		if isCacheDisabled(err, &cd) {
			return cd
		}
		return &errorsx.CacheError{Hash: string(hash), Op: "remote-put", Message: err.Error()}
	}
	return nil
}

var errNotFound = fmt.Errorf("cache miss")

func remoteBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return b
}

func isCacheDisabled(err error, target **CacheDisabledError) bool {
	for err != nil {
		if cd, ok := err.(*CacheDisabledError); ok {
			*target = cd
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
