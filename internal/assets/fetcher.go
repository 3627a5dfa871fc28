package assets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
)

// Fetcher downloads remote media into the asset store. Downloads run as
// independent concurrent operations bounded by a weighted semaphore; a fetch
// that stalls past the configured timeout is aborted and its partial
// temporary file removed by the store.
type Fetcher struct {
	store   *Store
	client  *http.Client
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger
}

// NewFetcher creates a fetcher with at most maxConcurrent in-flight downloads.
func NewFetcher(store *Store, maxConcurrent int, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		store:   store,
		client:  &http.Client{Timeout: timeout},
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: timeout,
		logger:  logger.With("component", "fetcher"),
	}
}

// Fetch downloads url and stores it content-addressed, returning the hash.
// Any failure (semaphore wait, network, non-2xx, I/O) yields ErrUnavailable;
// no partial row is ever committed.
func (f *Fetcher) Fetch(ctx context.Context, kind Kind, url, month string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("%w: empty url", ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%w: download slot unavailable: %v", ErrUnavailable, err)
	}
	defer f.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: bad url %s: %v", ErrUnavailable, url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %v", ErrUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: fetch %s: unexpected status %d", ErrUnavailable, url, resp.StatusCode)
	}

	hash, err := f.store.Put(ctx, kind, resp.Body, month)
	if err != nil {
		return "", err
	}

	f.logger.DebugContext(ctx, "Media stored", "kind", kind, "hash", hash, "url", url)
	return hash, nil
}
