package downloader

import (
	"context"
	"sync"
	"time"
)

// Caches downloaded files in memory
type MemoryDownloader struct {
	mutex sync.Mutex
	cache map[string]downloaderCacheEntry

	TimeNow func() time.Time
}

func NewMemoryDownloader() *MemoryDownloader {
	return &MemoryDownloader{
		cache:   make(map[string]downloaderCacheEntry),
		TimeNow: time.Now,
	}
}

type downloaderCacheEntry struct {
	data       []byte
	expiration time.Time
}

func (d *MemoryDownloader) lookup(url string) ([]byte, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	entry, ok := d.cache[url]
	if !ok {
		return nil, false
	}
	if !entry.expiration.After(d.TimeNow()) {
		delete(d.cache, url)
		return nil, false
	}
	return entry.data, true
}

func (d *MemoryDownloader) store(url string, data []byte, ttl time.Duration) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.cache[url] = downloaderCacheEntry{
		data:       data,
		expiration: d.TimeNow().Add(ttl),
	}
}

// The lock is not held during the request, so concurrent misses on
// the same URL may each download it.
func (d *MemoryDownloader) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	if options.Cache {
		if data, ok := d.lookup(url); ok {
			return data, nil
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, err
	}

	if options.Cache {
		d.store(url, body, options.CacheTTL)
	}

	return body, nil
}
