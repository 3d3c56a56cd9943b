package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Caches downloaded files on disk, one file per URL. A file's
// modification time is its retrieval time, so the cache survives
// restarts.
type Filesystem struct {
	Dir string

	TimeNow func() time.Time

	mutex sync.Mutex
}

func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Filesystem{
		Dir:     dir,
		TimeNow: time.Now,
	}, nil
}

func (f *Filesystem) path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.Dir, hex.EncodeToString(sum[:]))
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	path := f.path(url)

	if options.Cache {
		if info, err := os.Stat(path); err == nil {
			if info.ModTime().Add(options.CacheTTL).After(f.TimeNow()) {
				body, err := os.ReadFile(path)
				if err != nil {
					return nil, fmt.Errorf("reading cached %s: %w", url, err)
				}
				log.Debug().Str("url", url).Msg("Download cache hit")
				return body, nil
			}
			log.Debug().Str("url", url).Msg("Download cache expired")
		}
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}

	if options.Cache {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, body, 0644); err != nil {
			return nil, fmt.Errorf("writing cache: %w", err)
		}
		now := f.TimeNow()
		if err := os.Chtimes(tmp, now, now); err != nil {
			return nil, fmt.Errorf("touching cache: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return nil, fmt.Errorf("renaming cache: %w", err)
		}
	}

	return body, nil
}
