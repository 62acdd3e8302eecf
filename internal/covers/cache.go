// Package covers handles the on-disk cache of cover images, keyed by
// a stable per-book filename convention shared with the offline
// snapshot's asset directory.
package covers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Fetcher retrieves cover bytes for a book from the active backend.
type Fetcher interface {
	Cover(ctx context.Context, bookID int) ([]byte, error)
}

// Cache is a directory of cover images with fetch-on-miss.
type Cache struct {
	cacheDir string
	fetcher  Fetcher
}

// NewCache creates a cover cache at the specified directory. fetcher
// may be nil for a purely local cache (offline snapshots that ship
// their own assets).
func NewCache(cacheDir string, fetcher Fetcher) (*Cache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{cacheDir: cacheDir, fetcher: fetcher}, nil
}

// Filename returns the cache filename for a book's cover.
func Filename(bookID int) string {
	return fmt.Sprintf("image_book_id_%d.jpg", bookID)
}

// Get returns the path of the cached cover for a book, fetching and
// caching it first when missing. Returns os.ErrNotExist when the
// cover is not cached and no fetcher is configured.
func (c *Cache) Get(ctx context.Context, bookID int) (string, error) {
	cachePath := filepath.Join(c.cacheDir, Filename(bookID))

	if _, err := os.Stat(cachePath); err == nil {
		return cachePath, nil
	}

	if c.fetcher == nil {
		return "", os.ErrNotExist
	}

	data, err := c.fetcher.Cover(ctx, bookID)
	if err != nil {
		return "", fmt.Errorf("fetch cover for book %d: %w", bookID, err)
	}
	if err := c.write(cachePath, data); err != nil {
		return "", err
	}
	return cachePath, nil
}

// Invalidate removes the cached cover for a book, e.g. after a
// metadata edit replaced it.
func (c *Cache) Invalidate(bookID int) error {
	err := os.Remove(filepath.Join(c.cacheDir, Filename(bookID)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Purge removes every cached cover. Wired to the low-memory handler;
// it never touches the library snapshot itself.
func (c *Cache) Purge() error {
	matches, err := filepath.Glob(filepath.Join(c.cacheDir, "image_book_id_*.jpg"))
	if err != nil {
		return err
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// CacheDir returns the cache directory path.
func (c *Cache) CacheDir() string {
	return c.cacheDir
}

// write stores data atomically: temp file in the same directory, then
// rename.
func (c *Cache) write(cachePath string, data []byte) error {
	tmpFile, err := os.CreateTemp(c.cacheDir, "cover_tmp_")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath) // Clean up if we didn't rename
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return err
	}
	tmpFile.Close()

	return os.Rename(tmpPath, cachePath)
}
