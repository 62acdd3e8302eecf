package offline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jdmarshall90/libreca/internal/covers"
)

// AssetStore manages the snapshot's cover asset directory. Assets use
// the same filename convention as the live cover cache so the two
// backends share one directory.
type AssetStore struct {
	dir     string
	fetcher AssetFetcher
}

// NewAssetStore creates the asset directory if needed. fetcher may be
// nil when the snapshot has no remote payload to backfill from.
func NewAssetStore(dir string, fetcher AssetFetcher) (*AssetStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}
	return &AssetStore{dir: dir, fetcher: fetcher}, nil
}

// Path returns where the cover asset for a book lives, whether or not
// it exists yet.
func (s *AssetStore) Path(bookID int) string {
	return filepath.Join(s.dir, covers.Filename(bookID))
}

// Ensure makes the cover asset for a book present, fetching it from
// the remote payload on cache miss. Returns os.ErrNotExist when the
// asset is missing and no fetcher is configured.
func (s *AssetStore) Ensure(ctx context.Context, bookID int) error {
	path := s.Path(bookID)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if s.fetcher == nil {
		return os.ErrNotExist
	}

	data, err := s.fetcher.FetchImage(ctx, covers.Filename(bookID))
	if err != nil {
		return fmt.Errorf("fetch asset: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.dir, "asset_tmp_")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return err
	}
	tmpFile.Close()

	return os.Rename(tmpPath, path)
}

// ClearStale removes every asset matching the naming convention.
// Called before a fresh (non-cached) ingestion run re-populates the
// directory.
func (s *AssetStore) ClearStale() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "image_book_id_*.jpg"))
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
