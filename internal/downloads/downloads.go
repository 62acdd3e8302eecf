// Package downloads manages local copies of e-book format files,
// fetched in the background through a persistent task queue.
package downloads

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mikestefanello/backlite"
)

// FormatFetcher streams one e-book file from the active backend.
type FormatFetcher interface {
	FormatFile(ctx context.Context, bookID int, format string) (io.ReadCloser, error)
}

// Store saves downloaded format files under a stable naming
// convention (`book_<id>.<ext>`) and lists what is already on disk.
type Store struct {
	dir     string
	fetcher FormatFetcher
}

// NewStore creates the downloads directory if needed.
func NewStore(dir string, fetcher FormatFetcher) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create downloads dir: %w", err)
	}
	return &Store{dir: dir, fetcher: fetcher}, nil
}

// Path returns where the file for a book/format pair lives.
func (s *Store) Path(bookID int, format string) string {
	return filepath.Join(s.dir, fmt.Sprintf("book_%d.%s", bookID, strings.ToLower(format)))
}

// Exists reports whether the file is already downloaded.
func (s *Store) Exists(bookID int, format string) bool {
	_, err := os.Stat(s.Path(bookID, format))
	return err == nil
}

// Fetch downloads the file, writing atomically so a crashed download
// never leaves a half-written book behind.
func (s *Store) Fetch(ctx context.Context, bookID int, format string) error {
	body, err := s.fetcher.FormatFile(ctx, bookID, format)
	if err != nil {
		return fmt.Errorf("fetch %s for book %d: %w", format, bookID, err)
	}
	defer body.Close()

	tmpFile, err := os.CreateTemp(s.dir, "download_tmp_")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, body); err != nil {
		return err
	}
	tmpFile.Close()

	return os.Rename(tmpPath, s.Path(bookID, format))
}

// List returns the filenames of every completed download.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), "download_tmp_") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Delete removes a downloaded file.
func (s *Store) Delete(bookID int, format string) error {
	err := os.Remove(s.Path(bookID, format))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DownloadTask fetches one book's format file in the background.
type DownloadTask struct {
	BookID int    `json:"book_id"`
	Format string `json:"format"`
}

// Config returns the queue configuration for download tasks.
func (t DownloadTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "download_book",
		MaxAttempts: 3,
		Backoff:     30 * time.Second,
		Timeout:     10 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// Processor creates the processor function for DownloadTask.
func Processor(store *Store) backlite.QueueProcessor[DownloadTask] {
	return func(ctx context.Context, task DownloadTask) error {
		if store.Exists(task.BookID, task.Format) {
			log.Printf("[TASK] Book %d %s already downloaded, skipping", task.BookID, task.Format)
			return nil
		}
		if err := store.Fetch(ctx, task.BookID, task.Format); err != nil {
			return fmt.Errorf("download book %d %s: %w", task.BookID, task.Format, err)
		}
		log.Printf("[TASK] Downloaded book %d as %s", task.BookID, task.Format)
		return nil
	}
}

// NewQueue creates the backlite queue for download tasks.
func NewQueue(store *Store) backlite.Queue {
	return backlite.NewQueue(Processor(store))
}
