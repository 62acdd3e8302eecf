// Package offline reads a pre-synced library snapshot: a Calibre
// metadata.db file plus an adjacent cover asset directory. It reports
// through the same event shape as the live paging fetcher so the
// presenter cannot tell the two backends apart.
package offline

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/jdmarshall90/libreca/internal/entities"
	"github.com/jdmarshall90/libreca/internal/fetch"
)

// AssetFetcher retrieves a cover asset by its cache key from the
// remote payload backing the snapshot. Used only on cache miss.
type AssetFetcher interface {
	FetchImage(ctx context.Context, key string) ([]byte, error)
}

// Ingestion streams book records out of a snapshot database.
type Ingestion struct {
	dbPath string
	assets *AssetStore
}

// NewIngestion creates a reader for the snapshot at dbPath. assets
// may be nil when no cover directory is managed.
func NewIngestion(dbPath string, assets *AssetStore) *Ingestion {
	return &Ingestion{dbPath: dbPath, assets: assets}
}

// Fetch reads every row of the snapshot. The row count is known
// immediately and maps to OnStart; each parsed row streams through
// OnProgress with no page boundaries. Asset-cache misses are
// non-fatal; database open/query errors abort the run.
func (ing *Ingestion) Fetch(ctx context.Context, allowCachedAssets bool, ev fetch.Events) error {
	if ing.assets != nil && !allowCachedAssets {
		// Fresh run: drop stale assets before re-populating.
		if err := ing.assets.ClearStale(); err != nil {
			log.Printf("Could not clear stale cover assets: %v", err)
		}
	}

	db, err := sql.Open("sqlite3", ing.dbPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open snapshot database: %w", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count books: %w", err)
	}
	if count == 0 {
		if ev.OnEmpty != nil {
			ev.OnEmpty()
		}
		if ev.OnComplete != nil {
			ev.OnComplete(nil)
		}
		return nil
	}

	if ev.OnStart != nil {
		ev.OnStart(count)
	}

	related, err := loadRelated(ctx, db)
	if err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, title, sort, series_index, pubdate, timestamp, last_modified
		FROM books
		ORDER BY id;
	`)
	if err != nil {
		return fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	results := make([]entities.FetchResult, 0, count)
	index := 0
	for rows.Next() {
		book, err := scanBook(rows, related)
		if err != nil {
			return err
		}

		ing.ensureAsset(ctx, book.ID)

		result := entities.Resolved(book)
		results = append(results, result)
		if ev.OnProgress != nil {
			ev.OnProgress(index, result)
		}
		index++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}

	if ev.OnComplete != nil {
		ev.OnComplete(results)
	}
	return nil
}

// RetryFailures re-reads only the failed slots from the snapshot.
// Snapshot reads rarely fail, but the contract matches the live
// fetcher so retry works against either backend.
func (ing *Ingestion) RetryFailures(ctx context.Context, results []entities.FetchResult, ev fetch.Events) error {
	db, err := sql.Open("sqlite3", ing.dbPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open snapshot database: %w", err)
	}
	defer db.Close()

	related, err := loadRelated(ctx, db)
	if err != nil {
		return err
	}

	for i, r := range results {
		if r.State != entities.FetchFailed {
			continue
		}
		book, err := ing.readBook(ctx, db, r.ID, related)
		if err != nil {
			results[i] = entities.Failed(r.ID, err)
		} else {
			ing.ensureAsset(ctx, book.ID)
			results[i] = entities.Resolved(book)
		}
		if ev.OnProgress != nil {
			ev.OnProgress(i, results[i])
		}
	}

	if ev.OnComplete != nil {
		ev.OnComplete(results)
	}
	return nil
}

func (ing *Ingestion) readBook(ctx context.Context, db *sql.DB, id int, related *relatedData) (*entities.BookRecord, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, title, sort, series_index, pubdate, timestamp, last_modified
		FROM books
		WHERE id = ?;
	`, id)
	return scanBook(row, related)
}

// ensureAsset backfills the cover cache for one book on miss. Misses
// without a configured fetcher, and fetch errors, leave the book
// coverless rather than failing the row.
func (ing *Ingestion) ensureAsset(ctx context.Context, bookID int) {
	if ing.assets == nil {
		return
	}
	if err := ing.assets.Ensure(ctx, bookID); err != nil {
		log.Printf("Cover asset for book %d unavailable: %v", bookID, err)
	}
}
