package offline

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdmarshall90/libreca/internal/entities"
	"github.com/jdmarshall90/libreca/internal/fetch"
)

// createSnapshot builds a minimal metadata.db with the Calibre schema
// subset the reader touches.
func createSnapshot(t *testing.T, seed func(db *sql.DB)) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "metadata.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	schema := []string{
		`CREATE TABLE books (
			id INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			sort TEXT,
			series_index REAL,
			pubdate TIMESTAMP,
			timestamp TIMESTAMP,
			last_modified TIMESTAMP
		);`,
		`CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT, sort TEXT);`,
		`CREATE TABLE books_authors_link (id INTEGER PRIMARY KEY, book INTEGER, author INTEGER);`,
		`CREATE TABLE series (id INTEGER PRIMARY KEY, name TEXT);`,
		`CREATE TABLE books_series_link (id INTEGER PRIMARY KEY, book INTEGER, series INTEGER);`,
		`CREATE TABLE ratings (id INTEGER PRIMARY KEY, rating INTEGER);`,
		`CREATE TABLE books_ratings_link (id INTEGER PRIMARY KEY, book INTEGER, rating INTEGER);`,
		`CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT);`,
		`CREATE TABLE books_tags_link (id INTEGER PRIMARY KEY, book INTEGER, tag INTEGER);`,
		`CREATE TABLE languages (id INTEGER PRIMARY KEY, lang_code TEXT);`,
		`CREATE TABLE books_languages_link (id INTEGER PRIMARY KEY, book INTEGER, lang_code INTEGER, item_order INTEGER);`,
		`CREATE TABLE identifiers (id INTEGER PRIMARY KEY, book INTEGER, type TEXT, val TEXT);`,
		`CREATE TABLE comments (id INTEGER PRIMARY KEY, book INTEGER, text TEXT);`,
		`CREATE TABLE data (id INTEGER PRIMARY KEY, book INTEGER, format TEXT);`,
	}
	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	if seed != nil {
		seed(db)
	}
	return dbPath
}

func seedTwoBooks(t *testing.T) func(db *sql.DB) {
	return func(db *sql.DB) {
		exec := func(stmt string, args ...any) {
			_, err := db.Exec(stmt, args...)
			require.NoError(t, err)
		}

		exec(`INSERT INTO books VALUES
			(1, 'The Martian', 'Martian, The', 1.0, '2011-02-08 00:00:00', '2020-01-01 10:00:00', '2020-01-02 10:00:00'),
			(2, 'Untitled Draft', NULL, NULL, '0101-01-01 00:00:00', NULL, NULL);`)

		exec(`INSERT INTO authors VALUES (1, 'Andy Weir', 'Weir, Andy');`)
		exec(`INSERT INTO books_authors_link VALUES (1, 1, 1);`)

		exec(`INSERT INTO series VALUES (1, 'Mars Trilogy');`)
		exec(`INSERT INTO books_series_link VALUES (1, 1, 1);`)

		exec(`INSERT INTO ratings VALUES (1, 8);`)
		exec(`INSERT INTO books_ratings_link VALUES (1, 1, 1);`)

		exec(`INSERT INTO tags VALUES (1, 'Science Fiction');`)
		exec(`INSERT INTO books_tags_link VALUES (1, 1, 1);`)

		exec(`INSERT INTO languages VALUES (1, 'eng');`)
		exec(`INSERT INTO books_languages_link VALUES (1, 1, 1, 0);`)

		exec(`INSERT INTO identifiers (book, type, val) VALUES (1, 'isbn', '9780553418026');`)
		exec(`INSERT INTO comments (book, text) VALUES (1, 'An astronaut stranded on Mars.');`)
		exec(`INSERT INTO data (book, format) VALUES (1, 'EPUB'), (1, 'MOBI');`)
	}
}

func collectFetch(t *testing.T, ing *Ingestion) ([]entities.FetchResult, []int, int, bool) {
	t.Helper()

	var (
		completed []entities.FetchResult
		progress  []int
		started   int
		emptied   bool
	)
	err := ing.Fetch(context.Background(), true, fetch.Events{
		OnStart:    func(expected int) { started = expected },
		OnProgress: func(index int, result entities.FetchResult) { progress = append(progress, index) },
		OnComplete: func(results []entities.FetchResult) { completed = results },
		OnEmpty:    func() { emptied = true },
	})
	require.NoError(t, err)
	return completed, progress, started, emptied
}

func TestFetch_EmptySnapshot(t *testing.T) {
	dbPath := createSnapshot(t, nil)
	ing := NewIngestion(dbPath, nil)

	completed, progress, started, emptied := collectFetch(t, ing)

	assert.True(t, emptied)
	assert.Zero(t, started)
	assert.Empty(t, progress)
	assert.Empty(t, completed)
}

func TestFetch_StreamsAllRowsResolved(t *testing.T) {
	dbPath := createSnapshot(t, seedTwoBooks(t))
	ing := NewIngestion(dbPath, nil)

	completed, progress, started, emptied := collectFetch(t, ing)

	assert.False(t, emptied)
	assert.Equal(t, 2, started)
	assert.Equal(t, []int{0, 1}, progress)
	require.Len(t, completed, 2)

	first := completed[0]
	assert.Equal(t, entities.FetchResolved, first.State)
	book := first.Book
	require.NotNil(t, book)
	assert.Equal(t, 1, book.ID)
	assert.Equal(t, "The Martian", book.Title)
	assert.Equal(t, "Martian, The", book.TitleSort)
	require.Len(t, book.Authors, 1)
	assert.Equal(t, "Weir, Andy", book.Authors[0].SortKey)
	require.NotNil(t, book.Series)
	assert.Equal(t, "Mars Trilogy", book.Series.Name)
	assert.Equal(t, 1.0, book.Series.Index)
	// Ratings are stored as half-stars.
	assert.Equal(t, entities.RatingFourStars, book.Rating)
	assert.Equal(t, []string{"Science Fiction"}, book.Tags)
	assert.Equal(t, []string{"eng"}, book.Languages)
	assert.Equal(t, []entities.Identifier{{Source: "isbn", UniqueID: "9780553418026"}}, book.Identifiers)
	assert.Equal(t, "An astronaut stranded on Mars.", book.Comments)
	assert.Equal(t, []string{"EPUB", "MOBI"}, book.Formats)
	assert.Equal(t, "EPUB", book.MainFormat)
	require.NotNil(t, book.Published)
	assert.Equal(t, 2011, book.Published.Year())
}

func TestFetch_NullAndSentinelFields(t *testing.T) {
	dbPath := createSnapshot(t, seedTwoBooks(t))
	ing := NewIngestion(dbPath, nil)

	completed, _, _, _ := collectFetch(t, ing)
	require.Len(t, completed, 2)

	book := completed[1].Book
	require.NotNil(t, book)
	assert.Equal(t, 2, book.ID)
	// NULL sort falls back to the title.
	assert.Equal(t, "Untitled Draft", book.TitleSort)
	assert.Nil(t, book.Series)
	assert.Equal(t, entities.RatingUnrated, book.Rating)
	// Year 101 is the "undefined date" sentinel.
	assert.Nil(t, book.Published)
	assert.Nil(t, book.Added)
	assert.Nil(t, book.Modified)
	assert.Empty(t, book.MainFormat)
}

func TestFetch_MissingDatabaseFails(t *testing.T) {
	ing := NewIngestion(filepath.Join(t.TempDir(), "nope", "metadata.db"), nil)

	err := ing.Fetch(context.Background(), true, fetch.Events{})
	assert.Error(t, err)
}

func TestRetryFailures_ReReadsFailedSlots(t *testing.T) {
	dbPath := createSnapshot(t, seedTwoBooks(t))
	ing := NewIngestion(dbPath, nil)

	completed, _, _, _ := collectFetch(t, ing)
	require.Len(t, completed, 2)

	// Fail one slot by hand and one with an ID the snapshot lacks.
	completed[0] = entities.Failed(1, errors.New("injected"))
	completed = append(completed, entities.Failed(99, errors.New("injected")))

	var progressed []int
	err := ing.RetryFailures(context.Background(), completed, fetch.Events{
		OnProgress: func(index int, result entities.FetchResult) { progressed = append(progressed, index) },
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, progressed)
	assert.Equal(t, entities.FetchResolved, completed[0].State)
	assert.Equal(t, "The Martian", completed[0].Book.Title)
	// Untouched resolved slot keeps its record.
	assert.Equal(t, entities.FetchResolved, completed[1].State)
	// The unknown ID stays failed.
	assert.Equal(t, entities.FetchFailed, completed[2].State)
}

type mockAssetFetcher struct {
	data map[string][]byte
	err  error
}

func (m *mockAssetFetcher) FetchImage(ctx context.Context, key string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.data[key], nil
}

func TestFetch_BackfillsCoverAssets(t *testing.T) {
	dbPath := createSnapshot(t, seedTwoBooks(t))
	assetDir := t.TempDir()

	assets, err := NewAssetStore(assetDir, &mockAssetFetcher{data: map[string][]byte{
		"image_book_id_1.jpg": []byte("cover one"),
		"image_book_id_2.jpg": []byte("cover two"),
	}})
	require.NoError(t, err)

	ing := NewIngestion(dbPath, assets)
	completed, _, _, _ := collectFetch(t, ing)
	require.Len(t, completed, 2)

	data, err := os.ReadFile(filepath.Join(assetDir, "image_book_id_1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("cover one"), data)
}

func TestFetch_AssetMissIsNonFatal(t *testing.T) {
	dbPath := createSnapshot(t, seedTwoBooks(t))
	assets, err := NewAssetStore(t.TempDir(), &mockAssetFetcher{err: errors.New("payload gone")})
	require.NoError(t, err)

	ing := NewIngestion(dbPath, assets)
	completed, _, _, _ := collectFetch(t, ing)
	require.Len(t, completed, 2)
	assert.Equal(t, entities.FetchResolved, completed[0].State)
}

func TestClearStale_RunsOnFreshFetch(t *testing.T) {
	dbPath := createSnapshot(t, nil)
	assetDir := t.TempDir()
	stale := filepath.Join(assetDir, "image_book_id_77.jpg")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	assets, err := NewAssetStore(assetDir, nil)
	require.NoError(t, err)
	ing := NewIngestion(dbPath, assets)

	err = ing.Fetch(context.Background(), false, fetch.Events{})
	require.NoError(t, err)

	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr))
}
