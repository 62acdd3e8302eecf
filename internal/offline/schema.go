package offline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jdmarshall90/libreca/internal/entities"
)

// relatedData holds the link-table contents keyed by book id, loaded
// once per run so streaming the books table needs no per-row queries.
type relatedData struct {
	authors     map[int][]entities.Author
	series      map[int]string
	ratings     map[int]entities.Rating
	tags        map[int][]string
	languages   map[int][]string
	identifiers map[int][]entities.Identifier
	comments    map[int]string
	formats     map[int][]string
}

func loadRelated(ctx context.Context, db *sql.DB) (*relatedData, error) {
	related := &relatedData{
		authors:     make(map[int][]entities.Author),
		series:      make(map[int]string),
		ratings:     make(map[int]entities.Rating),
		tags:        make(map[int][]string),
		languages:   make(map[int][]string),
		identifiers: make(map[int][]entities.Identifier),
		comments:    make(map[int]string),
		formats:     make(map[int][]string),
	}

	err := forEachRow(ctx, db, `
		SELECT l.book, a.name, a.sort
		FROM books_authors_link l JOIN authors a ON a.id = l.author
		ORDER BY l.id;
	`, func(rows *sql.Rows) error {
		var book int
		var name, sortKey string
		if err := rows.Scan(&book, &name, &sortKey); err != nil {
			return err
		}
		related.authors[book] = append(related.authors[book], entities.Author{Name: name, SortKey: sortKey})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load authors: %w", err)
	}

	err = forEachRow(ctx, db, `
		SELECT l.book, s.name
		FROM books_series_link l JOIN series s ON s.id = l.series;
	`, func(rows *sql.Rows) error {
		var book int
		var name string
		if err := rows.Scan(&book, &name); err != nil {
			return err
		}
		related.series[book] = name
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}

	err = forEachRow(ctx, db, `
		SELECT l.book, r.rating
		FROM books_ratings_link l JOIN ratings r ON r.id = l.rating;
	`, func(rows *sql.Rows) error {
		var book, rating int
		if err := rows.Scan(&book, &rating); err != nil {
			return err
		}
		// The snapshot stores half-stars (0-10).
		related.ratings[book] = entities.Rating(rating / 2)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load ratings: %w", err)
	}

	err = forEachRow(ctx, db, `
		SELECT l.book, t.name
		FROM books_tags_link l JOIN tags t ON t.id = l.tag;
	`, func(rows *sql.Rows) error {
		var book int
		var name string
		if err := rows.Scan(&book, &name); err != nil {
			return err
		}
		related.tags[book] = append(related.tags[book], name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}

	err = forEachRow(ctx, db, `
		SELECT l.book, lc.lang_code
		FROM books_languages_link l JOIN languages lc ON lc.id = l.lang_code
		ORDER BY l.item_order;
	`, func(rows *sql.Rows) error {
		var book int
		var code string
		if err := rows.Scan(&book, &code); err != nil {
			return err
		}
		related.languages[book] = append(related.languages[book], code)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load languages: %w", err)
	}

	err = forEachRow(ctx, db, `
		SELECT book, type, val FROM identifiers ORDER BY type;
	`, func(rows *sql.Rows) error {
		var book int
		var source, uniqueID string
		if err := rows.Scan(&book, &source, &uniqueID); err != nil {
			return err
		}
		related.identifiers[book] = append(related.identifiers[book], entities.Identifier{
			Source:   source,
			UniqueID: uniqueID,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load identifiers: %w", err)
	}

	err = forEachRow(ctx, db, `
		SELECT book, text FROM comments;
	`, func(rows *sql.Rows) error {
		var book int
		var text sql.NullString
		if err := rows.Scan(&book, &text); err != nil {
			return err
		}
		related.comments[book] = text.String
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}

	err = forEachRow(ctx, db, `
		SELECT book, format FROM data ORDER BY id;
	`, func(rows *sql.Rows) error {
		var book int
		var format string
		if err := rows.Scan(&book, &format); err != nil {
			return err
		}
		related.formats[book] = append(related.formats[book], format)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load formats: %w", err)
	}

	return related, nil
}

func forEachRow(ctx context.Context, db *sql.DB, query string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner, related *relatedData) (*entities.BookRecord, error) {
	var (
		id           int
		title        string
		titleSort    sql.NullString
		seriesIndex  sql.NullFloat64
		pubdate      sql.NullTime
		timestamp    sql.NullTime
		lastModified sql.NullTime
	)
	if err := row.Scan(&id, &title, &titleSort, &seriesIndex, &pubdate, &timestamp, &lastModified); err != nil {
		return nil, fmt.Errorf("failed to scan book row: %w", err)
	}

	book := &entities.BookRecord{
		ID:          id,
		Title:       title,
		TitleSort:   titleSort.String,
		Authors:     related.authors[id],
		Rating:      related.ratings[id],
		Tags:        related.tags[id],
		Languages:   related.languages[id],
		Identifiers: related.identifiers[id],
		Comments:    related.comments[id],
		Formats:     related.formats[id],
	}
	if book.TitleSort == "" {
		book.TitleSort = title
	}
	if len(book.Formats) > 0 {
		book.MainFormat = book.Formats[0]
	}

	if name, ok := related.series[id]; ok {
		index := 1.0
		if seriesIndex.Valid {
			index = seriesIndex.Float64
		}
		book.Series = &entities.Series{Name: name, Index: index}
	}

	book.Published = nullableTime(pubdate)
	book.Added = nullableTime(timestamp)
	book.Modified = nullableTime(lastModified)

	return book, nil
}

// nullableTime drops both SQL NULLs and the snapshot's "undefined
// date" sentinel (year 101).
func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid || t.Time.Year() <= 101 {
		return nil
	}
	value := t.Time
	return &value
}
