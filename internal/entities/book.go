package entities

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Rating is the discrete star rating of a book (0-5 stars).
type Rating int

const (
	RatingUnrated    Rating = 0
	RatingOneStar    Rating = 1
	RatingTwoStars   Rating = 2
	RatingThreeStars Rating = 3
	RatingFourStars  Rating = 4
	RatingFiveStars  Rating = 5
)

// Author is one credited author with its library sort key
// (typically "Last, First").
type Author struct {
	Name    string `json:"name"`
	SortKey string `json:"sort"`
}

// Series places a book inside a named series. Index is fractional
// because libraries number novellas as 1.5, 2.5 and so on.
type Series struct {
	Name  string  `json:"name"`
	Index float64 `json:"index"`
}

// Identifier is one external identifier attached to a book,
// e.g. {Source: "isbn", UniqueID: "9780441013593"}.
type Identifier struct {
	Source   string `json:"source"`
	UniqueID string `json:"unique_id"`
}

// BookRecord is one immutable library entry. Records are created by
// parsing a content-server response or a snapshot database row and are
// replaced wholesale on refresh or edit, never mutated in place.
type BookRecord struct {
	ID          int          `json:"id"`
	Title       string       `json:"title"`
	TitleSort   string       `json:"title_sort"`
	Authors     []Author     `json:"authors"`
	Rating      Rating       `json:"rating"`
	Series      *Series      `json:"series,omitempty"`
	Tags        []string     `json:"tags"`
	Languages   []string     `json:"languages"`
	Identifiers []Identifier `json:"identifiers"`
	Comments    string       `json:"comments,omitempty"`
	Published   *time.Time   `json:"published,omitempty"`
	Added       *time.Time   `json:"added,omitempty"`
	Modified    *time.Time   `json:"modified,omitempty"`
	Formats     []string     `json:"formats"`
	MainFormat  string       `json:"main_format,omitempty"`
}

// PrimaryAuthor returns the first credited author, or a zero Author
// for books without one.
func (b BookRecord) PrimaryAuthor() Author {
	if len(b.Authors) > 0 {
		return b.Authors[0]
	}
	return Author{}
}

// DisplayDateFormat is the single date layout used both for rendering
// and for the search index, so a query typed against a displayed date
// matches exactly.
const DisplayDateFormat = "Jan 2, 2006"

// FormatDate renders an optional timestamp for display. Nil renders
// as the empty string.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DisplayDateFormat)
}

// DisplayLanguage turns an ISO language code ("eng", "fr") into its
// English display name ("English", "French"). Unknown codes are
// returned unchanged.
func DisplayLanguage(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		return code
	}
	return name
}
