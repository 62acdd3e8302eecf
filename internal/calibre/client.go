// Package calibre implements a client for the Calibre content server's
// ajax API: paged search, per-book metadata, field edits, covers and
// format downloads.
package calibre

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jdmarshall90/libreca/internal/entities"
)

const defaultTimeout = 60 * time.Second

// Client interfaces with a Calibre content server.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL. Credentials
// may be empty for servers without authentication.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// SearchResponse represents one page of /ajax/search results.
type SearchResponse struct {
	TotalNum int   `json:"total_num"`
	Num      int   `json:"num"`
	Offset   int   `json:"offset"`
	BookIDs  []int `json:"book_ids"`
}

// Search fetches one page of book identifiers.
func (c *Client) Search(ctx context.Context, offset, limit int) (*SearchResponse, error) {
	u := fmt.Sprintf("%s/ajax/search?num=%d&offset=%d", c.baseURL, limit, offset)

	var resp SearchResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BookDetail fetches the full metadata for one book.
func (c *Client) BookDetail(ctx context.Context, id int) (*entities.BookRecord, error) {
	u := fmt.Sprintf("%s/ajax/book/%d", c.baseURL, id)

	var raw bookJSON
	if err := c.getJSON(ctx, u, &raw); err != nil {
		return nil, err
	}
	return raw.toRecord(id), nil
}

// SetFields applies metadata changes to one book via /cdb/set-fields
// and returns the updated record as reported by the server.
func (c *Client) SetFields(ctx context.Context, id int, changes map[string]any) (*entities.BookRecord, error) {
	u := fmt.Sprintf("%s/cdb/set-fields/%d", c.baseURL, id)

	payload, err := json.Marshal(map[string]any{"changes": changes})
	if err != nil {
		return nil, fmt.Errorf("encode changes: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	// The server answers with {"<id>": {metadata...}}.
	var updated map[string]bookJSON
	if err := json.Unmarshal(body, &updated); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	raw, ok := updated[fmt.Sprint(id)]
	if !ok {
		return nil, fmt.Errorf("server response missing book %d", id)
	}
	return raw.toRecord(id), nil
}

// Cover fetches the cover image bytes for one book.
func (c *Client) Cover(ctx context.Context, id int) ([]byte, error) {
	u := fmt.Sprintf("%s/get/cover/%d", c.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

// FormatFile streams the e-book file of the given format. The caller
// owns the returned reader and must close it.
func (c *Client) FormatFile(ctx context.Context, id int, format string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/get/%s/%d", c.baseURL, url.PathEscape(strings.ToUpper(format)), id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := statusError(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code >= 500:
		return &ServerError{StatusCode: code}
	case code != http.StatusOK:
		return fmt.Errorf("unexpected status %d", code)
	}
	return nil
}

// bookJSON mirrors the wire shape of /ajax/book.
type bookJSON struct {
	Title         string             `json:"title"`
	TitleSort     string             `json:"title_sort"`
	Authors       []string           `json:"authors"`
	AuthorSortMap map[string]string  `json:"author_sort_map"`
	Rating        float64            `json:"rating"`
	Series        string             `json:"series"`
	SeriesIndex   float64            `json:"series_index"`
	Tags          []string           `json:"tags"`
	Languages     []string           `json:"languages"`
	Identifiers   map[string]string  `json:"identifiers"`
	Comments      string             `json:"comments"`
	Pubdate       *time.Time         `json:"pubdate"`
	Timestamp     *time.Time         `json:"timestamp"`
	LastModified  *time.Time         `json:"last_modified"`
	Formats       []string           `json:"formats"`
	MainFormat    map[string]string  `json:"main_format"`
}

func (raw bookJSON) toRecord(id int) *entities.BookRecord {
	book := &entities.BookRecord{
		ID:        id,
		Title:     raw.Title,
		TitleSort: raw.TitleSort,
		Rating:    parseRating(raw.Rating),
		Tags:      raw.Tags,
		Languages: raw.Languages,
		Comments:  raw.Comments,
		Published: normalizeDate(raw.Pubdate),
		Added:     normalizeDate(raw.Timestamp),
		Modified:  normalizeDate(raw.LastModified),
		Formats:   raw.Formats,
	}
	if book.TitleSort == "" {
		book.TitleSort = raw.Title
	}

	for _, name := range raw.Authors {
		sortKey := raw.AuthorSortMap[name]
		if sortKey == "" {
			sortKey = name
		}
		book.Authors = append(book.Authors, entities.Author{Name: name, SortKey: sortKey})
	}

	if raw.Series != "" {
		book.Series = &entities.Series{Name: raw.Series, Index: raw.SeriesIndex}
	}

	for source, uniqueID := range raw.Identifiers {
		book.Identifiers = append(book.Identifiers, entities.Identifier{
			Source:   source,
			UniqueID: uniqueID,
		})
	}
	// Map iteration order is random; keep the identifier list stable.
	sort.Slice(book.Identifiers, func(i, j int) bool {
		return book.Identifiers[i].Source < book.Identifiers[j].Source
	})

	for format := range raw.MainFormat {
		book.MainFormat = strings.ToUpper(format)
		break
	}

	return book
}

// parseRating maps the server's rating field onto the 0-5 star scale.
// Servers report either stars directly or the library's half-star
// scale (0-10).
func parseRating(r float64) entities.Rating {
	if r > 5 {
		r = r / 2
	}
	if r < 0 {
		r = 0
	}
	return entities.Rating(int(r + 0.5))
}

// normalizeDate drops the calibre "undefined" date sentinel (year 101).
func normalizeDate(t *time.Time) *time.Time {
	if t == nil || t.Year() <= 101 {
		return nil
	}
	return t
}
