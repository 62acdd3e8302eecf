package entrypoint

import (
	"context"
	"io"
	"sync"

	"github.com/jdmarshall90/libreca/internal/calibre"
	"github.com/jdmarshall90/libreca/internal/entities"
)

// serverHolder points at the currently configured content-server
// client, swapped atomically when the data source changes. It fronts
// the client for the cover cache, the download store and the edit
// flow, all of which outlive any single data-source configuration.
type serverHolder struct {
	mu     sync.RWMutex
	client *calibre.Client
}

func newServerHolder() *serverHolder {
	return &serverHolder{}
}

func (h *serverHolder) set(client *calibre.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.client = client
}

func (h *serverHolder) current() (*calibre.Client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.client == nil {
		return nil, calibre.ErrNotConfigured
	}
	return h.client, nil
}

// Cover implements covers.Fetcher.
func (h *serverHolder) Cover(ctx context.Context, bookID int) ([]byte, error) {
	client, err := h.current()
	if err != nil {
		return nil, err
	}
	return client.Cover(ctx, bookID)
}

// FormatFile implements downloads.FormatFetcher.
func (h *serverHolder) FormatFile(ctx context.Context, bookID int, format string) (io.ReadCloser, error) {
	client, err := h.current()
	if err != nil {
		return nil, err
	}
	return client.FormatFile(ctx, bookID, format)
}

// SetFields implements http.Editor.
func (h *serverHolder) SetFields(ctx context.Context, id int, changes map[string]any) (*entities.BookRecord, error) {
	client, err := h.current()
	if err != nil {
		return nil, err
	}
	return client.SetFields(ctx, id, changes)
}

func calibreClient(cfg entities.DataSourceConfig) *calibre.Client {
	return calibre.NewClient(cfg.ServerURL, cfg.Username, cfg.Password)
}
