// Package fetch drives the acquisition of the full library: paged
// enumeration of book identifiers followed by a bounded concurrent
// fan-out of per-book detail requests, with per-slot failure tracking
// and selective retry.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/jdmarshall90/libreca/internal/calibre"
	"github.com/jdmarshall90/libreca/internal/entities"
)

const (
	// DefaultPageSize matches the content server's search page size.
	DefaultPageSize = 300
	// DefaultWorkers bounds the concurrent detail fetches.
	DefaultWorkers = 12

	// maxSearchPages caps the pagination loop so a server reporting
	// inconsistent offsets cannot keep us enumerating forever.
	maxSearchPages = 10000
)

// ErrTooManyPages indicates the server never let pagination terminate.
var ErrTooManyPages = errors.New("pagination exceeded the page cap")

// Events receives the progressive results of a fetch. OnProgress may
// be invoked from multiple goroutines concurrently; the index always
// identifies the slot's original position regardless of completion
// order. Nil callbacks are skipped.
type Events struct {
	// OnStart reports the server's total count before any detail
	// arrives.
	OnStart func(expected int)
	// OnProgress reports one settled slot.
	OnProgress func(index int, result entities.FetchResult)
	// OnComplete reports the full results array after every slot has
	// settled one way or the other.
	OnComplete func(results []entities.FetchResult)
	// OnEmpty signals a library with no books at all, instead of
	// OnStart/OnComplete with zero-length content.
	OnEmpty func()
}

func (e Events) start(expected int) {
	if e.OnStart != nil {
		e.OnStart(expected)
	}
}

func (e Events) progress(index int, result entities.FetchResult) {
	if e.OnProgress != nil {
		e.OnProgress(index, result)
	}
}

func (e Events) complete(results []entities.FetchResult) {
	if e.OnComplete != nil {
		e.OnComplete(results)
	}
}

func (e Events) empty() {
	if e.OnEmpty != nil {
		e.OnEmpty()
	}
}

// Source is a library backend: the live content server or the offline
// snapshot reader. Both report through the same Events shape.
type Source interface {
	// Fetch enumerates the whole library. allowCachedAssets permits
	// reusing already-cached cover assets instead of refreshing them.
	Fetch(ctx context.Context, allowCachedAssets bool, ev Events) error
	// RetryFailures re-attempts only the slots currently in the
	// failed state, mutating them in place, and completes with the
	// updated array.
	RetryFailures(ctx context.Context, results []entities.FetchResult, ev Events) error
}

// Service is the slice of the content-server client the fetcher needs.
type Service interface {
	Search(ctx context.Context, offset, limit int) (*calibre.SearchResponse, error)
	BookDetail(ctx context.Context, id int) (*entities.BookRecord, error)
}

// PagingFetcher enumerates the library through the paged search
// endpoint and fans out detail fetches with bounded concurrency.
type PagingFetcher struct {
	service  Service
	pageSize int
	workers  int
}

// NewPagingFetcher creates a fetcher over the given service. Non
// positive pageSize or workers fall back to the defaults.
func NewPagingFetcher(service Service, pageSize, workers int) *PagingFetcher {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &PagingFetcher{service: service, pageSize: pageSize, workers: workers}
}

// Fetch enumerates all book identifiers page by page, then resolves
// each book concurrently. Page-level errors are fatal and abort the
// whole run; per-book errors settle their slot as failed and are
// reported through OnProgress like any other result.
func (f *PagingFetcher) Fetch(ctx context.Context, allowCachedAssets bool, ev Events) error {
	ids, total, err := f.enumerate(ctx, ev)
	if err != nil {
		return err
	}
	if total == 0 {
		ev.empty()
		ev.complete(nil)
		return nil
	}

	results := pendingSlots(ids)
	f.fanOut(ctx, results, allIndexes(results), ev)
	ev.complete(results)
	return nil
}

// RetryFailures re-issues the detail fetch for failed slots only,
// using the same join pattern as the initial fan-out.
func (f *PagingFetcher) RetryFailures(ctx context.Context, results []entities.FetchResult, ev Events) error {
	var failed []int
	for i, r := range results {
		if r.State == entities.FetchFailed {
			failed = append(failed, i)
		}
	}
	if len(failed) == 0 {
		ev.complete(results)
		return nil
	}

	log.Printf("Retrying %d failed book fetches", len(failed))
	f.fanOut(ctx, results, failed, ev)
	ev.complete(results)
	return nil
}

// enumerate pages through the search endpoint until the next offset
// reaches the reported total. Reports OnStart as soon as the first
// page answers with a nonzero total.
func (f *PagingFetcher) enumerate(ctx context.Context, ev Events) ([]int, int, error) {
	var ids []int
	offset := 0
	total := 0

	for page := 0; ; page++ {
		if page >= maxSearchPages {
			return nil, 0, ErrTooManyPages
		}

		resp, err := f.service.Search(ctx, offset, f.pageSize)
		if err != nil {
			return nil, 0, fmt.Errorf("search page at offset %d: %w", offset, err)
		}

		if page == 0 {
			total = resp.TotalNum
			if total == 0 {
				return nil, 0, nil
			}
			ev.start(total)
		}

		ids = append(ids, resp.BookIDs...)

		// >= rather than == so a server whose offset arithmetic skips
		// past the total still terminates the loop.
		offset += f.pageSize
		if offset >= total {
			break
		}
	}

	return ids, total, nil
}

// fanOut resolves the given slot indexes concurrently, writing each
// result directly into its pre-allocated slot so completion order
// never affects array order. The group wait is the join barrier
// gating the caller's completion signal.
func (f *PagingFetcher) fanOut(ctx context.Context, results []entities.FetchResult, indexes []int, ev Events) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for _, idx := range indexes {
		idx := idx
		id := results[idx].ID
		g.Go(func() error {
			book, err := f.service.BookDetail(ctx, id)
			if err != nil {
				results[idx] = entities.Failed(id, err)
			} else {
				results[idx] = entities.Resolved(book)
			}
			ev.progress(idx, results[idx])
			return nil
		})
	}

	// Goroutines never return errors; per-book failures settle their
	// slot instead of aborting the group.
	_ = g.Wait()
}

func pendingSlots(ids []int) []entities.FetchResult {
	results := make([]entities.FetchResult, len(ids))
	for i, id := range ids {
		results[i] = entities.Pending(id)
	}
	return results
}

func allIndexes(results []entities.FetchResult) []int {
	idxs := make([]int, len(results))
	for i := range results {
		idxs[i] = i
	}
	return idxs
}
