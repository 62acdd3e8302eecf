package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdmarshall90/libreca/internal/calibre"
	"github.com/jdmarshall90/libreca/internal/entities"
)

type mockService struct {
	mu            sync.Mutex
	total         int
	searchOffsets []int
	detailCalls   []int
	failIDs       map[int]bool
	searchErr     error
}

func (m *mockService) Search(ctx context.Context, offset, limit int) (*calibre.SearchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.searchErr != nil {
		return nil, m.searchErr
	}
	m.searchOffsets = append(m.searchOffsets, offset)

	var ids []int
	for id := offset + 1; id <= m.total && id <= offset+limit; id++ {
		ids = append(ids, id)
	}
	return &calibre.SearchResponse{
		TotalNum: m.total,
		Num:      len(ids),
		Offset:   offset,
		BookIDs:  ids,
	}, nil
}

func (m *mockService) BookDetail(ctx context.Context, id int) (*entities.BookRecord, error) {
	m.mu.Lock()
	m.detailCalls = append(m.detailCalls, id)
	fail := m.failIDs[id]
	m.mu.Unlock()

	if fail {
		return nil, errors.New("connection reset")
	}
	return &entities.BookRecord{ID: id, Title: fmt.Sprintf("Book %d", id)}, nil
}

type eventRecorder struct {
	mu        sync.Mutex
	started   []int
	progress  int
	completed [][]entities.FetchResult
	emptied   int
}

func (r *eventRecorder) events() Events {
	return Events{
		OnStart: func(expected int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.started = append(r.started, expected)
		},
		OnProgress: func(index int, result entities.FetchResult) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress++
		},
		OnComplete: func(results []entities.FetchResult) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = append(r.completed, results)
		},
		OnEmpty: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.emptied++
		},
	}
}

func TestFetch_EmptyLibrary(t *testing.T) {
	service := &mockService{total: 0}
	fetcher := NewPagingFetcher(service, 300, 4)
	rec := &eventRecorder{}

	err := fetcher.Fetch(context.Background(), false, rec.events())
	require.NoError(t, err)

	assert.Equal(t, 1, rec.emptied)
	assert.Empty(t, rec.started)
	assert.Equal(t, 0, rec.progress)
	assert.Empty(t, service.detailCalls)
	require.Len(t, rec.completed, 1)
	assert.Empty(t, rec.completed[0])
}

func TestFetch_PagesUntilTotal(t *testing.T) {
	service := &mockService{total: 650}
	fetcher := NewPagingFetcher(service, 300, 8)
	rec := &eventRecorder{}

	err := fetcher.Fetch(context.Background(), false, rec.events())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 300, 600}, service.searchOffsets)
	assert.Equal(t, []int{650}, rec.started)
	assert.Equal(t, 650, rec.progress)

	require.Len(t, rec.completed, 1)
	results := rec.completed[0]
	require.Len(t, results, 650)
	for i, r := range results {
		assert.Equal(t, entities.FetchResolved, r.State)
		assert.Equal(t, i+1, r.ID)
	}
}

func TestFetch_ExactPageBoundaryTerminates(t *testing.T) {
	service := &mockService{total: 600}
	fetcher := NewPagingFetcher(service, 300, 8)
	rec := &eventRecorder{}

	err := fetcher.Fetch(context.Background(), false, rec.events())
	require.NoError(t, err)

	// offset 600 >= total 600, so no third request is issued.
	assert.Equal(t, []int{0, 300}, service.searchOffsets)
	require.Len(t, rec.completed, 1)
	assert.Len(t, rec.completed[0], 600)
}

func TestFetch_SearchErrorIsFatal(t *testing.T) {
	service := &mockService{total: 10, searchErr: errors.New("boom")}
	fetcher := NewPagingFetcher(service, 300, 4)
	rec := &eventRecorder{}

	err := fetcher.Fetch(context.Background(), false, rec.events())
	require.Error(t, err)

	assert.Empty(t, rec.completed)
	assert.Empty(t, service.detailCalls)
}

func TestFetch_FailedSlotsKeepTheirPosition(t *testing.T) {
	service := &mockService{
		total:   10,
		failIDs: map[int]bool{3: true, 7: true, 9: true},
	}
	fetcher := NewPagingFetcher(service, 300, 4)
	rec := &eventRecorder{}

	err := fetcher.Fetch(context.Background(), false, rec.events())
	require.NoError(t, err)

	require.Len(t, rec.completed, 1)
	results := rec.completed[0]
	require.Len(t, results, 10)

	for i, r := range results {
		id := i + 1
		assert.Equal(t, id, r.ID)
		if service.failIDs[id] {
			assert.Equal(t, entities.FetchFailed, r.State)
			assert.Error(t, r.Err)
			assert.Nil(t, r.Book)
		} else {
			assert.Equal(t, entities.FetchResolved, r.State)
			require.NotNil(t, r.Book)
			assert.Equal(t, id, r.Book.ID)
		}
	}
}

func TestRetryFailures_RefetchesOnlyFailedSlots(t *testing.T) {
	service := &mockService{
		total:   10,
		failIDs: map[int]bool{3: true, 7: true, 9: true},
	}
	fetcher := NewPagingFetcher(service, 300, 4)
	rec := &eventRecorder{}

	err := fetcher.Fetch(context.Background(), false, rec.events())
	require.NoError(t, err)
	results := rec.completed[0]

	// Two of the three recover; book 9 keeps failing.
	service.mu.Lock()
	service.failIDs = map[int]bool{9: true}
	service.detailCalls = nil
	service.mu.Unlock()

	retryRec := &eventRecorder{}
	err = fetcher.RetryFailures(context.Background(), results, retryRec.events())
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{3, 7, 9}, service.detailCalls)
	assert.Equal(t, 3, retryRec.progress)

	resolved := 0
	for _, r := range results {
		if r.State == entities.FetchResolved {
			resolved++
		}
	}
	assert.Equal(t, 9, resolved)
	assert.Equal(t, entities.FetchFailed, results[8].State)
	assert.Equal(t, 9, results[8].ID)
}

func TestRetryFailures_NothingFailedCompletesImmediately(t *testing.T) {
	service := &mockService{total: 3}
	fetcher := NewPagingFetcher(service, 300, 4)
	rec := &eventRecorder{}

	err := fetcher.Fetch(context.Background(), false, rec.events())
	require.NoError(t, err)
	results := rec.completed[0]
	service.detailCalls = nil

	retryRec := &eventRecorder{}
	err = fetcher.RetryFailures(context.Background(), results, retryRec.events())
	require.NoError(t, err)

	assert.Empty(t, service.detailCalls)
	require.Len(t, retryRec.completed, 1)
}

func TestEnumerate_PageCap(t *testing.T) {
	// A server that always reports more books than it returns never
	// lets the offset reach the total.
	service := &brokenPagingService{}
	fetcher := NewPagingFetcher(service, 1, 4)
	rec := &eventRecorder{}

	err := fetcher.Fetch(context.Background(), false, rec.events())
	require.ErrorIs(t, err, ErrTooManyPages)
}

type brokenPagingService struct{}

func (s *brokenPagingService) Search(ctx context.Context, offset, limit int) (*calibre.SearchResponse, error) {
	return &calibre.SearchResponse{TotalNum: maxSearchPages * 2, Offset: offset}, nil
}

func (s *brokenPagingService) BookDetail(ctx context.Context, id int) (*entities.BookRecord, error) {
	return nil, errors.New("unreachable")
}
