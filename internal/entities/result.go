package entities

import "time"

// FetchState is the lifecycle of one slot in the working results
// array. A slot starts Pending, moves to Resolved or Failed exactly
// once, and a Failed slot may move to Resolved via retry.
type FetchState int

const (
	FetchPending FetchState = iota
	FetchResolved
	FetchFailed
)

func (s FetchState) String() string {
	switch s {
	case FetchPending:
		return "pending"
	case FetchResolved:
		return "resolved"
	case FetchFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FetchResult is one slot of the working array. ID is the book
// identifier the slot was allocated for and doubles as the retry
// handle for failed slots. Book is set only when State is
// FetchResolved; Err only when FetchFailed.
type FetchResult struct {
	ID    int
	State FetchState
	Book  *BookRecord
	Err   error
}

// Pending returns a fresh pending slot for the given book identifier.
func Pending(id int) FetchResult {
	return FetchResult{ID: id, State: FetchPending}
}

// Resolved returns a resolved slot carrying the fetched record.
func Resolved(book *BookRecord) FetchResult {
	return FetchResult{ID: book.ID, State: FetchResolved, Book: book}
}

// Failed returns a failed slot retaining the identifier for retry.
func Failed(id int, err error) FetchResult {
	return FetchResult{ID: id, State: FetchFailed, Err: err}
}

// DataSourceKind identifies which backing store produced a snapshot.
type DataSourceKind string

const (
	SourceNone   DataSourceKind = "none"
	SourceServer DataSourceKind = "server"
	SourceLocal  DataSourceKind = "local"
)

// LibrarySnapshot is the presenter-owned copy of the library's fetch
// state. The Results slice never shrinks below the server-reported
// total until a full refresh restarts it.
type LibrarySnapshot struct {
	Results   []FetchResult
	FetchedAt time.Time
	Source    DataSourceKind
}

// Resolved returns the resolved records, in slot order.
func (s LibrarySnapshot) Resolved() []BookRecord {
	books := make([]BookRecord, 0, len(s.Results))
	for _, r := range s.Results {
		if r.State == FetchResolved {
			books = append(books, *r.Book)
		}
	}
	return books
}

// FailedIndexes returns the positions of slots currently in the
// failed state.
func (s LibrarySnapshot) FailedIndexes() []int {
	var idxs []int
	for i, r := range s.Results {
		if r.State == FetchFailed {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// Clone copies the snapshot so readers never observe in-place
// mutation by concurrent fetch callbacks.
func (s LibrarySnapshot) Clone() LibrarySnapshot {
	out := s
	out.Results = make([]FetchResult, len(s.Results))
	copy(out.Results, s.Results)
	return out
}
