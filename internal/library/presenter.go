// Package library owns the canonical in-memory snapshot of the
// library and orchestrates fetch, retry, sort and search against it,
// translating backend progress into display-ready view events.
package library

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jdmarshall90/libreca/internal/calibre"
	"github.com/jdmarshall90/libreca/internal/entities"
	"github.com/jdmarshall90/libreca/internal/fetch"
	"github.com/jdmarshall90/libreca/internal/library/search"
	"github.com/jdmarshall90/libreca/internal/library/sortpolicy"
	"github.com/jdmarshall90/libreca/internal/settingsstore"
)

var (
	// ErrFetchInProgress rejects a fetch requested while one is
	// already in flight.
	ErrFetchInProgress = errors.New("library fetch already in progress, try again")
	// ErrNoDataSource indicates no backend has been configured yet.
	ErrNoDataSource = errors.New("no data source configured")
	// ErrNotSettled rejects retry while the list is idle or loading.
	ErrNotSettled = errors.New("library has no settled results to retry")
)

// User-facing messages. The presenter is the only component that
// turns errors and empty states into display strings.
const (
	MessageNoBooks      = "There are no books in your library."
	MessageNoResults    = "No results."
	MessageUnauthorized = "The server rejected your credentials. Check the data source settings."
	MessageNetwork      = "Could not reach your library. Check your connection and try again."
)

// View receives display-ready updates. Callbacks may fire from
// background goroutines; the consumer marshals onto its own UI-bound
// context. Nil callbacks are skipped.
type View struct {
	// OnLoading reports the expected item count before content
	// arrives.
	OnLoading func(expected int)
	// OnItem reports one slot settling at the given index.
	OnItem func(index int, result entities.FetchResult)
	// OnReload signals that the full displayed list must be rebuilt.
	OnReload func()
	// OnMessage carries a user-facing message (empty library, fetch
	// errors).
	OnMessage func(message string)
}

func (v View) loading(expected int) {
	if v.OnLoading != nil {
		v.OnLoading(expected)
	}
}

func (v View) item(index int, result entities.FetchResult) {
	if v.OnItem != nil {
		v.OnItem(index, result)
	}
}

func (v View) reload() {
	if v.OnReload != nil {
		v.OnReload()
	}
}

func (v View) message(msg string) {
	if v.OnMessage != nil {
		v.OnMessage(msg)
	}
}

// SearchOutcome is the result of one search request: either matches
// or a user-facing message, never both.
type SearchOutcome struct {
	Books   []entities.BookRecord
	Message string
}

// SourceFactory builds a backend for the given configuration.
// Returns (nil, nil) for an unconfigured source.
type SourceFactory func(cfg entities.DataSourceConfig) (fetch.Source, error)

// AssetPurger drops auxiliary cached assets under memory pressure.
type AssetPurger interface {
	Purge() error
}

// Presenter owns the canonical LibrarySnapshot. All snapshot
// mutation happens under its lock, tagged with a generation counter
// so callbacks from a superseded fetch cannot write into a newer
// snapshot.
type Presenter struct {
	settings *settingsstore.Store
	factory  SourceFactory
	purger   AssetPurger
	view     View

	mu           sync.Mutex
	state        State
	generation   uint64
	snapshot     entities.LibrarySnapshot
	source       fetch.Source
	sourceKind   entities.DataSourceKind
	suppressSort bool

	runCtx    context.Context
	cancelRun context.CancelFunc

	changes <-chan settingsstore.Change
	done    chan struct{}
}

// New creates a presenter over the configured data source. Call
// Start to begin reacting to settings changes, and Close on teardown.
func New(settings *settingsstore.Store, factory SourceFactory, purger AssetPurger, view View) (*Presenter, error) {
	p := &Presenter{
		settings: settings,
		factory:  factory,
		purger:   purger,
		view:     view,
		done:     make(chan struct{}),
	}
	p.runCtx, p.cancelRun = context.WithCancel(context.Background())

	cfg, err := settings.GetDataSource()
	if err != nil {
		return nil, fmt.Errorf("read data source config: %w", err)
	}
	source, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("build data source: %w", err)
	}
	p.source = source
	p.sourceKind = cfg.Kind

	return p, nil
}

// Start subscribes to preference changes. The subscription lives
// until Close.
func (p *Presenter) Start() {
	p.changes = p.settings.Subscribe()
	go p.watchSettings()
}

// Close tears the presenter down: cancels any in-flight fetch and
// drops the settings subscription.
func (p *Presenter) Close() {
	p.cancelRun()
	if p.changes != nil {
		p.settings.Unsubscribe(p.changes)
	}
	close(p.done)
}

// State returns the current list state.
func (p *Presenter) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns a copy of the current snapshot. Callers never see
// in-place mutation from concurrent fetch callbacks.
func (p *Presenter) Snapshot() entities.LibrarySnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot.Clone()
}

// SortOption returns the active comparator.
func (p *Presenter) SortOption() entities.SortOption {
	return p.settings.GetSortOption()
}

// FetchBooks starts a full refresh against the active data source.
// Progress streams through the view; completion replaces the
// snapshot, applies the active sort and triggers a full reload. A
// fetch already in flight is rejected with ErrFetchInProgress.
func (p *Presenter) FetchBooks(allowCachedAssets bool) error {
	p.mu.Lock()
	if p.state.busy() {
		p.mu.Unlock()
		return ErrFetchInProgress
	}
	if p.source == nil {
		p.mu.Unlock()
		return ErrNoDataSource
	}
	p.state = StateLoading
	source := p.source
	gen := p.generation
	ctx := p.runCtx
	p.mu.Unlock()

	go func() {
		err := source.Fetch(ctx, allowCachedAssets, p.events(gen))
		if err != nil {
			p.onFatal(gen, err)
		}
	}()
	return nil
}

// RetryFailures re-attempts only the failed slots. Sorting is
// suppressed for the duration of the burst and applied once at the
// end, so the list does not churn after every slot update.
func (p *Presenter) RetryFailures() error {
	p.mu.Lock()
	if p.state != StateSettled {
		p.mu.Unlock()
		return ErrNotSettled
	}
	if p.source == nil {
		p.mu.Unlock()
		return ErrNoDataSource
	}
	working := make([]entities.FetchResult, len(p.snapshot.Results))
	copy(working, p.snapshot.Results)
	p.state = StatePopulating
	p.suppressSort = true
	source := p.source
	gen := p.generation
	ctx := p.runCtx
	p.mu.Unlock()

	go func() {
		err := source.RetryFailures(ctx, working, p.events(gen))
		if err != nil {
			p.onFatal(gen, err)
		}
	}()
	return nil
}

// Sort persists the new option. An actual change re-sorts the
// snapshot in place and reloads; re-applying the active option does
// nothing at all.
func (p *Presenter) Sort(opt entities.SortOption) error {
	// The store swallows no-op writes, so the change notification
	// (and the resort it triggers) only fires on a real transition.
	return p.settings.SetSortOption(opt)
}

// Search filters the resolved records of the current snapshot by the
// whitespace-separated terms of query, on a background goroutine, and
// hands the outcome to deliver. Pending and failed slots are excluded
// from the scan. An empty query returns the snapshot unfiltered.
func (p *Presenter) Search(query string, deliver func(SearchOutcome)) {
	terms := search.SplitTerms(query)
	resolved := p.Snapshot().Resolved()

	go func() {
		if len(resolved) == 0 {
			deliver(SearchOutcome{Message: MessageNoBooks})
			return
		}
		if len(terms) == 0 {
			deliver(SearchOutcome{Books: resolved})
			return
		}
		matches := search.Filter(resolved, terms)
		if len(matches) == 0 {
			deliver(SearchOutcome{Message: MessageNoResults})
			return
		}
		deliver(SearchOutcome{Books: matches})
	}()
}

// ReplaceBook swaps the slot holding the edited book for its updated
// record, re-sorts and reloads. Unknown IDs are ignored.
func (p *Presenter) ReplaceBook(book *entities.BookRecord) {
	p.mu.Lock()
	replaced := false
	for i, r := range p.snapshot.Results {
		if r.ID == book.ID {
			p.snapshot.Results[i] = entities.Resolved(book)
			replaced = true
			break
		}
	}
	if replaced {
		sortpolicy.Apply(p.settings.GetSortOption(), p.snapshot.Results)
	}
	p.mu.Unlock()

	if replaced {
		p.view.reload()
	}
}

// HandleLowMemory drops auxiliary cached assets. The snapshot itself
// is never touched.
func (p *Presenter) HandleLowMemory() {
	if p.purger == nil {
		return
	}
	if err := p.purger.Purge(); err != nil {
		log.Printf("Could not purge asset cache: %v", err)
	}
}

// UserMessage maps a fetch error onto the message shown to the user.
func UserMessage(err error) string {
	if errors.Is(err, calibre.ErrUnauthorized) || errors.Is(err, calibre.ErrNotConfigured) {
		return MessageUnauthorized
	}
	return MessageNetwork
}

// events builds the callback set for one fetch run. Every callback
// re-checks the generation under the lock, so a run superseded by a
// data-source change can no longer write into the snapshot.
func (p *Presenter) events(gen uint64) fetch.Events {
	return fetch.Events{
		OnStart: func(expected int) {
			p.mu.Lock()
			if gen != p.generation {
				p.mu.Unlock()
				return
			}
			p.state = StatePopulating
			p.mu.Unlock()
			p.view.loading(expected)
		},
		OnProgress: func(index int, result entities.FetchResult) {
			p.mu.Lock()
			if gen != p.generation {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			p.view.item(index, result)
		},
		OnComplete: func(results []entities.FetchResult) {
			p.mu.Lock()
			if gen != p.generation {
				p.mu.Unlock()
				return
			}
			p.snapshot = entities.LibrarySnapshot{
				Results:   results,
				FetchedAt: time.Now(),
				Source:    p.sourceKind,
			}
			sortpolicy.Apply(p.settings.GetSortOption(), p.snapshot.Results)
			p.state = StateSettled
			p.suppressSort = false
			p.mu.Unlock()
			p.view.reload()
		},
		OnEmpty: func() {
			p.mu.Lock()
			if gen != p.generation {
				p.mu.Unlock()
				return
			}
			p.state = StateSettled
			p.mu.Unlock()
			p.view.message(MessageNoBooks)
		},
	}
}

// onFatal handles pagination-fatal errors: the snapshot is left
// untouched (previous results stay visible) and a single user-facing
// message is emitted.
func (p *Presenter) onFatal(gen uint64, err error) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	if len(p.snapshot.Results) > 0 {
		p.state = StateSettled
	} else {
		p.state = StateIdle
	}
	p.suppressSort = false
	p.mu.Unlock()

	log.Printf("Library fetch failed: %v", err)
	p.view.message(UserMessage(err))
}

func (p *Presenter) watchSettings() {
	for {
		select {
		case <-p.done:
			return
		case change, ok := <-p.changes:
			if !ok {
				return
			}
			switch change {
			case settingsstore.SortOptionChanged:
				p.resort()
			case settingsstore.DataSourceChanged:
				p.resetDataSource()
			}
		}
	}
}

// resort re-sorts the snapshot in place under the (changed) active
// option and reloads. Suppressed during a retry burst; the burst's
// completion applies the sort once instead.
func (p *Presenter) resort() {
	p.mu.Lock()
	if p.suppressSort || len(p.snapshot.Results) == 0 {
		p.mu.Unlock()
		return
	}
	sortpolicy.Apply(p.settings.GetSortOption(), p.snapshot.Results)
	p.mu.Unlock()
	p.view.reload()
}

// resetDataSource reacts to a backend change: the in-flight fetch (if
// any) is cancelled, its generation retired, the snapshot cleared,
// and a fresh fetch started against the new backend.
func (p *Presenter) resetDataSource() {
	cfg, err := p.settings.GetDataSource()
	if err != nil {
		log.Printf("Could not read data source config: %v", err)
		return
	}
	source, err := p.factory(cfg)
	if err != nil {
		log.Printf("Could not build data source: %v", err)
		return
	}

	p.mu.Lock()
	p.cancelRun()
	p.runCtx, p.cancelRun = context.WithCancel(context.Background())
	p.generation++
	p.snapshot = entities.LibrarySnapshot{Source: cfg.Kind}
	p.state = StateIdle
	p.source = source
	p.sourceKind = cfg.Kind
	p.suppressSort = false
	p.mu.Unlock()

	p.view.reload()

	if source != nil {
		if err := p.FetchBooks(false); err != nil {
			log.Printf("Could not start fetch after data source change: %v", err)
		}
	}
}
