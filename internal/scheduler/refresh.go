// Package scheduler runs the optional periodic library refresh.
package scheduler

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/jdmarshall90/libreca/internal/library"
)

// RefreshScheduler triggers a cached-assets refresh of the library on
// a cron schedule. Ticks that land while a fetch is already in flight
// are skipped; the presenter's state machine rejects the overlap.
type RefreshScheduler struct {
	presenter *library.Presenter
	schedule  string

	cron      *cron.Cron
	entryID   cron.EntryID
	mu        sync.Mutex
	isRunning bool
}

// NewRefreshScheduler creates a scheduler over the presenter.
func NewRefreshScheduler(presenter *library.Presenter, schedule string) *RefreshScheduler {
	return &RefreshScheduler{
		presenter: presenter,
		schedule:  schedule,
		cron:      cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// Start begins the schedule.
func (s *RefreshScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	entryID, err := s.cron.AddFunc(s.schedule, s.refresh)
	if err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", s.schedule, err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	log.Printf("Library refresh scheduler started (schedule: %s)", s.schedule)
	return nil
}

// Stop halts the schedule; a refresh already started keeps running.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.cron.Remove(s.entryID)
	s.cron.Stop()
	s.isRunning = false
	log.Printf("Library refresh scheduler stopped")
}

func (s *RefreshScheduler) refresh() {
	err := s.presenter.FetchBooks(true)
	switch {
	case err == nil:
		log.Printf("Scheduled library refresh started")
	case errors.Is(err, library.ErrFetchInProgress):
		log.Printf("Scheduled library refresh skipped: fetch already in progress")
	case errors.Is(err, library.ErrNoDataSource):
		log.Printf("Scheduled library refresh skipped: no data source configured")
	default:
		log.Printf("Scheduled library refresh failed to start: %v", err)
	}
}
