package http

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jdmarshall90/libreca/internal/covers"
	"github.com/jdmarshall90/libreca/internal/entities"
	"github.com/jdmarshall90/libreca/internal/library"
	"github.com/jdmarshall90/libreca/internal/library/sections"
)

// Editor applies metadata changes to one book on the live backend.
type Editor interface {
	SetFields(ctx context.Context, id int, changes map[string]any) (*entities.BookRecord, error)
}

type BooksController struct {
	presenter *library.Presenter
	covers    *covers.Cache
	editor    Editor // nil for offline snapshots
}

func NewBooksController(presenter *library.Presenter, coverCache *covers.Cache, editor Editor) *BooksController {
	return &BooksController{
		presenter: presenter,
		covers:    coverCache,
		editor:    editor,
	}
}

// List returns the current snapshot grouped into display sections.
// `sections=off` disables bucketing (one unnamed bucket, original
// order), mirroring the in-flight-fetch presentation.
func (controller *BooksController) List(c *gin.Context) {
	snapshot := controller.presenter.Snapshot()
	resolved := snapshot.Resolved()

	indexer := sections.NewIndexer(sections.ByFirstLetter, sectionKey(controller.sortOption()))
	if c.Query("sections") == "off" || controller.presenter.State() != library.StateSettled {
		indexer.SetEnabled(false)
	}
	indexer.Reset(resolved)

	c.IndentedJSON(http.StatusOK, gin.H{
		"state":        controller.presenter.State().String(),
		"total":        len(snapshot.Results),
		"resolved":     len(resolved),
		"failed":       len(snapshot.FailedIndexes()),
		"sections":     indexer.Sections(),
		"index_titles": indexer.IndexTitles(),
	})
}

// Detail returns one resolved book from the snapshot.
func (controller *BooksController) Detail(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	snapshot := controller.presenter.Snapshot()
	for _, r := range snapshot.Results {
		if r.ID == id && r.State == entities.FetchResolved {
			c.IndentedJSON(http.StatusOK, r.Book)
			return
		}
	}
	c.IndentedJSON(http.StatusNotFound, gin.H{"error": "book not found"})
}

// Search filters the resolved snapshot by the whitespace-separated
// terms of the q parameter.
func (controller *BooksController) Search(c *gin.Context) {
	outcome := make(chan library.SearchOutcome, 1)
	controller.presenter.Search(c.Query("q"), func(result library.SearchOutcome) {
		outcome <- result
	})

	select {
	case result := <-outcome:
		if result.Message != "" {
			c.IndentedJSON(http.StatusOK, gin.H{"books": []entities.BookRecord{}, "message": result.Message})
			return
		}
		c.IndentedJSON(http.StatusOK, gin.H{"books": result.Books, "count": len(result.Books)})
	case <-c.Request.Context().Done():
		c.Status(http.StatusRequestTimeout)
	}
}

// Refresh starts a full fetch. 202 on start, 409 when one is already
// in flight.
func (controller *BooksController) Refresh(c *gin.Context) {
	allowCached := c.Query("cached") != "false"
	err := controller.presenter.FetchBooks(allowCached)
	switch {
	case err == nil:
		c.IndentedJSON(http.StatusAccepted, gin.H{"state": controller.presenter.State().String()})
	case errors.Is(err, library.ErrFetchInProgress):
		c.IndentedJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, library.ErrNoDataSource):
		c.IndentedJSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	default:
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// RetryFailures re-attempts only the failed slots.
func (controller *BooksController) RetryFailures(c *gin.Context) {
	err := controller.presenter.RetryFailures()
	switch {
	case err == nil:
		c.IndentedJSON(http.StatusAccepted, gin.H{"state": controller.presenter.State().String()})
	case errors.Is(err, library.ErrNotSettled):
		c.IndentedJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// State reports the list state machine and snapshot counters.
func (controller *BooksController) State(c *gin.Context) {
	snapshot := controller.presenter.Snapshot()
	c.IndentedJSON(http.StatusOK, gin.H{
		"state":      controller.presenter.State().String(),
		"total":      len(snapshot.Results),
		"failed":     len(snapshot.FailedIndexes()),
		"source":     snapshot.Source,
		"fetched_at": snapshot.FetchedAt,
	})
}

// Edit applies metadata changes on the live backend and swaps the
// updated record into the snapshot.
func (controller *BooksController) Edit(c *gin.Context) {
	if controller.editor == nil {
		c.IndentedJSON(http.StatusPreconditionFailed, gin.H{"error": "editing requires a content server data source"})
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	var changes map[string]any
	if err := c.ShouldBindJSON(&changes); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid changes payload"})
		return
	}

	book, err := controller.editor.SetFields(c.Request.Context(), id, changes)
	if err != nil {
		c.IndentedJSON(http.StatusBadGateway, gin.H{"error": library.UserMessage(err)})
		return
	}

	controller.presenter.ReplaceBook(book)
	if controller.covers != nil {
		// Metadata edits can replace the cover.
		_ = controller.covers.Invalidate(id)
	}
	c.IndentedJSON(http.StatusOK, book)
}

// Cover serves the cached cover image, fetching it on miss.
func (controller *BooksController) Cover(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	path, err := controller.covers.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.Status(http.StatusNotFound)
			return
		}
		c.IndentedJSON(http.StatusBadGateway, gin.H{"error": library.UserMessage(err)})
		return
	}
	c.File(path)
}

func (controller *BooksController) sortOption() entities.SortOption {
	// Section keys follow the active comparator so the index bar
	// matches the list order.
	return controller.presenter.SortOption()
}

func sectionKey(opt entities.SortOption) func(entities.BookRecord) string {
	if opt == entities.SortByAuthor {
		return func(b entities.BookRecord) string { return b.PrimaryAuthor().SortKey }
	}
	return func(b entities.BookRecord) string { return b.TitleSort }
}
