package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jdmarshall90/libreca/internal/downloads"
	"github.com/jdmarshall90/libreca/internal/entities"
	"github.com/jdmarshall90/libreca/internal/library"
)

type DownloadsController struct {
	store     *downloads.Store
	queue     *downloads.Client
	presenter *library.Presenter
}

func NewDownloadsController(store *downloads.Store, queue *downloads.Client, presenter *library.Presenter) *DownloadsController {
	return &DownloadsController{store: store, queue: queue, presenter: presenter}
}

// Enqueue queues a background download of one book's format file.
// The format defaults to the book's main format.
func (controller *DownloadsController) Enqueue(c *gin.Context) {
	if controller.queue == nil {
		c.IndentedJSON(http.StatusPreconditionFailed, gin.H{"error": "downloads require a content server data source"})
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	format := strings.ToUpper(c.Query("format"))
	if format == "" {
		format = controller.mainFormat(id)
	}
	if format == "" {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "book has no downloadable format"})
		return
	}

	task := downloads.DownloadTask{BookID: id, Format: format}
	if _, err := controller.queue.Add(task).Save(); err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.IndentedJSON(http.StatusAccepted, gin.H{"book_id": id, "format": format})
}

// List returns the completed downloads on disk.
func (controller *DownloadsController) List(c *gin.Context) {
	names, err := controller.store.List()
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"downloads": names, "count": len(names)})
}

// Delete removes a downloaded file.
func (controller *DownloadsController) Delete(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}
	format := strings.ToUpper(c.Query("format"))
	if format == "" {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "format query parameter is required"})
		return
	}

	if err := controller.store.Delete(id, format); err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (controller *DownloadsController) mainFormat(id int) string {
	snapshot := controller.presenter.Snapshot()
	for _, r := range snapshot.Results {
		if r.ID == id && r.State == entities.FetchResolved {
			if r.Book.MainFormat != "" {
				return r.Book.MainFormat
			}
			if len(r.Book.Formats) > 0 {
				return r.Book.Formats[0]
			}
		}
	}
	return ""
}
