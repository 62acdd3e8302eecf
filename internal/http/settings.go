package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jdmarshall90/libreca/internal/entities"
	"github.com/jdmarshall90/libreca/internal/settingsstore"
)

type SettingsController struct {
	store *settingsstore.Store
}

func NewSettingsController(store *settingsstore.Store) *SettingsController {
	return &SettingsController{store: store}
}

func (controller *SettingsController) GetSort(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{"sort": controller.store.GetSortOption()})
}

// SetSort persists the sort option. Re-applying the active option is
// a no-op; the presenter only re-sorts on an actual change.
func (controller *SettingsController) SetSort(c *gin.Context) {
	var payload struct {
		Sort entities.SortOption `json:"sort"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := controller.store.SetSortOption(payload.Sort); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"sort": payload.Sort})
}

func (controller *SettingsController) GetDataSource(c *gin.Context) {
	cfg, err := controller.store.GetDataSource()
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// The password never leaves the store in responses.
	c.IndentedJSON(http.StatusOK, cfg)
}

// SetDataSource reconfigures the backend. The presenter reacts to the
// change notification by clearing its snapshot and re-fetching.
func (controller *SettingsController) SetDataSource(c *gin.Context) {
	var payload struct {
		Kind      entities.DataSourceKind `json:"kind"`
		ServerURL string                  `json:"server_url"`
		Username  string                  `json:"username"`
		Password  string                  `json:"password"`
		LocalPath string                  `json:"local_path"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	switch payload.Kind {
	case entities.SourceServer:
		if payload.ServerURL == "" {
			c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "server_url is required"})
			return
		}
	case entities.SourceLocal:
		if payload.LocalPath == "" {
			c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "local_path is required"})
			return
		}
	case entities.SourceNone:
	default:
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "unknown data source kind"})
		return
	}

	cfg := entities.DataSourceConfig{
		Kind:      payload.Kind,
		ServerURL: payload.ServerURL,
		Username:  payload.Username,
		Password:  payload.Password,
		LocalPath: payload.LocalPath,
	}
	if err := controller.store.SetDataSource(cfg); err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"kind": cfg.Kind})
}
