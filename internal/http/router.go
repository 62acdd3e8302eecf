// Package http exposes the library over a JSON API.
package http

import (
	"github.com/gin-gonic/gin"
)

// RouterConfig carries the controller dependencies for the router.
type RouterConfig struct {
	Books     *BooksController
	Settings  *SettingsController
	Downloads *DownloadsController
}

// NewRouter creates and configures the HTTP router with all endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	books := router.Group("/books")
	{
		books.GET("", cfg.Books.List)
		books.GET("/search", cfg.Books.Search)
		books.GET("/:id", cfg.Books.Detail)
		books.PATCH("/:id", cfg.Books.Edit)
		books.GET("/:id/cover", cfg.Books.Cover)
	}

	libraryGroup := router.Group("/library")
	{
		libraryGroup.POST("/refresh", cfg.Books.Refresh)
		libraryGroup.POST("/retry", cfg.Books.RetryFailures)
		libraryGroup.GET("/state", cfg.Books.State)
	}

	settings := router.Group("/settings")
	{
		settings.GET("/sort", cfg.Settings.GetSort)
		settings.PUT("/sort", cfg.Settings.SetSort)
		settings.GET("/data-source", cfg.Settings.GetDataSource)
		settings.PUT("/data-source", cfg.Settings.SetDataSource)
	}

	downloads := router.Group("/downloads")
	{
		downloads.GET("", cfg.Downloads.List)
		downloads.POST("/:id", cfg.Downloads.Enqueue)
		downloads.DELETE("/:id", cfg.Downloads.Delete)
	}

	return router
}
