// Package entrypoint assembles the application and runs the HTTP
// server with graceful shutdown.
package entrypoint

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jdmarshall90/libreca/internal/config"
	"github.com/jdmarshall90/libreca/internal/covers"
	"github.com/jdmarshall90/libreca/internal/crypto"
	"github.com/jdmarshall90/libreca/internal/downloads"
	"github.com/jdmarshall90/libreca/internal/entities"
	"github.com/jdmarshall90/libreca/internal/fetch"
	http_controllers "github.com/jdmarshall90/libreca/internal/http"
	"github.com/jdmarshall90/libreca/internal/library"
	"github.com/jdmarshall90/libreca/internal/offline"
	"github.com/jdmarshall90/libreca/internal/scheduler"
	"github.com/jdmarshall90/libreca/internal/settingsstore"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

// Run builds the application from config and serves it until a
// termination signal arrives.
func Run(cfg *config.Config, version string) {
	log.Printf("Starting libreca %s", version)

	encryptor, err := buildEncryptor(cfg)
	if err != nil {
		log.Fatalf("Could not initialize credential encryption: %v", err)
	}

	settings, err := settingsstore.New(cfg.Library.SettingsDBPath, encryptor)
	if err != nil {
		log.Fatalf("Could not open settings database: %v", err)
	}
	defer settings.Close()

	if err := seedDataSource(cfg, settings); err != nil {
		log.Fatalf("Could not seed data source from environment: %v", err)
	}

	holder := newServerHolder()

	coverCache, err := covers.NewCache(cfg.Library.CoversDir, holder)
	if err != nil {
		log.Fatalf("Could not create cover cache: %v", err)
	}

	factory := sourceFactory(cfg, holder)

	presenter, err := library.New(settings, factory, coverCache, logView())
	if err != nil {
		log.Fatalf("Could not create library presenter: %v", err)
	}
	presenter.Start()
	defer presenter.Close()

	downloadStore, err := downloads.NewStore(cfg.Library.DownloadsDir, holder)
	if err != nil {
		log.Fatalf("Could not create downloads store: %v", err)
	}

	queue, err := downloads.NewClient(cfg.Library.SettingsDBPath, downloads.QueueOptions{
		Workers:         cfg.Tasks.Workers,
		ReleaseAfter:    cfg.Tasks.ReleaseAfter,
		CleanupInterval: cfg.Tasks.CleanupInterval,
	})
	if err != nil {
		log.Fatalf("Could not create download queue: %v", err)
	}
	defer queue.Close()

	queue.Register(downloads.NewQueue(downloadStore))
	queueCtx, cancelQueue := context.WithCancel(context.Background())
	defer cancelQueue()
	go queue.Start(queueCtx)

	var refresh *scheduler.RefreshScheduler
	if cfg.RefreshSync.Enabled {
		refresh = scheduler.NewRefreshScheduler(presenter, cfg.RefreshSync.Schedule)
		if err := refresh.Start(); err != nil {
			log.Fatalf("Could not start refresh scheduler: %v", err)
		}
	}

	// Kick off the initial load; a missing configuration just leaves
	// the library idle until the user sets a data source.
	if err := presenter.FetchBooks(true); err != nil && err != library.ErrNoDataSource {
		log.Printf("Initial library fetch did not start: %v", err)
	}

	router := http_controllers.NewRouter(http_controllers.RouterConfig{
		Books:     http_controllers.NewBooksController(presenter, coverCache, holder),
		Settings:  http_controllers.NewSettingsController(settings),
		Downloads: http_controllers.NewDownloadsController(downloadStore, queue, presenter),
	})

	Serve(router, cfg, func(ctx context.Context) {
		if refresh != nil {
			refresh.Stop()
		}
		queue.Stop(ctx)
		cancelQueue()
	})
}

// Serve runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully within the configured timeout.
func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting server at %s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutdown Server, waiting %v before killing\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Shutdown callback first (scheduler, download queue), then the
	// listener.
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}

	log.Println("Server exiting")
}

// buildEncryptor derives the credential-encryption key from the
// configured passphrase, with a per-install salt stored next to the
// settings database. No passphrase means credentials cannot be
// stored, which is fine for servers without authentication.
func buildEncryptor(cfg *config.Config) (*crypto.Encryptor, error) {
	if cfg.Security.Passphrase == "" {
		log.Printf("WARNING: SECURITY_PASSPHRASE is not set. Server credentials cannot be stored.")
		return nil, nil
	}

	saltPath := cfg.Library.SettingsDBPath + ".salt"
	salt, err := os.ReadFile(saltPath)
	if os.IsNotExist(err) {
		salt, err = crypto.GenerateSalt()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(saltPath, salt, 0600); err != nil {
			return nil, fmt.Errorf("write salt file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read salt file: %w", err)
	}

	return crypto.NewEncryptorFromPassphrase(cfg.Security.Passphrase, salt)
}

// seedDataSource configures the server backend from the environment
// when nothing has been configured yet.
func seedDataSource(cfg *config.Config, settings *settingsstore.Store) error {
	existing, err := settings.GetDataSource()
	if err != nil {
		return err
	}
	if existing.Kind != entities.SourceNone || cfg.Server.URL == "" {
		return nil
	}

	log.Printf("Seeding data source from environment: %s", cfg.Server.URL)
	return settings.SetDataSource(entities.DataSourceConfig{
		Kind:      entities.SourceServer,
		ServerURL: cfg.Server.URL,
		Username:  cfg.Server.Username,
		Password:  cfg.Server.Password,
	})
}

// sourceFactory builds the fetch backend for a data-source
// configuration and keeps the server holder pointing at the live
// client (or nil for offline/unconfigured sources).
func sourceFactory(cfg *config.Config, holder *serverHolder) library.SourceFactory {
	return func(source entities.DataSourceConfig) (fetch.Source, error) {
		switch source.Kind {
		case entities.SourceServer:
			client := calibreClient(source)
			holder.set(client)
			return fetch.NewPagingFetcher(client, cfg.Library.PageSize, cfg.Library.FetchWorkers), nil
		case entities.SourceLocal:
			holder.set(nil)
			assets, err := offline.NewAssetStore(cfg.Library.CoversDir, nil)
			if err != nil {
				return nil, err
			}
			return offline.NewIngestion(filepath.Join(source.LocalPath, "metadata.db"), assets), nil
		default:
			holder.set(nil)
			return nil, nil
		}
	}
}

// logView is the server-side rendition of the view layer: progress
// goes to the log, and the HTTP handlers read the snapshot on demand.
func logView() library.View {
	return library.View{
		OnLoading: func(expected int) {
			log.Printf("Library loading: expecting %d books", expected)
		},
		OnReload: func() {
			log.Printf("Library snapshot updated")
		},
		OnMessage: func(message string) {
			log.Printf("Library: %s", message)
		},
	}
}
