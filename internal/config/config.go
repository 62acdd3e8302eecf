package config

import (
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Global
		Server
		Library
		RefreshSync
		Tasks
		Security
	}

	HTTP struct {
		Port int32
		Host string
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	// Server preconfigures the content-server data source from the
	// environment. The settings store takes precedence once the user
	// has configured a source explicitly.
	Server struct {
		URL      string
		Username string
		Password string
	}
	Library struct {
		SettingsDBPath string
		CoversDir      string
		DownloadsDir   string
		PageSize       int // search page size against the content server
		FetchWorkers   int // concurrent per-book detail fetches
	}
	RefreshSync struct {
		Enabled  bool
		Schedule string // Cron format: "0 */6 * * *" = every 6 hours
	}
	Tasks struct {
		Workers         int
		ReleaseAfter    time.Duration
		CleanupInterval time.Duration
	}
	Security struct {
		Passphrase string // encrypts stored server credentials
	}
)

// Default paths
const (
	DefaultSettingsDBPath = "./libreca.db"
	DefaultCoversDir      = "./covers"
	DefaultDownloadsDir   = "./downloads"
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8264)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 2)

	v.SetDefault("server_url", "")
	v.SetDefault("server_username", "")
	v.SetDefault("server_password", "")

	v.SetDefault("settings_db_path", DefaultSettingsDBPath)
	v.SetDefault("covers_dir", DefaultCoversDir)
	v.SetDefault("downloads_dir", DefaultDownloadsDir)
	v.SetDefault("page_size", 300)
	v.SetDefault("fetch_workers", 12)

	v.SetDefault("refresh_sync_enabled", false)
	v.SetDefault("refresh_sync_schedule", "0 */6 * * *") // Every 6 hours

	// Download queue defaults
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")

	v.SetDefault("security_passphrase", "")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Server: Server{
			URL:      v.GetString("SERVER_URL"),
			Username: v.GetString("SERVER_USERNAME"),
			Password: v.GetString("SERVER_PASSWORD"),
		},
		Library: Library{
			SettingsDBPath: v.GetString("SETTINGS_DB_PATH"),
			CoversDir:      v.GetString("COVERS_DIR"),
			DownloadsDir:   v.GetString("DOWNLOADS_DIR"),
			PageSize:       v.GetInt("PAGE_SIZE"),
			FetchWorkers:   v.GetInt("FETCH_WORKERS"),
		},
		RefreshSync: RefreshSync{
			Enabled:  v.GetBool("REFRESH_SYNC_ENABLED"),
			Schedule: v.GetString("REFRESH_SYNC_SCHEDULE"),
		},
		Tasks: Tasks{
			Workers:         v.GetInt("TASK_WORKERS"),
			ReleaseAfter:    v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval: v.GetDuration("TASK_CLEANUP_INTERVAL"),
		},
		Security: Security{
			Passphrase: v.GetString("SECURITY_PASSPHRASE"),
		},
	}
}
