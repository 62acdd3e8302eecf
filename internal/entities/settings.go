package entities

import "time"

// SortOption selects the active library comparator.
type SortOption string

const (
	SortByTitle  SortOption = "title"
	SortByAuthor SortOption = "author"
)

// Valid reports whether the option is one of the known comparators.
func (o SortOption) Valid() bool {
	return o == SortByTitle || o == SortByAuthor
}

// DataSourceConfig describes the configured library backend: a live
// content server (with optional credentials), a pre-synced local
// snapshot directory, or nothing yet.
type DataSourceConfig struct {
	Kind      DataSourceKind `json:"kind"`
	ServerURL string         `json:"server_url,omitempty"`
	Username  string         `json:"username,omitempty"`
	// Password is held decrypted in memory only; the settings store
	// encrypts it before it touches disk.
	Password  string `json:"-"`
	LocalPath string `json:"local_path,omitempty"`
}

// Setting is one persisted key/value preference row.
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"uniqueIndex;size:100" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}

// Known setting keys
const (
	SettingKeySortOption       = "sort_option"
	SettingKeyDataSourceKind   = "data_source_kind"
	SettingKeyServerURL        = "server_url"
	SettingKeyServerUsername   = "server_username"
	SettingKeyServerPassword   = "server_password" // stored encrypted
	SettingKeyLocalSnapshotDir = "local_snapshot_dir"
)
