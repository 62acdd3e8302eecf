// Package settingsstore persists the small user preferences (sort
// option, data-source configuration) and fans out change events to
// subscribers, replacing ad-hoc global settings lookups.
package settingsstore

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdmarshall90/libreca/internal/crypto"
	"github.com/jdmarshall90/libreca/internal/entities"
)

// Change identifies which preference group was modified.
type Change int

const (
	SortOptionChanged Change = iota
	DataSourceChanged
)

// Store persists preferences in a sqlite database and notifies
// subscribers of changes.
type Store struct {
	db        *gorm.DB
	encryptor *crypto.Encryptor

	mu          sync.Mutex
	subscribers []chan Change
}

// New opens (creating if needed) the preferences database at dbPath.
// encryptor protects the server password at rest and may be nil when
// no credentials will be stored.
func New(dbPath string, encryptor *crypto.Encryptor) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&entities.Setting{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("Settings database initialized at %s", dbPath)

	return &Store{db: db, encryptor: encryptor}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Subscribe returns a channel receiving a Change event for every
// preference update. Events are dropped rather than blocking the
// writer if the subscriber lags.
func (s *Store) Subscribe() <-chan Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Change, 4)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (s *Store) Unsubscribe(ch <-chan Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			close(sub)
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

func (s *Store) notify(change Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscribers {
		select {
		case sub <- change:
		default:
		}
	}
}

// GetSortOption returns the persisted sort option, defaulting to
// sort-by-title when nothing was ever stored.
func (s *Store) GetSortOption() entities.SortOption {
	value, err := s.get(entities.SettingKeySortOption)
	if err != nil {
		return entities.SortByTitle
	}
	opt := entities.SortOption(value)
	if !opt.Valid() {
		return entities.SortByTitle
	}
	return opt
}

// SetSortOption persists the sort option and notifies subscribers.
// Storing the already-active option is a no-op and emits nothing.
func (s *Store) SetSortOption(opt entities.SortOption) error {
	if !opt.Valid() {
		return fmt.Errorf("unknown sort option %q", opt)
	}
	if s.GetSortOption() == opt {
		return nil
	}
	if err := s.set(entities.SettingKeySortOption, string(opt)); err != nil {
		return err
	}
	s.notify(SortOptionChanged)
	return nil
}

// GetDataSource returns the configured backend. The server password
// is decrypted before being returned.
func (s *Store) GetDataSource() (entities.DataSourceConfig, error) {
	kind, err := s.get(entities.SettingKeyDataSourceKind)
	if err != nil {
		return entities.DataSourceConfig{Kind: entities.SourceNone}, nil
	}

	cfg := entities.DataSourceConfig{Kind: entities.DataSourceKind(kind)}
	switch cfg.Kind {
	case entities.SourceServer:
		cfg.ServerURL, _ = s.get(entities.SettingKeyServerURL)
		cfg.Username, _ = s.get(entities.SettingKeyServerUsername)
		encrypted, _ := s.get(entities.SettingKeyServerPassword)
		if encrypted != "" {
			if s.encryptor == nil {
				return cfg, errors.New("stored password but no encryption key configured")
			}
			cfg.Password, err = s.encryptor.Decrypt(encrypted)
			if err != nil {
				return cfg, fmt.Errorf("decrypt server password: %w", err)
			}
		}
	case entities.SourceLocal:
		cfg.LocalPath, _ = s.get(entities.SettingKeyLocalSnapshotDir)
	}
	return cfg, nil
}

// SetDataSource persists the backend configuration and notifies
// subscribers. The password is encrypted before it touches disk.
func (s *Store) SetDataSource(cfg entities.DataSourceConfig) error {
	if err := s.set(entities.SettingKeyDataSourceKind, string(cfg.Kind)); err != nil {
		return err
	}

	password := ""
	if cfg.Password != "" {
		if s.encryptor == nil {
			return errors.New("cannot store password without an encryption key")
		}
		encrypted, err := s.encryptor.Encrypt(cfg.Password)
		if err != nil {
			return fmt.Errorf("encrypt server password: %w", err)
		}
		password = encrypted
	}

	pairs := map[string]string{
		entities.SettingKeyServerURL:        cfg.ServerURL,
		entities.SettingKeyServerUsername:   cfg.Username,
		entities.SettingKeyServerPassword:   password,
		entities.SettingKeyLocalSnapshotDir: cfg.LocalPath,
	}
	for key, value := range pairs {
		if err := s.set(key, value); err != nil {
			return err
		}
	}

	s.notify(DataSourceChanged)
	return nil
}

func (s *Store) get(key string) (string, error) {
	var setting entities.Setting
	if err := s.db.Where("key = ?", key).First(&setting).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (s *Store) set(key, value string) error {
	var setting entities.Setting
	err := s.db.Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&entities.Setting{Key: key, Value: value}).Error
	}
	if err != nil {
		return err
	}
	setting.Value = value
	return s.db.Save(&setting).Error
}
