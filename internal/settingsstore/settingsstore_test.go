package settingsstore

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdmarshall90/libreca/internal/crypto"
	"github.com/jdmarshall90/libreca/internal/entities"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	enc, err := crypto.NewEncryptor(bytes.Repeat([]byte{0x11}, crypto.KeySize))
	require.NoError(t, err)

	store, err := New(filepath.Join(t.TempDir(), "settings.db"), enc)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func receiveChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case change := <-ch:
		return change
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change notification")
		return 0
	}
}

func TestGetSortOption_DefaultsToTitle(t *testing.T) {
	store := setupStore(t)
	assert.Equal(t, entities.SortByTitle, store.GetSortOption())
}

func TestSetSortOption_PersistsAndNotifies(t *testing.T) {
	store := setupStore(t)
	ch := store.Subscribe()

	err := store.SetSortOption(entities.SortByAuthor)
	require.NoError(t, err)

	assert.Equal(t, entities.SortByAuthor, store.GetSortOption())
	assert.Equal(t, SortOptionChanged, receiveChange(t, ch))
}

func TestSetSortOption_NoOpEmitsNothing(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.SetSortOption(entities.SortByAuthor))

	ch := store.Subscribe()
	require.NoError(t, store.SetSortOption(entities.SortByAuthor))

	select {
	case change := <-ch:
		t.Fatalf("unexpected notification %v for a no-op write", change)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSetSortOption_RejectsUnknownOption(t *testing.T) {
	store := setupStore(t)
	assert.Error(t, store.SetSortOption(entities.SortOption("shoe size")))
}

func TestGetDataSource_DefaultsToNone(t *testing.T) {
	store := setupStore(t)

	cfg, err := store.GetDataSource()
	require.NoError(t, err)
	assert.Equal(t, entities.SourceNone, cfg.Kind)
}

func TestSetDataSource_ServerRoundTrip(t *testing.T) {
	store := setupStore(t)
	ch := store.Subscribe()

	err := store.SetDataSource(entities.DataSourceConfig{
		Kind:      entities.SourceServer,
		ServerURL: "http://calibre.local:8080",
		Username:  "reader",
		Password:  "hunter2",
	})
	require.NoError(t, err)
	assert.Equal(t, DataSourceChanged, receiveChange(t, ch))

	cfg, err := store.GetDataSource()
	require.NoError(t, err)
	assert.Equal(t, entities.SourceServer, cfg.Kind)
	assert.Equal(t, "http://calibre.local:8080", cfg.ServerURL)
	assert.Equal(t, "reader", cfg.Username)
	assert.Equal(t, "hunter2", cfg.Password)
}

func TestSetDataSource_PasswordStoredEncrypted(t *testing.T) {
	store := setupStore(t)

	err := store.SetDataSource(entities.DataSourceConfig{
		Kind:      entities.SourceServer,
		ServerURL: "http://calibre.local",
		Password:  "hunter2",
	})
	require.NoError(t, err)

	stored, err := store.get(entities.SettingKeyServerPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, stored)
	assert.NotEqual(t, "hunter2", stored)
}

func TestSetDataSource_LocalSnapshot(t *testing.T) {
	store := setupStore(t)

	err := store.SetDataSource(entities.DataSourceConfig{
		Kind:      entities.SourceLocal,
		LocalPath: "/snapshots/library",
	})
	require.NoError(t, err)

	cfg, err := store.GetDataSource()
	require.NoError(t, err)
	assert.Equal(t, entities.SourceLocal, cfg.Kind)
	assert.Equal(t, "/snapshots/library", cfg.LocalPath)
	assert.Empty(t, cfg.Password)
}

func TestSubscribe_FansOutToAllSubscribers(t *testing.T) {
	store := setupStore(t)
	first := store.Subscribe()
	second := store.Subscribe()

	require.NoError(t, store.SetSortOption(entities.SortByAuthor))

	assert.Equal(t, SortOptionChanged, receiveChange(t, first))
	assert.Equal(t, SortOptionChanged, receiveChange(t, second))
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	store := setupStore(t)
	ch := store.Subscribe()
	store.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Writes after unsubscribe must not panic on the closed channel.
	require.NoError(t, store.SetSortOption(entities.SortByAuthor))
}
