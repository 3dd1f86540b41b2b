package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "trainer.db")
	store, err := OpenSQLite(context.Background(), path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestSQLiteStore_Sessions(t *testing.T) {
	store, _ := openTestSQLite(t)
	exerciseStore(t, store)
}

func TestSQLiteStore_PersonalRecords(t *testing.T) {
	store, _ := openTestSQLite(t)
	exercisePersonalRecords(t, store)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	store, path := openTestSQLite(t)
	ctx := context.Background()
	_, err := store.UpdatePersonalRecordIfNeeded(ctx, "row", 25, 10, "TUT")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// migrations are already applied, opening again is a no-op for them
	reopened, err := Open(ctx, Config{Driver: DriverSQLite, Path: path}, testLogger())
	require.NoError(t, err)
	defer reopened.Close()
	records, err := reopened.PersonalRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "row", records[0].ExerciseID)
}

func TestSQLiteStore_EmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "", testLogger())
	assert.Error(t, err)
}
