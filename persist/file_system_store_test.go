package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemStore(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir(), testUser)
	require.NoError(t, err)
	defer store.Close()

	testStoreImplementation(t, store)
}

func TestFileSystemStorePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSystemStore(dir, testUser)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.SaveIdentity([]byte(`{"user_id":"test-user"}`), "")
	require.NoError(t, err)

	// Nothing under the store may be group- or world-readable
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			assert.Zero(t, info.Mode().Perm()&0077, "directory %s is too permissive: %v", path, info.Mode())
		} else {
			assert.Zero(t, info.Mode().Perm()&0077, "file %s is too permissive: %v", path, info.Mode())
		}
		return nil
	})
	require.NoError(t, err)
}

func TestFileSystemStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSystemStore(dir, testUser)
	require.NoError(t, err)

	version, err := store.SaveRecord(RecordEntry, "entry-keep", []byte(`{"id":"entry-keep"}`), "")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewFileSystemStore(dir, testUser)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadRecord(RecordEntry, "entry-keep")
	require.NoError(t, err)
	assert.Equal(t, version, loaded.Version)
	assert.JSONEq(t, `{"id":"entry-keep"}`, string(loaded.Data))
}
