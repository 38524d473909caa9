package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileLogger(t *testing.T) (*FileLogger, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(&Config{
		Enabled: true,
		UserID:  "alice",
		Type:    FileAuditType,
		Options: map[string]interface{}{"file_path": path},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func TestFileLoggerWritesJSONL(t *testing.T) {
	logger, path := newTestFileLogger(t)

	require.NoError(t, logger.Log("ENTRY_ENCRYPT", true, map[string]interface{}{
		"entry_id":   "e1",
		"request_id": "ev_1",
	}))
	require.NoError(t, logger.Log("AUTH_FAILURE", false, map[string]interface{}{
		"error": "invalid passphrase",
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"ENTRY_ENCRYPT"`)
	assert.Contains(t, string(data), `"entry_id":"e1"`)
	assert.Contains(t, string(data), `"success":false`)
}

func TestFileLoggerQuery(t *testing.T) {
	logger, _ := newTestFileLogger(t)

	require.NoError(t, logger.Log("VAULT_UNLOCK", true, nil))
	require.NoError(t, logger.Log("ENTRY_ENCRYPT", true, map[string]interface{}{"entry_id": "e1"}))
	require.NoError(t, logger.Log("ENTRY_ENCRYPT", true, map[string]interface{}{"entry_id": "e2"}))
	require.NoError(t, logger.Log("AUTH_FAILURE", false, nil))

	t.Run("ByAction", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Action: "ENTRY_ENCRYPT"})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Filtered)
		assert.Equal(t, 4, result.TotalCount)
	})

	t.Run("ByEntry", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{EntryID: "e2"})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, "ENTRY_ENCRYPT", result.Events[0].Action)
	})

	t.Run("FailuresOnly", func(t *testing.T) {
		failed := false
		result, err := logger.Query(QueryOptions{Success: &failed})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, "AUTH_FAILURE", result.Events[0].Action)
	})

	t.Run("KeyAccessOnly", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{KeyAccess: true})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, "VAULT_UNLOCK", result.Events[0].Action)
	})

	t.Run("LimitAndOrder", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, result.Events, 2)
		assert.True(t, result.HasMore)
		// Newest first
		assert.False(t, result.Events[0].Timestamp.Before(result.Events[1].Timestamp))
	})

	t.Run("SinceFilter", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		result, err := logger.Query(QueryOptions{Since: &future})
		require.NoError(t, err)
		assert.Empty(t, result.Events)
	})
}

func TestFileLoggerSurvivesReopen(t *testing.T) {
	logger, path := newTestFileLogger(t)

	require.NoError(t, logger.Log("VAULT_OPENED", true, nil))
	require.NoError(t, logger.Close())

	// A later vault reusing the same logger reopens the file transparently
	require.NoError(t, logger.Log("VAULT_OPENED", true, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, len(splitLines(data)))
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func TestNewLoggerSelection(t *testing.T) {
	t.Run("DisabledIsNoOp", func(t *testing.T) {
		logger, err := NewLogger(&Config{Enabled: false})
		require.NoError(t, err)
		_, ok := logger.(*NoOpLogger)
		assert.True(t, ok)
	})

	t.Run("NilIsNoOp", func(t *testing.T) {
		logger, err := NewLogger(nil)
		require.NoError(t, err)
		_, ok := logger.(*NoOpLogger)
		assert.True(t, ok)
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		_, err := NewLogger(&Config{Enabled: true, Type: "carrier-pigeon"})
		assert.Error(t, err)
	})

	t.Run("FileRequiresPath", func(t *testing.T) {
		_, err := NewLogger(&Config{Enabled: true, Type: FileAuditType})
		assert.Error(t, err)
	})
}
