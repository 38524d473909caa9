package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entryvault "github.com/john-matlock-eng/ai-lifestyle-app-sub007"
	"github.com/john-matlock-eng/ai-lifestyle-app-sub007/persist"
)

const testToken = "test-api-token"

type testEnv struct {
	vault   *entryvault.Vault
	handler http.Handler
	entries []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	directory := entryvault.NewInMemoryDirectory()

	service, principal, err := entryvault.NewAnalysisService("insights-svc", entryvault.MoodInsights)
	require.NoError(t, err)
	require.NoError(t, directory.Register(principal))

	vault := openVault(t, dir, "alice", directory)
	require.NoError(t, vault.Initialize())

	// A second principal to receive shares
	recipient := openVault(t, dir, "bob", directory)
	require.NoError(t, recipient.Initialize())

	ctx := context.Background()
	var entries []string
	for _, body := range []string{"first entry", "second entry"} {
		entry, err := vault.EncryptEntry(ctx, body, entryvault.EntryMetadata{Mood: "content"})
		require.NoError(t, err)
		entries = append(entries, entry.ID)
	}

	server := NewServer(vault, service, Config{Token: testToken, ServiceID: "insights-svc"}, zerolog.Nop())
	return &testEnv{vault: vault, handler: server.Router(), entries: entries}
}

func openVault(t *testing.T, dir, userID string, directory entryvault.PrincipalDirectory) *entryvault.Vault {
	t.Helper()

	store, err := persist.NewFileSystemStore(dir, userID)
	require.NoError(t, err)
	v, err := entryvault.NewWithStore(entryvault.Options{
		DerivationPassphrase: "Sn0wfall!23",
		UserID:               userID,
	}, store, nil, directory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t)

	t.Run("MissingToken", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/ai-analysis/shares/x/status", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("WrongToken", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/ai-analysis/shares/x/status", nil, "wrong-token")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("ValidToken", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/ai-analysis/shares/missing/status", nil, testToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCreateShareEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Created", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/shares", map[string]interface{}{
			"entryId":     env.entries[0],
			"recipientId": "bob",
			"permissions": []string{"read"},
		}, testToken)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			GrantID string `json:"grantId"`
			EntryID string `json:"entryId"`
		}
		decodeBody(t, rec, &resp)
		assert.NotEmpty(t, resp.GrantID)
		assert.Equal(t, env.entries[0], resp.EntryID)

		del := env.request(t, http.MethodDelete, "/shares/"+resp.GrantID, nil, testToken)
		assert.Equal(t, http.StatusNoContent, del.Code)
	})

	t.Run("UnknownRecipient", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/shares", map[string]interface{}{
			"entryId":     env.entries[0],
			"recipientId": "nobody",
		}, testToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("RevokeUnknownGrant", func(t *testing.T) {
		rec := env.request(t, http.MethodDelete, "/shares/missing", nil, testToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/shares", bytes.NewBufferString("{not json"))
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("LockedVaultConflicts", func(t *testing.T) {
		env.vault.Lock()
		defer func() { require.NoError(t, env.vault.Unlock()) }()

		rec := env.request(t, http.MethodPost, "/shares", map[string]interface{}{
			"entryId":     env.entries[0],
			"recipientId": "bob",
		}, testToken)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestAnalysisShareLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/ai-analysis/shares", map[string]interface{}{
		"entryIds":        env.entries,
		"analysisType":    "mood",
		"retentionPolicy": "bounded-duration",
	}, testToken)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		ShareID   string     `json:"shareId"`
		Status    string     `json:"status"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.ShareID)
	assert.Equal(t, "pending", created.Status)
	assert.NotNil(t, created.ExpiresAt)

	// Processing happens out of band; poll status until terminal
	var status struct {
		Status   string  `json:"status"`
		Progress float64 `json:"progress"`
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec := env.request(t, http.MethodGet, "/ai-analysis/shares/"+created.ShareID+"/status", nil, testToken)
		require.Equal(t, http.StatusOK, rec.Code)
		decodeBody(t, rec, &status)
		if status.Status == "completed" || status.Status == "failed" || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Equal(t, "completed", status.Status)
	assert.EqualValues(t, 100, status.Progress)

	share, err := env.vault.GetAnalysisShare(created.ShareID)
	require.NoError(t, err)

	t.Run("ResultFetchable", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/ai-analysis/results/"+share.ResultID, nil, testToken)
		require.Equal(t, http.StatusOK, rec.Code)

		var result entryvault.AnalysisResult
		decodeBody(t, rec, &result)
		assert.Contains(t, result.Summary, "2 entries")
		assert.NotContains(t, result.Summary, "first entry")
	})

	t.Run("UnknownResult", func(t *testing.T) {
		rec := env.request(t, http.MethodGet, "/ai-analysis/results/missing", nil, testToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("DeleteShare", func(t *testing.T) {
		rec := env.request(t, http.MethodDelete, "/ai-analysis/shares/"+created.ShareID, nil, testToken)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = env.request(t, http.MethodGet, "/ai-analysis/shares/"+created.ShareID+"/status", nil, testToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAnalysisShareValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("UnknownEntries", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/ai-analysis/shares", map[string]interface{}{
			"entryIds":        []string{"missing"},
			"analysisType":    "mood",
			"retentionPolicy": "ephemeral",
		}, testToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("BadRetention", func(t *testing.T) {
		rec := env.request(t, http.MethodPost, "/ai-analysis/shares", map[string]interface{}{
			"entryIds":        env.entries,
			"analysisType":    "mood",
			"retentionPolicy": "forever",
		}, testToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
