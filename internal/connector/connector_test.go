package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prasantk47/governexplus-sub004/internal/config"

	"github.com/stretchr/testify/require"
)

func TestMemoryConnector(t *testing.T) {
	c := NewMemoryConnector()
	ctx := context.Background()

	require.False(t, c.IsUnlocked("FF_FIN_01"))
	require.NoError(t, c.Unlock(ctx, "FF_FIN_01"))
	require.NoError(t, c.SetTemporaryCredential(ctx, "FF_FIN_01", "s3cret"))
	require.True(t, c.IsUnlocked("FF_FIN_01"))
	require.Equal(t, "s3cret", c.Secret("FF_FIN_01"))

	require.NoError(t, c.Lock(ctx, "FF_FIN_01"))
	require.False(t, c.IsUnlocked("FF_FIN_01"))
	require.Empty(t, c.Secret("FF_FIN_01"))

	c.FailOn("credential", true)
	require.ErrorIs(t, c.SetTemporaryCredential(ctx, "FF_FIN_01", "x"), ErrInjected)
	require.Equal(t, []string{
		"unlock:FF_FIN_01", "credential:FF_FIN_01", "lock:FF_FIN_01", "credential:FF_FIN_01",
	}, c.Calls())
}

func TestHTTPConnector(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var password string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
		paths = append(paths, r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "" {
			password = body["password"]
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c, err := New(config.ConnectorConfig{Mode: "http", BaseURL: server.URL, APIToken: "tkn", TimeoutSeconds: 5})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Unlock(ctx, "FF_FIN_01"))
	require.NoError(t, c.SetTemporaryCredential(ctx, "FF_FIN_01", "pw"))
	require.NoError(t, c.Lock(ctx, "FF_FIN_01"))

	require.Equal(t, []string{
		"/accounts/FF_FIN_01/unlock",
		"/accounts/FF_FIN_01/credential",
		"/accounts/FF_FIN_01/lock",
	}, paths)
	require.Equal(t, "pw", password)
}

func TestHTTPConnectorError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "locked by admin", http.StatusConflict)
	}))
	defer server.Close()

	c := NewHTTPConnector(config.ConnectorConfig{BaseURL: server.URL, TimeoutSeconds: 5})
	err := c.Unlock(context.Background(), "FF_FIN_01")
	require.Error(t, err)
	require.Contains(t, err.Error(), "409")
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(config.ConnectorConfig{Mode: "ldap"})
	require.Error(t, err)
	_, err = New(config.ConnectorConfig{Mode: "http"})
	require.Error(t, err)

	c, err := New(config.ConnectorConfig{})
	require.NoError(t, err)
	require.IsType(t, &MemoryConnector{}, c)
}
