// File: internal/browser/storage_test.go
package browser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "storage_state.json")

	expires := cdpTimeSinceEpoch(2000000000)
	state := &StorageState{
		SavedAt: time.Now().UTC().Truncate(time.Second),
		Cookies: []*network.CookieParam{
			{Name: "session", Value: "abc123", Domain: ".example.com", Path: "/", Secure: true, HTTPOnly: true, Expires: &expires},
		},
		Origins: []OriginStorage{
			{Origin: "https://example.com", LocalStorage: map[string]string{"token": "xyz"}},
		},
	}

	require.NoError(t, writeStateFile(path, state))

	loaded, err := ReadStateFile(path)
	require.NoError(t, err)
	require.Len(t, loaded.Cookies, 1)
	assert.Equal(t, "session", loaded.Cookies[0].Name)
	assert.Equal(t, "abc123", loaded.Cookies[0].Value)
	require.Len(t, loaded.Origins, 1)
	assert.Equal(t, "xyz", loaded.Origins[0].LocalStorage["token"])

	// No temp file left behind and owner-only permissions.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestReadStateFileMissing(t *testing.T) {
	_, err := ReadStateFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadStateFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := ReadStateFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not parse")
}

func TestCookiesToParams(t *testing.T) {
	cookies := []*network.Cookie{
		{Name: "a", Value: "1", Domain: "example.com", Path: "/", Expires: 1900000000},
		{Name: "b", Value: "2", Domain: "example.com", Path: "/", Expires: -1}, // session cookie
	}

	params := cookiesToParams(cookies)
	require.Len(t, params, 2)
	require.NotNil(t, params[0].Expires)
	assert.Nil(t, params[1].Expires)
}
