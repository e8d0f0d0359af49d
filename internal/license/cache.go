// File: internal/license/cache.go
package license

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/json-iterator/go"
)

// cacheEntry is one cached verdict.
type cacheEntry struct {
	// KeyDigest ties the entry to a license key without storing the key.
	KeyDigest string    `json:"key_digest"`
	Status    Status    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
}

// fileCache persists the most recent verdict as a single JSON file.
type fileCache struct {
	path string
}

func newFileCache(path string) *fileCache {
	return &fileCache{path: path}
}

func digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// load returns the cached entry for the key, or an error when absent, stale
// on disk, or recorded for a different key.
func (f *fileCache) load(key string) (*cacheEntry, error) {
	if f.path == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt license cache: %w", err)
	}
	if entry.KeyDigest != digest(key) {
		return nil, fmt.Errorf("license cache belongs to a different key")
	}
	return &entry, nil
}

// store writes the entry atomically with owner-only permissions.
func (f *fileCache) store(key string, entry cacheEntry) error {
	if f.path == "" {
		return nil
	}
	entry.KeyDigest = digest(key)

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
