// File: internal/browser/session_test.go
package browser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/config"
)

func TestResetRunStateRemovesPersistedState(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "storage_state.json")
	profileDir := filepath.Join(dir, "profile")
	require.NoError(t, os.WriteFile(stateFile, []byte(`{"cookies":[]}`), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(profileDir, "Default"), 0o755))

	s := NewSession(config.BrowserConfig{
		StateFile:  stateFile,
		ProfileDir: profileDir,
		ResetState: true,
	}, zap.NewNop())
	require.NoError(t, s.resetRunState())

	assert.NoFileExists(t, stateFile)
	assert.NoDirExists(t, profileDir)
}

func TestResetRunStateToleratesMissingPaths(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(config.BrowserConfig{
		StateFile:  filepath.Join(dir, "never-written.json"),
		ProfileDir: filepath.Join(dir, "never-created"),
	}, zap.NewNop())

	assert.NoError(t, s.resetRunState())
}
