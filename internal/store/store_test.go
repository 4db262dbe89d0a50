package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPathsCreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	p, err := NewPaths(root)
	require.NoError(t, err)

	for _, dir := range []string{root, p.VectorDir(), p.ScriptsDir(), p.BrowserStateDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}

	assert.Equal(t, filepath.Join(root, "config.json"), p.ConfigFile())
	assert.Equal(t, filepath.Join(root, "memory.db"), p.MemoryDB())
	assert.Equal(t, filepath.Join(root, "reminders.json"), p.RemindersFile())
	assert.Equal(t, filepath.Join(root, "workflows.json"), p.WorkflowsFile())
	assert.Equal(t, filepath.Join(root, "user_input_response.json"), p.UserInputResponse())
}

func TestAcquireAndReleaseLock(t *testing.T) {
	p, err := NewPaths(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	lock, err := AcquireLock(p)
	require.NoError(t, err)
	assert.True(t, lock.Held())

	require.NoError(t, lock.Release())
	assert.False(t, lock.Held())
	// Second release is a no-op.
	require.NoError(t, lock.Release())
}

func TestAcquireLockFailsWhenHeld(t *testing.T) {
	p, err := NewPaths(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	other := flock.New(p.LockFile())
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	_, err = AcquireLock(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another instance")
}

func TestLockReacquirableAfterRelease(t *testing.T) {
	p, err := NewPaths(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	first, err := AcquireLock(p)
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := AcquireLock(p)
	require.NoError(t, err)
	assert.True(t, second.Held())
	require.NoError(t, second.Release())
}
