// Package store owns the per-user data directory: the layout every
// component reads its paths from, and the file lock that keeps a second
// engine instance off the same directory.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/harunnryd/karakuri/internal/pathutil"
)

// DefaultDirName is the data directory under the user's home.
const DefaultDirName = ".karakuri"

// Paths is the fixed layout of one data directory.
type Paths struct {
	Root string
}

// DefaultRoot resolves ~/.karakuri.
func DefaultRoot() (string, error) {
	root, err := pathutil.Expand("~/" + DefaultDirName)
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	return root, nil
}

// NewPaths creates the directory tree and returns the layout.
func NewPaths(root string) (*Paths, error) {
	p := &Paths{Root: root}
	for _, dir := range []string{root, p.VectorDir(), p.ScriptsDir(), p.BrowserStateDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}
	return p, nil
}

func (p *Paths) ConfigFile() string        { return filepath.Join(p.Root, "config.json") }
func (p *Paths) MemoryDB() string          { return filepath.Join(p.Root, "memory.db") }
func (p *Paths) VectorDir() string         { return filepath.Join(p.Root, "vector_memory") }
func (p *Paths) ScriptsDir() string        { return filepath.Join(p.Root, "sandbox", "scripts") }
func (p *Paths) BrowserStateDir() string   { return filepath.Join(p.Root, "browser_state") }
func (p *Paths) UserInputResponse() string { return filepath.Join(p.Root, "user_input_response.json") }
func (p *Paths) RemindersFile() string     { return filepath.Join(p.Root, "reminders.json") }
func (p *Paths) WorkflowsFile() string     { return filepath.Join(p.Root, "workflows.json") }
func (p *Paths) LockFile() string          { return filepath.Join(p.Root, "karakuri.lock") }

// Lock retry policy. The window is short: a competing instance either
// exits quickly or holds the lock for its whole life.
const (
	lockRetryInterval = 200 * time.Millisecond
	lockMaxRetries    = 5
)

// Lock is the single-instance guard over one data directory.
type Lock struct {
	mu         sync.Mutex
	fileLock   *flock.Flock
	path       string
	acquiredAt time.Time
}

// AcquireLock takes the data-dir lock, retrying briefly before giving
// up. A held lock means another engine instance owns the directory.
func AcquireLock(p *Paths) (*Lock, error) {
	fileLock := flock.New(p.LockFile())

	for i := 0; i < lockMaxRetries; i++ {
		locked, err := fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("try data dir lock: %w", err)
		}
		if locked {
			return &Lock{
				fileLock:   fileLock,
				path:       p.LockFile(),
				acquiredAt: time.Now(),
			}, nil
		}
		if i < lockMaxRetries-1 {
			time.Sleep(lockRetryInterval)
		}
	}
	return nil, fmt.Errorf("data dir %s is locked by another instance", p.Root)
}

// Release drops the lock; safe to call twice.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLock == nil {
		return nil
	}
	err := l.fileLock.Unlock()
	l.fileLock = nil
	if err != nil {
		return fmt.Errorf("release data dir lock: %w", err)
	}
	return nil
}

// Held reports whether this process still owns the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileLock != nil
}
