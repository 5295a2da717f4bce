package runlock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ivan-cavero/Ignis/internal/domain"
)

const claimAttempts = 3

// claimGrace is how long an empty or unreadable lock file is assumed to be a
// competitor that has created it but not yet written its PID.
const claimGrace = 2 * time.Second

// File is a PID file lock. A file naming a dead process is stale and gets
// reclaimed.
type File struct {
	path  string
	pid   int
	alive func(pid int) bool

	mu        sync.Mutex
	held      bool
	reclaimed int
}

// NewFile returns a lock at path owned by the current process.
func NewFile(path string) *File {
	return &File{path: path, pid: os.Getpid(), alive: ProcessAlive}
}

// Path returns the lock file location.
func (f *File) Path() string { return f.path }

// Reclaimed returns the PID of a stale owner replaced by Acquire, or 0.
func (f *File) Reclaimed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reclaimed
}

// Acquire creates the lock file containing this process's PID.
func (f *File) Acquire(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil
	}
	for attempt := 0; attempt < claimAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := f.create()
		if err == nil {
			f.held = true
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create lock file: %w", err)
		}

		owner, readErr := ReadOwner(f.path)
		if readErr == nil && owner != f.pid && f.alive(owner) {
			return fmt.Errorf("%w: pid %d holds %s", domain.ErrLockContention, owner, f.path)
		}
		if errors.Is(readErr, fs.ErrNotExist) {
			continue
		}
		if readErr != nil {
			info, err := os.Stat(f.path)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err == nil && time.Since(info.ModTime()) < claimGrace {
				return fmt.Errorf("%w: %s is being claimed by another process", domain.ErrLockContention, f.path)
			}
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale lock file: %w", err)
		}
		if readErr == nil {
			f.reclaimed = owner
		}
	}
	return fmt.Errorf("%w: could not claim %s", domain.ErrLockContention, f.path)
}

func (f *File) create() error {
	fh, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := fh.WriteString(strconv.Itoa(f.pid) + "\n"); err != nil {
		_ = fh.Close()
		_ = os.Remove(f.path)
		return fmt.Errorf("write pid: %w", err)
	}
	return fh.Close()
}

// Release removes the lock file when it still names this process.
func (f *File) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.held {
		return nil
	}
	f.held = false
	owner, err := ReadOwner(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil || owner != f.pid {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// ReadOwner parses the PID stored in a lock file.
func ReadOwner(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("lock file %s does not contain a pid", path)
	}
	return pid, nil
}

// ProcessAlive reports whether pid names a running process. A process owned
// by another user counts as alive.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
