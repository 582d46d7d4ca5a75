// Package lockfile guards a Pixwave state directory so that only one server
// process writes to the SQLite database kept there.
//
// The lock is an flock held on a file inside the directory. The kernel drops
// it when the process exits, so a crash never leaves the directory locked; a
// leftover file only carries the previous owner's details.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultFileName is the lock file created in the state directory.
const DefaultFileName = "pixwave.lock"

// ErrLocked is matched by errors.Is when another process holds the lock.
var ErrLocked = errors.New("state directory is locked by another Pixwave instance")

// Opts holds configuration options for Acquire.
type Opts struct {
	FileName string
}

// Option defines a configuration option for Acquire.
type Option func(*Opts)

// WithFileName overrides the lock file name.
func WithFileName(name string) Option {
	return func(o *Opts) { o.FileName = name }
}

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID       int
	StartedAt time.Time
}

func (o Owner) String() string {
	state := "not running, stale lock"
	if processAlive(o.PID) {
		state = "running"
	}
	if o.StartedAt.IsZero() {
		return fmt.Sprintf("PID %d (%s)", o.PID, state)
	}
	return fmt.Sprintf("PID %d started %s (%s)", o.PID, o.StartedAt.Format(time.RFC3339), state)
}

// Lock is a held state directory lock.
type Lock struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking lock on dir, creating the
// directory when needed. If another process holds it the error is a
// *LockError that matches ErrLocked.
func Acquire(dir string, opts ...Option) (*Lock, error) {
	cfg := Opts{FileName: DefaultFileName}
	for _, opt := range opts {
		opt(&cfg)
	}
	lockPath := filepath.Join(dir, cfg.FileName)
	slog.Debug("lockfile.Acquire: acquiring", "lock_path", lockPath)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	// No O_TRUNC: the previous owner's details must survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{Path: lockPath, Owner: describeOwner(lockPath), Cause: err}
		slog.Error("lockfile.Acquire: state directory already locked", "lock_path", lockPath, "owner", lockErr.Owner)
		return nil, lockErr
	}

	if err := writeOwner(file, Owner{PID: os.Getpid(), StartedAt: time.Now().UTC()}); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", lockPath, err)
	}

	slog.Info("lockfile.Acquire: state directory locked", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}

	var errs []error
	// Remove while still holding the flock so no other process can lock a file
	// that is about to disappear.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove: %w", err))
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	l.file = nil

	if err := errors.Join(errs...); err != nil {
		slog.Error("lockfile.Release: release incomplete", "error", err, "lock_path", l.path)
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	slog.Info("lockfile.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// LockError reports that another process holds the state directory lock.
type LockError struct {
	Path  string
	Owner string
	Cause error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another Pixwave instance is using this state directory (lock file %s)", e.Path)
	if e.Owner != "" {
		fmt.Fprintf(&b, "; holder: %s", e.Owner)
	}
	fmt.Fprintf(&b, "; if no other instance is running, remove %s and retry", e.Path)
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrLocked) true for every LockError.
func (e *LockError) Is(target error) bool {
	return target == ErrLocked
}

func writeOwner(file *os.File, o Owner) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nstarted=%s\n", o.PID, o.StartedAt.Format(time.RFC3339))
	if _, err := file.WriteAt([]byte(content), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.writeOwner: sync failed", "error", err)
	}
	return nil
}

func describeOwner(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unknown"
	}
	owner, ok := parseOwner(string(data))
	if !ok {
		return "unknown"
	}
	return owner.String()
}

// parseOwner reads the key=value lines written by writeOwner.
func parseOwner(content string) (Owner, bool) {
	var o Owner
	for _, line := range strings.Split(content, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch key {
		case "pid":
			pid, err := strconv.Atoi(value)
			if err != nil || pid <= 0 {
				return Owner{}, false
			}
			o.PID = pid
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				o.StartedAt = t
			}
		}
	}
	if o.PID <= 0 {
		return Owner{}, false
	}
	return o, true
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
