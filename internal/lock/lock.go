// Package lock guarantees a single daemon per session through an flock'd
// LOCK file that also records who holds it.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Owner describes the process holding a lock.
type Owner struct {
	PID     int
	Session string
	Since   time.Time
}

func (o Owner) encode() string {
	return fmt.Sprintf("pid=%d\nsession=%s\ntime=%s\n", o.PID, o.Session, o.Since.UTC().Format(time.RFC3339))
}

func parseOwner(content string) Owner {
	var o Owner
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(value)
		case "session":
			o.Session = value
		case "time":
			o.Since, _ = time.Parse(time.RFC3339, value)
		}
	}
	return o
}

// LockHeldError is returned when another process holds the session lock.
type LockHeldError struct {
	Owner Owner
	Path  string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("session %q locked by PID %d since %s (%s)",
		e.Owner.Session, e.Owner.PID, e.Owner.Since.Format(time.RFC3339), e.Path)
}

// Lock represents an acquired session lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on path for session, creating parent
// directories as needed. Returns *LockHeldError if another process holds it.
func Acquire(path, session string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(path)
		_ = f.Close()
		return nil, &LockHeldError{Owner: parseOwner(string(data)), Path: path}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	owner := Owner{PID: os.Getpid(), Session: session, Since: time.Now()}
	if _, err := f.WriteAt([]byte(owner.encode()), 0); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: path}, nil
}

// ReadOwner reports who holds the lock at path, as last recorded in the file.
func ReadOwner(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	return parseOwner(string(data)), nil
}

// Release releases the lock. Safe to call on nil receiver and more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
