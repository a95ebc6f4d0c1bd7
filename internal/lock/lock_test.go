package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireRecordsOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions", "main", "LOCK")

	l, err := Acquire(path, "main")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = l.Release() }()

	owner, err := ReadOwner(path)
	if err != nil {
		t.Fatal(err)
	}
	if owner.PID != os.Getpid() || owner.Session != "main" || owner.Since.IsZero() {
		t.Errorf("owner = %+v", owner)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LOCK")

	l1, err := Acquire(path, "work")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(path, "work")
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected LockHeldError, got %T: %v", err, err)
	}
	if held.Owner.PID != os.Getpid() || held.Owner.Session != "work" {
		t.Errorf("held by %+v", held.Owner)
	}
}

func TestReleaseRemovesFileAndAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LOCK")

	l, err := Acquire(path, "main")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file still present: %v", err)
	}

	l2, err := Acquire(path, "main")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = l2.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestParseOwnerIgnoresGarbage(t *testing.T) {
	o := parseOwner("junk\npid=abc\nsession=x\n")
	if o.PID != 0 || o.Session != "x" {
		t.Errorf("owner = %+v", o)
	}
}
