package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation names an unknown id or name.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when an insert collides with an existing key.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrAuth is returned when the server rejects the credentials.
	ErrAuth = errors.New("authentication rejected")
	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("transport failure")
)

// TransportError is returned when a gateway call fails on the wire.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransport) match any transport error.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// FriendNotFound wraps ErrNotFound with the friend name.
func FriendNotFound(name string) error {
	return fmt.Errorf("friend %q: %w", name, ErrNotFound)
}

// ChatNotFound wraps ErrNotFound with the chat id.
func ChatNotFound(id int64) error {
	return fmt.Errorf("chat %d: %w", id, ErrNotFound)
}
