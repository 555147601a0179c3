package instance

import (
	"errors"
	"fmt"

	"github.com/devghori1264/aerophoenix/vkd/internal/ident"
)

// Sentinel errors for instance operations.
var (
	ErrNotFound               = errors.New("instance not found")
	ErrExhaustedUniqueIDs     = ident.ErrExhaustedUniqueIDs
	ErrContainerHandleMissing = errors.New("container handle missing")
	ErrNoContainerState       = errors.New("runtime reported no container state")
	ErrDeleting               = errors.New("instance is being deleted")
	ErrContainerNotRunning    = errors.New("container is not running after start")
)

// NotFoundError names the instance that was looked up. It matches ErrNotFound.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("instance not found: %s", e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// RuntimeError wraps a failed container runtime call.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string { return fmt.Sprintf("runtime %s: %v", e.Op, e.Err) }
func (e *RuntimeError) Unwrap() error { return e.Err }

// StoreError wraps a failed persistent store call.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }
