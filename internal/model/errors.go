package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any *NotFoundError with errors.Is.
	ErrNotFound = errors.New("todo not found")
	// ErrOwnership matches any *OwnershipError with errors.Is.
	ErrOwnership = errors.New("todo belongs to another user")
)

// AuthError carries a human-readable failure from an identity operation.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// StoreError wraps a read or write failure of a backing store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// NotFoundError reports a referenced todo that does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string        { return fmt.Sprintf("todo %q not found", e.ID) }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// OwnershipError reports a todo owned by someone other than the session user.
type OwnershipError struct {
	ID    string
	Owner string
	User  string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("todo %q does not belong to user %q", e.ID, e.User)
}
func (e *OwnershipError) Is(target error) bool { return target == ErrOwnership }
