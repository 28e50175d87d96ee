// Package repository is the todo access layer the controllers talk to. It
// has two implementations: Remote, which keeps per-user documents in a
// docstore behind an identity provider, and Local, which keeps rows in the
// relational cache.
package repository

import (
	"context"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/stream"
)

// Repository is the contract shared by every todo backend.
type Repository interface {
	// Insert creates a todo, or updates the one with id when id is set.
	Insert(ctx context.Context, title, description, id string) error
	// UpdateCompleted sets the completion flag of the todo with id.
	UpdateCompleted(ctx context.Context, id string, completed bool) error
	// Delete removes the todo with id.
	Delete(ctx context.Context, id string) error
	// GetAll calls onNext with the full list now and after every change,
	// until the returned Unsubscribe is called or ctx ends. onNext is not
	// called once Unsubscribe has returned, so Unsubscribe must not be
	// called from inside onNext.
	GetAll(ctx context.Context, onNext func([]model.Todo)) stream.Unsubscribe
	// GetBy returns the todo with id, if it exists and is visible.
	GetBy(ctx context.Context, id string) (model.Todo, bool)
}

// Snapshot reads the current list once.
func Snapshot(ctx context.Context, r Repository) ([]model.Todo, error) {
	ch := make(chan []model.Todo, 1)
	unsub := r.GetAll(ctx, func(todos []model.Todo) {
		select {
		case ch <- todos:
		default:
		}
	})
	defer unsub()

	select {
	case todos := <-ch:
		return todos, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
