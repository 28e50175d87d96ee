package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/repository"
	"github.com/Makepad-fr/tada/internal/stream"
)

// ErrTitleRequired is returned when saving a todo without a title.
var ErrTitleRequired = errors.New("title is required")

// List drives the todo list screen.
type List struct {
	repo repository.Repository
}

func NewList(r repository.Repository) *List { return &List{repo: r} }

// Watch streams the list until the returned func is called or ctx ends.
func (l *List) Watch(ctx context.Context, fn func([]model.Todo)) stream.Unsubscribe {
	return l.repo.GetAll(ctx, fn)
}

// Toggle sets the completion flag of the todo with id.
func (l *List) Toggle(ctx context.Context, id string, completed bool) error {
	if err := l.repo.UpdateCompleted(ctx, id, completed); err != nil {
		return fmt.Errorf("failed to update todo: %w", err)
	}
	return nil
}

// Remove deletes t.
func (l *List) Remove(ctx context.Context, t model.Todo) error {
	if err := l.repo.Delete(ctx, t.ID); err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	return nil
}

// Restore puts back a removed todo under its old id.
func (l *List) Restore(ctx context.Context, t model.Todo) error {
	if err := l.repo.Insert(ctx, t.Title, t.Description, t.ID); err != nil {
		return fmt.Errorf("failed to restore todo: %w", err)
	}
	if t.IsCompleted {
		return l.Toggle(ctx, t.ID, true)
	}
	return nil
}

// Save creates a todo, or rewrites the one with id.
func (l *List) Save(ctx context.Context, id, title, description string) error {
	e := &Editor{repo: l.repo, id: id, Title: title, Description: description}
	return e.Save(ctx)
}

// Editor edits a new or existing todo.
type Editor struct {
	repo repository.Repository
	id   string

	Title       string
	Description string
}

// NewEditor returns an editor for id, loading its fields when it exists.
// An empty id edits a new todo.
func NewEditor(ctx context.Context, r repository.Repository, id string) *Editor {
	e := &Editor{repo: r, id: id}
	if id == "" {
		return e
	}
	if t, ok := r.GetBy(ctx, id); ok {
		e.Title = t.Title
		e.Description = t.Description
	}
	return e
}

// ID is the id being edited, empty for a new todo.
func (e *Editor) ID() string { return e.id }

// Save writes the todo.
func (e *Editor) Save(ctx context.Context) error {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		return ErrTitleRequired
	}
	if err := e.repo.Insert(ctx, title, strings.TrimSpace(e.Description), e.id); err != nil {
		return fmt.Errorf("failed to save todo: %w", err)
	}
	return nil
}
