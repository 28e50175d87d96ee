package repository

import (
	"context"
	"io"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/store/sqlcache"
	"github.com/Makepad-fr/tada/internal/stream"
)

// Local keeps todos in the relational cache. It has no notion of users;
// every row is visible.
type Local struct {
	cache  *sqlcache.Cache
	logger *log.Logger
}

var _ Repository = (*Local)(nil)

// NewLocal returns a repository over cache.
func NewLocal(cache *sqlcache.Cache, logger *log.Logger) *Local {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Local{cache: cache, logger: logger}
}

func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func toTodo(e sqlcache.Entity) model.Todo {
	return model.Todo{
		ID:          strconv.FormatInt(e.ID, 10),
		Title:       e.Title,
		Description: e.Description,
		IsCompleted: e.IsCompleted,
	}
}

// Insert adds a row, or replaces the row with id while keeping its
// completion flag and creation time. A non-numeric id adds a new row.
func (l *Local) Insert(ctx context.Context, title, description, id string) error {
	e := sqlcache.Entity{Title: title, Description: description}
	if n, ok := parseID(id); ok {
		existing, err := l.cache.Get(ctx, n)
		if err != nil {
			return &model.StoreError{Op: "insert", Err: err}
		}
		e.ID = n
		if existing != nil {
			e.IsCompleted = existing.IsCompleted
			e.UserID = existing.UserID
			e.CreatedAt = existing.CreatedAt
		}
	}
	if _, err := l.cache.Insert(ctx, e); err != nil {
		return &model.StoreError{Op: "insert", Err: err}
	}
	return nil
}

func (l *Local) UpdateCompleted(ctx context.Context, id string, completed bool) error {
	n, ok := parseID(id)
	if !ok {
		return &model.NotFoundError{ID: id}
	}
	existing, err := l.cache.Get(ctx, n)
	if err != nil {
		return &model.StoreError{Op: "update", Err: err}
	}
	if existing == nil {
		return &model.NotFoundError{ID: id}
	}
	existing.IsCompleted = completed
	if _, err := l.cache.Insert(ctx, *existing); err != nil {
		return &model.StoreError{Op: "update", Err: err}
	}
	return nil
}

func (l *Local) Delete(ctx context.Context, id string) error {
	n, ok := parseID(id)
	if !ok {
		return nil
	}
	if err := l.cache.Delete(ctx, sqlcache.Entity{ID: n}); err != nil {
		return &model.StoreError{Op: "delete", Err: err}
	}
	return nil
}

func (l *Local) GetBy(ctx context.Context, id string) (model.Todo, bool) {
	n, ok := parseID(id)
	if !ok {
		return model.Todo{}, false
	}
	e, err := l.cache.Get(ctx, n)
	if err != nil {
		l.logger.Warn("get todo failed", "id", id, "err", err)
		return model.Todo{}, false
	}
	if e == nil {
		return model.Todo{}, false
	}
	return toTodo(*e), true
}

func (l *Local) GetAll(ctx context.Context, onNext func([]model.Todo)) stream.Unsubscribe {
	var gate stream.Gate
	stop := l.cache.Watch(func(entities []sqlcache.Entity, err error) {
		todos := []model.Todo{}
		if err != nil {
			l.logger.Warn("todo query failed", "err", err)
		} else {
			todos = make([]model.Todo, len(entities))
			for i, e := range entities {
				todos[i] = toTodo(e)
			}
		}
		gate.Do(func() { onNext(todos) })
	})
	return stream.Bind(ctx, stream.Once(func() {
		gate.Close()
		stop()
	}))
}
