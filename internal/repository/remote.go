package repository

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/store/docstore"
	"github.com/Makepad-fr/tada/internal/stream"
)

// TodosCollection is the docstore collection holding todo documents.
const TodosCollection = "todos"

const todoSchemaURL = "tada://schema/todo.json"

const todoSchema = `{
  "type": "object",
  "required": ["title", "userId"],
  "properties": {
    "title":       {"type": "string", "minLength": 1},
    "description": {"type": ["string", "null"]},
    "isCompleted": {"type": "boolean"},
    "completed":   {"type": ["boolean", "null"]},
    "userId":      {"type": "string", "minLength": 1},
    "createdAt":   {"type": "string"},
    "updatedAt":   {"type": "string"}
  }
}`

// Remote stores each user's todos as documents tagged with their id.
type Remote struct {
	todos  *docstore.CollectionRef
	auth   auth.Provider
	logger *log.Logger
	schema *jsonschema.Schema
}

var _ Repository = (*Remote)(nil)

// NewRemote returns a repository over store's todos collection, scoped to
// the user signed in to provider.
func NewRemote(store *docstore.Store, provider auth.Provider, logger *log.Logger) (*Remote, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(todoSchemaURL, strings.NewReader(todoSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(todoSchemaURL)
	if err != nil {
		return nil, err
	}
	return &Remote{
		todos:  store.Collection(TodosCollection),
		auth:   provider,
		logger: logger,
		schema: schema,
	}, nil
}

func (r *Remote) Insert(ctx context.Context, title, description, id string) error {
	user, ok := r.auth.CurrentUser()
	if !ok {
		r.logger.Debug("insert skipped: not signed in")
		return nil
	}

	if id == "" {
		_, err := r.todos.Add(ctx, map[string]any{
			"title":       title,
			"description": description,
			"isCompleted": false,
			"userId":      user.ID,
			"createdAt":   docstore.ServerTimestamp,
			"updatedAt":   docstore.ServerTimestamp,
		})
		if err != nil {
			return &model.StoreError{Op: "insert", Err: err}
		}
		return nil
	}

	doc := r.todos.Doc(id)
	snap, err := doc.Get(ctx)
	if err != nil {
		return &model.StoreError{Op: "insert", Err: err}
	}
	if snap.Exists() {
		err = doc.Update(ctx, map[string]any{
			"title":       title,
			"description": description,
			"userId":      user.ID,
			"updatedAt":   docstore.ServerTimestamp,
		})
	} else {
		err = doc.Set(ctx, map[string]any{
			"title":       title,
			"description": description,
			"isCompleted": false,
			"userId":      user.ID,
			"createdAt":   docstore.ServerTimestamp,
			"updatedAt":   docstore.ServerTimestamp,
		})
	}
	if err != nil {
		return &model.StoreError{Op: "insert", Err: err}
	}
	return nil
}

func (r *Remote) UpdateCompleted(ctx context.Context, id string, completed bool) error {
	user, ok := r.auth.CurrentUser()
	if !ok {
		r.logger.Debug("update skipped: not signed in")
		return nil
	}

	doc := r.todos.Doc(id)
	snap, err := doc.Get(ctx)
	if err != nil {
		return &model.StoreError{Op: "update", Err: err}
	}
	if !snap.Exists() {
		return &model.NotFoundError{ID: id}
	}
	owner, _ := snap.Data()["userId"].(string)
	if owner != user.ID {
		return &model.OwnershipError{ID: id, Owner: owner, User: user.ID}
	}

	err = doc.Update(ctx, map[string]any{
		"isCompleted": completed,
		"updatedAt":   docstore.ServerTimestamp,
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return &model.NotFoundError{ID: id}
	}
	if err != nil {
		return &model.StoreError{Op: "update", Err: err}
	}
	return nil
}

// Delete removes the document with id whoever owns it.
func (r *Remote) Delete(ctx context.Context, id string) error {
	if err := r.todos.Doc(id).Delete(ctx); err != nil {
		return &model.StoreError{Op: "delete", Err: err}
	}
	return nil
}

func (r *Remote) GetBy(ctx context.Context, id string) (model.Todo, bool) {
	user, ok := r.auth.CurrentUser()
	if !ok || id == "" {
		return model.Todo{}, false
	}
	snap, err := r.todos.Doc(id).Get(ctx)
	if err != nil {
		r.logger.Warn("get todo failed", "id", id, "err", err)
		return model.Todo{}, false
	}
	if !snap.Exists() {
		return model.Todo{}, false
	}
	stored, ok := r.decode(snap)
	if !ok || stored.UserID != user.ID {
		return model.Todo{}, false
	}
	return stored.Todo(snap.ID), true
}

// GetAll follows the session: every sign-in or sign-out replaces the
// document listener, and signed-out sessions see an empty list.
func (r *Remote) GetAll(ctx context.Context, onNext func([]model.Todo)) stream.Unsubscribe {
	l := &liveList{repo: r, onNext: onNext}
	stopAuth := r.auth.OnSessionChange(l.onSession)

	return stream.Bind(ctx, stream.Once(func() {
		l.mu.Lock()
		l.closed = true
		stopDocs := l.stopDocs
		l.stopDocs = nil
		l.mu.Unlock()

		stopAuth()
		if stopDocs != nil {
			stopDocs()
		}
		// Wait out an emission that passed the closed check.
		l.emitMu.Lock()
		l.emitMu.Unlock()
	}))
}

func (r *Remote) decode(snap *docstore.DocumentSnapshot) (model.StoredTodo, bool) {
	if err := r.schema.Validate(snap.Data()); err != nil {
		r.logger.Debug("dropping invalid todo", "id", snap.ID, "err", err)
		return model.StoredTodo{}, false
	}
	var stored model.StoredTodo
	if err := snap.DataTo(&stored); err != nil {
		r.logger.Debug("dropping undecodable todo", "id", snap.ID, "err", err)
		return model.StoredTodo{}, false
	}
	return stored, true
}

func (r *Remote) toList(snap *docstore.QuerySnapshot) []model.Todo {
	type row struct {
		todo   model.Todo
		stored model.StoredTodo
	}
	rows := make([]row, 0, len(snap.Documents))
	for _, doc := range snap.Documents {
		stored, ok := r.decode(doc)
		if !ok {
			continue
		}
		rows = append(rows, row{todo: stored.Todo(doc.ID), stored: stored})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].stored.CreatedAt, rows[j].stored.CreatedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return rows[i].todo.ID < rows[j].todo.ID
	})

	todos := make([]model.Todo, len(rows))
	for i, row := range rows {
		todos[i] = row.todo
	}
	return todos
}

// liveList is one GetAll subscription.
type liveList struct {
	repo   *Remote
	onNext func([]model.Todo)

	mu       sync.Mutex // guards gen, stopDocs and closed
	gen      uint64
	stopDocs stream.Unsubscribe
	closed   bool

	emitMu sync.Mutex // serializes onNext
}

func (l *liveList) onSession(s auth.Session) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	prev := l.stopDocs
	l.stopDocs = nil
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	if prev != nil {
		prev()
	}

	if !s.Authenticated {
		l.emit(gen, []model.Todo{})
		return
	}

	stop := l.repo.todos.Where("userId", s.UserID).Listen(func(snap *docstore.QuerySnapshot, err error) {
		if err != nil {
			l.repo.logger.Warn("todo query failed", "user", s.UserID, "err", err)
			l.emit(gen, []model.Todo{})
			return
		}
		l.emit(gen, l.repo.toList(snap))
	})

	l.mu.Lock()
	if l.closed || l.gen != gen {
		l.mu.Unlock()
		stop()
		return
	}
	l.stopDocs = stop
	l.mu.Unlock()
}

func (l *liveList) emit(gen uint64, todos []model.Todo) {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()

	l.mu.Lock()
	current := !l.closed && l.gen == gen
	l.mu.Unlock()
	if current {
		l.onNext(todos)
	}
}
