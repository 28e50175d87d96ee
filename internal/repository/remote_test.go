package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/bcrypt"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/store/docstore"
)

type remoteFixture struct {
	store    *docstore.Store
	provider *auth.LocalProvider
	repo     *Remote
}

func newRemoteFixture(t *testing.T) *remoteFixture {
	t.Helper()
	store, err := docstore.Open("")
	if err != nil {
		t.Fatalf("docstore.Open: %v", err)
	}
	provider, err := auth.NewLocalProvider(context.Background(), store.Collection("accounts"), auth.LocalOptions{
		Secret:   []byte("test-secret"),
		HashCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	repo, err := NewRemote(store, provider, nil)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	return &remoteFixture{store: store, provider: provider, repo: repo}
}

func (f *remoteFixture) signUp(t *testing.T, email string) auth.User {
	t.Helper()
	if r := f.provider.SignUp(context.Background(), email, "password1"); !r.OK() {
		t.Fatalf("SignUp %s: %s", email, r.Message())
	}
	u, _ := f.provider.CurrentUser()
	return u
}

func (f *remoteFixture) signOut(t *testing.T) {
	t.Helper()
	if r := f.provider.SignOut(context.Background()); !r.OK() {
		t.Fatalf("SignOut: %s", r.Message())
	}
}

func (f *remoteFixture) onlyID(t *testing.T) string {
	t.Helper()
	snap, err := f.store.Collection(TodosCollection).Query().Get(context.Background())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(snap.Documents) != 1 {
		t.Fatalf("documents: got %d, want 1", len(snap.Documents))
	}
	return snap.Documents[0].ID
}

// recorder collects GetAll emissions.
type recorder chan []model.Todo

func newRecorder() recorder { return make(recorder, 64) }

func (r recorder) add(todos []model.Todo) { r <- todos }

func (r recorder) waitFor(t *testing.T, what string, ok func([]model.Todo) bool) []model.Todo {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case todos := <-r:
			if ok(todos) {
				return todos
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
			return nil
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRemoteInsertAndGetBy(t *testing.T) {
	ctx := context.Background()
	f := newRemoteFixture(t)
	f.signUp(t, "a@example.com")

	if err := f.repo.Insert(ctx, "Buy milk", "2 liters", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id := f.onlyID(t)

	got, ok := f.repo.GetBy(ctx, id)
	if !ok {
		t.Fatal("GetBy: not found")
	}
	want := model.Todo{ID: id, Title: "Buy milk", Description: "2 liters"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetBy mismatch (-want +got):\n%s", diff)
	}

	if _, ok := f.repo.GetBy(ctx, "missing"); ok {
		t.Error("GetBy found a missing id")
	}
}

func TestRemoteInsertWithIDUpserts(t *testing.T) {
	ctx := context.Background()
	f := newRemoteFixture(t)
	f.signUp(t, "a@example.com")

	if err := f.repo.Insert(ctx, "Draft", "", "fixed-id"); err != nil {
		t.Fatalf("Insert new: %v", err)
	}
	if err := f.repo.UpdateCompleted(ctx, "fixed-id", true); err != nil {
		t.Fatalf("UpdateCompleted: %v", err)
	}
	if err := f.repo.Insert(ctx, "Final", "edited", "fixed-id"); err != nil {
		t.Fatalf("Insert existing: %v", err)
	}

	got, ok := f.repo.GetBy(ctx, "fixed-id")
	if !ok {
		t.Fatal("GetBy: not found")
	}
	want := model.Todo{ID: "fixed-id", Title: "Final", Description: "edited", IsCompleted: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("upsert mismatch (-want +got):\n%s", diff)
	}
	if id := f.onlyID(t); id != "fixed-id" {
		t.Errorf("document id: got %q", id)
	}
}

func TestRemoteWithoutSessionIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newRemoteFixture(t)

	if err := f.repo.Insert(ctx, "ghost", "", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := f.repo.UpdateCompleted(ctx, "anything", true); err != nil {
		t.Fatalf("UpdateCompleted: %v", err)
	}
	snap, err := f.store.Collection(TodosCollection).Query().Get(ctx)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(snap.Documents) != 0 {
		t.Errorf("documents written without a session: %d", len(snap.Documents))
	}
}

func TestRemoteUpdateCompleted(t *testing.T) {
	ctx := context.Background()
	f := newRemoteFixture(t)
	f.signUp(t, "owner@example.com")
	if err := f.repo.Insert(ctx, "Mine", "", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id := f.onlyID(t)

	if err := f.repo.UpdateCompleted(ctx, id, true); err != nil {
		t.Fatalf("UpdateCompleted: %v", err)
	}
	if got, _ := f.repo.GetBy(ctx, id); !got.IsCompleted {
		t.Error("not completed after UpdateCompleted(true)")
	}

	err := f.repo.UpdateCompleted(ctx, "missing", true)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing id: got %v, want ErrNotFound", err)
	}
}

func TestRemoteOwnership(t *testing.T) {
	ctx := context.Background()
	f := newRemoteFixture(t)
	owner := f.signUp(t, "owner@example.com")
	if err := f.repo.Insert(ctx, "Private", "", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id := f.onlyID(t)
	f.signOut(t)

	intruder := f.signUp(t, "intruder@example.com")
	err := f.repo.UpdateCompleted(ctx, id, true)
	var oerr *model.OwnershipError
	if !errors.As(err, &oerr) {
		t.Fatalf("UpdateCompleted: got %v, want OwnershipError", err)
	}
	if oerr.Owner != owner.ID || oerr.User != intruder.ID {
		t.Errorf("OwnershipError: got %+v", oerr)
	}

	snap, err := f.store.Collection(TodosCollection).Doc(id).Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if done, _ := snap.Bool("isCompleted"); done {
		t.Error("record changed by another user")
	}
	if _, ok := f.repo.GetBy(ctx, id); ok {
		t.Error("GetBy returned another user's todo")
	}
}

func TestRemoteDelete(t *testing.T) {
	ctx := context.Background()
	f := newRemoteFixture(t)
	f.signUp(t, "a@example.com")
	if err := f.repo.Insert(ctx, "Temporary", "", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id := f.onlyID(t)

	if err := f.repo.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := f.repo.GetBy(ctx, id); ok {
		t.Error("GetBy found a deleted todo")
	}
	if err := f.repo.Delete(ctx, id); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestRemoteLegacyCompletedField(t *testing.T) {
	ctx := context.Background()
	f := newRemoteFixture(t)
	u := f.signUp(t, "a@example.com")

	err := f.store.Collection(TodosCollection).Doc("legacy").Set(ctx, map[string]any{
		"title":     "Old",
		"completed": true,
		"userId":    u.ID,
	})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := f.repo.GetBy(ctx, "legacy")
	if !ok || !got.IsCompleted {
		t.Errorf("legacy todo: got %+v (%v), want completed", got, ok)
	}
}

func TestRemoteGetAll(t *testing.T) {
	ctx := context.Background()
	f := newRemoteFixture(t)
	u := f.signUp(t, "a@example.com")

	todos := f.store.Collection(TodosCollection)
	if err := todos.Doc("broken").Set(ctx, map[string]any{"title": "", "userId": u.ID}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := todos.Doc("foreign").Set(ctx, map[string]any{"title": "Not mine", "userId": "someone-else"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	rec := newRecorder()
	unsub := f.repo.GetAll(ctx, rec.add)
	defer unsub()

	if err := f.repo.Insert(ctx, "First", "", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := f.repo.Insert(ctx, "Second", "", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got := rec.waitFor(t, "two todos", func(todos []model.Todo) bool { return len(todos) == 2 })
	if got[0].Title != "First" || got[1].Title != "Second" {
		t.Errorf("order: got %q, %q", got[0].Title, got[1].Title)
	}

	f.signOut(t)
	rec.waitFor(t, "empty list after sign out", func(todos []model.Todo) bool { return len(todos) == 0 })
}

func TestRemoteGetAllUnsubscribe(t *testing.T) {
	ctx := context.Background()
	f := newRemoteFixture(t)
	f.signUp(t, "a@example.com")
	baseAuth := f.provider.Subscribers()

	recA, recB := newRecorder(), newRecorder()
	unsubA := f.repo.GetAll(ctx, recA.add)
	unsubB := f.repo.GetAll(ctx, recB.add)

	if err := f.repo.Insert(ctx, "Shared", "", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	one := func(todos []model.Todo) bool { return len(todos) == 1 }
	recA.waitFor(t, "stream A", one)
	recB.waitFor(t, "stream B", one)

	eventually(t, "two query listeners", func() bool { return f.store.Listeners() == 2 })

	unsubA()
	unsubA()
	eventually(t, "one query listener", func() bool { return f.store.Listeners() == 1 })

	if err := f.repo.Insert(ctx, "Only B", "", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	recB.waitFor(t, "stream B update", func(todos []model.Todo) bool { return len(todos) == 2 })

	unsubB()
	eventually(t, "no listeners", func() bool {
		return f.store.Listeners() == 0 && f.provider.Subscribers() == baseAuth
	})
}

func TestRemoteGetAllContextCancel(t *testing.T) {
	f := newRemoteFixture(t)
	f.signUp(t, "a@example.com")
	baseAuth := f.provider.Subscribers()

	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()
	f.repo.GetAll(ctx, rec.add)
	rec.waitFor(t, "initial list", func([]model.Todo) bool { return true })

	cancel()
	eventually(t, "teardown on cancel", func() bool {
		return f.store.Listeners() == 0 && f.provider.Subscribers() == baseAuth
	})
}

func TestSnapshot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	f := newRemoteFixture(t)
	f.signUp(t, "a@example.com")
	if err := f.repo.Insert(ctx, "Once", "", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	todos, err := Snapshot(ctx, f.repo)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(todos) != 1 || todos[0].Title != "Once" {
		t.Errorf("Snapshot: got %+v", todos)
	}
}

func (f *remoteFixture) signIn(t *testing.T, email string) {
	t.Helper()
	if r := f.provider.SignIn(context.Background(), email, "password1"); !r.OK() {
		t.Fatalf("SignIn %s: %s", email, r.Message())
	}
}

func titles(todos []model.Todo) []string {
	out := make([]string, len(todos))
	for i, td := range todos {
		out[i] = td.Title
	}
	return out
}

func TestRemoteGetAllFollowsUserSwitch(t *testing.T) {
	ctx := context.Background()
	f := newRemoteFixture(t)
	f.signUp(t, "a@example.com")
	if err := f.repo.Insert(ctx, "A1", "", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	f.signUp(t, "b@example.com")
	if err := f.repo.Insert(ctx, "B1", "", ""); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec := newRecorder()
	unsub := f.repo.GetAll(ctx, rec.add)
	defer unsub()

	only := func(title string) func([]model.Todo) bool {
		return func(todos []model.Todo) bool {
			return len(todos) == 1 && todos[0].Title == title
		}
	}
	// noStale fails on any later emission that still shows another user's todo.
	noStale := func(want string) {
		t.Helper()
		for {
			select {
			case todos := <-rec:
				if diff := cmp.Diff([]string{want}, titles(todos)); diff != "" {
					t.Errorf("emission after switch (-want +got):\n%s", diff)
				}
			case <-time.After(50 * time.Millisecond):
				return
			}
		}
	}
	oneListener := func() {
		t.Helper()
		eventually(t, "a single query listener", func() bool { return f.store.Listeners() == 1 })
	}

	rec.waitFor(t, "B's list", only("B1"))
	oneListener()

	f.signIn(t, "a@example.com")
	rec.waitFor(t, "A's list", only("A1"))
	noStale("A1")
	oneListener()

	f.signIn(t, "b@example.com")
	rec.waitFor(t, "B's list again", only("B1"))
	noStale("B1")
	oneListener()
}

func TestRemoteGetAllSilentAfterUnsubscribe(t *testing.T) {
	ctx := context.Background()
	f := newRemoteFixture(t)
	f.signUp(t, "a@example.com")

	var late atomic.Int32
	for i := 0; i < 100; i++ {
		var stopped atomic.Bool
		unsub := f.repo.GetAll(ctx, func([]model.Todo) {
			if stopped.Load() {
				late.Add(1)
			}
		})
		if err := f.repo.Insert(ctx, "tick", "", ""); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		unsub()
		stopped.Store(true)
	}
	time.Sleep(20 * time.Millisecond)
	if n := late.Load(); n != 0 {
		t.Errorf("%d streams emitted after unsubscribe returned", n)
	}
}

func TestRemoteStoreFailures(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "todos.json")
	store, err := docstore.Open(path)
	if err != nil {
		t.Fatalf("docstore.Open: %v", err)
	}
	provider, err := auth.NewLocalProvider(ctx, store.Collection("accounts"), auth.LocalOptions{
		Secret:   []byte("test-secret"),
		HashCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	repo, err := NewRemote(store, provider, nil)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	if r := provider.SignUp(ctx, "a@example.com", "password1"); !r.OK() {
		t.Fatalf("SignUp: %s", r.Message())
	}

	// A directory where the data file should be makes every read fail.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		op  string
		run func() error
	}{
		{"insert", func() error { return repo.Insert(ctx, "New", "", "") }},
		{"insert", func() error { return repo.Insert(ctx, "Pinned", "", "some-id") }},
		{"update", func() error { return repo.UpdateCompleted(ctx, "some-id", true) }},
		{"delete", func() error { return repo.Delete(ctx, "some-id") }},
	}
	for _, tt := range tests {
		err := tt.run()
		var se *model.StoreError
		if !errors.As(err, &se) {
			t.Errorf("%s: got %v, want *model.StoreError", tt.op, err)
			continue
		}
		if se.Op != tt.op {
			t.Errorf("StoreError.Op: got %q, want %q", se.Op, tt.op)
		}
	}
}

func TestRemoteLegacyNullCompleted(t *testing.T) {
	ctx := context.Background()
	f := newRemoteFixture(t)
	u := f.signUp(t, "a@example.com")

	err := f.store.Collection(TodosCollection).Doc("old").Set(ctx, map[string]any{
		"title":     "Imported",
		"userId":    u.ID,
		"completed": nil,
	})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := f.repo.GetBy(ctx, "old")
	if !ok {
		t.Fatal("todo with a null legacy field was dropped")
	}
	if got.IsCompleted {
		t.Errorf("IsCompleted: got true, want false")
	}
}
