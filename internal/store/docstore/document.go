package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

type serverTimestamp struct{}

// ServerTimestamp, used as a field value in Set or Update, is replaced by
// the store's clock at write time.
var ServerTimestamp = serverTimestamp{}

// CollectionRef names a collection in a Store.
type CollectionRef struct {
	store *Store
	name  string
}

// Name returns the collection name.
func (c *CollectionRef) Name() string { return c.name }

// Doc returns a reference to the document with the given id.
func (c *CollectionRef) Doc(id string) *DocumentRef {
	return &DocumentRef{store: c.store, collection: c.name, ID: id}
}

// Add creates a document with a new random id.
func (c *CollectionRef) Add(ctx context.Context, data map[string]any) (*DocumentRef, error) {
	ref := c.Doc(uuid.NewString())
	if err := ref.Set(ctx, data); err != nil {
		return nil, err
	}
	return ref, nil
}

// Query returns a query over every document in the collection.
func (c *CollectionRef) Query() Query {
	return Query{store: c.store, collection: c.name}
}

// Where returns a query for documents whose field equals value.
func (c *CollectionRef) Where(field string, value any) Query {
	return c.Query().Where(field, value)
}

// DocumentRef names a single document.
type DocumentRef struct {
	store      *Store
	collection string
	ID         string
}

// Get reads the document. A missing document is not an error; the
// snapshot reports Exists() == false.
func (d *DocumentRef) Get(ctx context.Context) (*DocumentSnapshot, error) {
	if d.ID == "" {
		return nil, ErrInvalidID
	}
	snap := &DocumentSnapshot{ID: d.ID}
	err := d.store.read(ctx, func(fd *fileData) {
		if doc, ok := fd.Collections[d.collection][d.ID]; ok {
			snap.data = cloneMap(doc)
		}
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Set creates or replaces the document.
func (d *DocumentRef) Set(ctx context.Context, data map[string]any) error {
	if d.ID == "" {
		return ErrInvalidID
	}
	fields, err := d.store.prepare(data)
	if err != nil {
		return err
	}
	return d.store.mutate(ctx, func(fd *fileData) (bool, error) {
		fd.collection(d.collection)[d.ID] = fields
		return true, nil
	})
}

// Update merges fields into an existing document.
func (d *DocumentRef) Update(ctx context.Context, fields map[string]any) error {
	if d.ID == "" {
		return ErrInvalidID
	}
	prepared, err := d.store.prepare(fields)
	if err != nil {
		return err
	}
	return d.store.mutate(ctx, func(fd *fileData) (bool, error) {
		doc, ok := fd.Collections[d.collection][d.ID]
		if !ok {
			return false, fmt.Errorf("%w: %s/%s", ErrNotFound, d.collection, d.ID)
		}
		for k, v := range prepared {
			doc[k] = v
		}
		return true, nil
	})
}

// Delete removes the document. Deleting a missing document succeeds.
func (d *DocumentRef) Delete(ctx context.Context) error {
	if d.ID == "" {
		return ErrInvalidID
	}
	return d.store.mutate(ctx, func(fd *fileData) (bool, error) {
		c := fd.Collections[d.collection]
		if _, ok := c[d.ID]; !ok {
			return false, nil
		}
		delete(c, d.ID)
		return true, nil
	})
}

// DocumentSnapshot is a point-in-time copy of a document.
type DocumentSnapshot struct {
	ID   string
	data map[string]any
}

// Exists reports whether the document existed when read.
func (s *DocumentSnapshot) Exists() bool { return s.data != nil }

// Data returns a copy of the document fields, nil if it does not exist.
func (s *DocumentSnapshot) Data() map[string]any { return cloneMap(s.data) }

// Contains reports whether the document has the field.
func (s *DocumentSnapshot) Contains(field string) bool {
	_, ok := s.data[field]
	return ok
}

// Bool returns a boolean field; ok is false when it is absent or not a bool.
func (s *DocumentSnapshot) Bool(field string) (value, ok bool) {
	value, ok = s.data[field].(bool)
	return
}

// DataTo decodes the document into v, which must be a pointer to a struct
// with json tags.
func (s *DocumentSnapshot) DataTo(v any) error {
	if !s.Exists() {
		return fmt.Errorf("%w: %s", ErrNotFound, s.ID)
	}
	b, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", s.ID, err)
	}
	return nil
}

// QuerySnapshot holds the documents matching a query, ordered by id.
type QuerySnapshot struct {
	Documents []*DocumentSnapshot
}

// prepare resolves ServerTimestamp sentinels and converts values to their
// JSON form, which is how they read back from disk.
func (s *Store) prepare(data map[string]any) (map[string]any, error) {
	now := s.now().UTC()
	resolved := make(map[string]any, len(data))
	for k, v := range data {
		if v == ServerTimestamp {
			v = now
		}
		resolved[k] = v
	}
	b, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func sortedIDs(c map[string]map[string]any) []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
