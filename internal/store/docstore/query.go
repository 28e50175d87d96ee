package docstore

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/Makepad-fr/tada/internal/stream"
)

type filter struct {
	field string
	value any
}

// Query selects documents of one collection by field equality.
type Query struct {
	store      *Store
	collection string
	filters    []filter
}

// Where narrows the query to documents whose field equals value.
func (q Query) Where(field string, value any) Query {
	filters := make([]filter, len(q.filters), len(q.filters)+1)
	copy(filters, q.filters)
	q.filters = append(filters, filter{field: field, value: jsonValue(value)})
	return q
}

// Get runs the query once.
func (q Query) Get(ctx context.Context) (*QuerySnapshot, error) {
	snap := &QuerySnapshot{Documents: []*DocumentSnapshot{}}
	err := q.store.read(ctx, func(fd *fileData) {
		c := fd.Collections[q.collection]
		for _, id := range sortedIDs(c) {
			doc := c[id]
			if q.matches(doc) {
				snap.Documents = append(snap.Documents, &DocumentSnapshot{ID: id, data: cloneMap(doc)})
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Listen runs the query now and again after every change to the store,
// calling fn with each result that differs from the previous one. Calls to
// fn are sequential and happen on a goroutine owned by the listener.
func (q Query) Listen(fn func(*QuerySnapshot, error)) stream.Unsubscribe {
	var (
		seen bool
		last string
	)
	return q.store.changes.Subscribe(func(uint64) {
		ctx, cancel := context.WithTimeout(context.Background(), lockWait)
		snap, err := q.Get(ctx)
		cancel()

		key := digest(snap, err)
		if seen && key == last {
			return
		}
		seen, last = true, key
		fn(snap, err)
	})
}

func (q Query) matches(doc map[string]any) bool {
	for _, f := range q.filters {
		v, ok := doc[f.field]
		if !ok || !reflect.DeepEqual(v, f.value) {
			return false
		}
	}
	return true
}

// jsonValue converts v to the form it takes after a JSON round trip, so
// filters compare like with like.
func jsonValue(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func digest(snap *QuerySnapshot, err error) string {
	if err != nil {
		return "error:" + err.Error()
	}
	type entry struct {
		ID   string         `json:"id"`
		Data map[string]any `json:"data"`
	}
	entries := make([]entry, 0, len(snap.Documents))
	for _, d := range snap.Documents {
		entries = append(entries, entry{ID: d.ID, Data: d.data})
	}
	b, _ := json.Marshal(entries)
	return string(b)
}
