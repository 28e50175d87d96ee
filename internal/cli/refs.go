package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Makepad-fr/tada/internal/model"
)

// refError is a <ref> that matches nothing in the current list.
type refError struct {
	msg  string
	hint bool
}

func (e *refError) Error() string { return e.msg }

// resolveRef finds the todo named by ref: a 1-based index into todos, or
// an id. A leading @ forces the id reading.
func resolveRef(todos []model.Todo, ref string) (model.Todo, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Todo{}, &refError{msg: "empty todo reference"}
	}
	if id, ok := strings.CutPrefix(ref, "@"); ok {
		return byID(todos, id)
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(todos) {
			return model.Todo{}, &refError{
				msg:  fmt.Sprintf("index out of range: have %d, got %d", len(todos), n),
				hint: true,
			}
		}
		return todos[n-1], nil
	}
	return byID(todos, ref)
}

func byID(todos []model.Todo, id string) (model.Todo, error) {
	for _, t := range todos {
		if t.ID == id {
			return t, nil
		}
	}
	return model.Todo{}, &refError{msg: fmt.Sprintf("no todo with id %q", id), hint: true}
}
