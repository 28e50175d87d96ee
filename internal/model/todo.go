package model

import "time"

// Todo is the domain model for a todo entry, as the UI sees it.
type Todo struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	IsCompleted bool   `json:"isCompleted" yaml:"completed"`
}

// StoredTodo is the persisted shape of a todo in the document store.
// Completed is the legacy completion field; it is only ever read.
type StoredTodo struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	IsCompleted bool      `json:"isCompleted"`
	Completed   *bool     `json:"completed,omitempty"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Done reports the completion status, falling back to the legacy field
// when the current one is false and the legacy one is present.
func (s StoredTodo) Done() bool {
	if !s.IsCompleted && s.Completed != nil {
		return *s.Completed
	}
	return s.IsCompleted
}

// Todo maps the stored shape to the domain record.
func (s StoredTodo) Todo(id string) Todo {
	return Todo{
		ID:          id,
		Title:       s.Title,
		Description: s.Description,
		IsCompleted: s.Done(),
	}
}

// Stats counts done and pending items.
func Stats(todos []Todo) (done, pending int) {
	for _, t := range todos {
		if t.IsCompleted {
			done++
		} else {
			pending++
		}
	}
	return
}
