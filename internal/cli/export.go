package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Makepad-fr/tada/internal/model"
)

// exportDoc is the shape written by `todo export`.
type exportDoc struct {
	ExportedAt time.Time    `json:"exportedAt" yaml:"exported_at"`
	Backend    string       `json:"backend" yaml:"backend"`
	User       string       `json:"user,omitempty" yaml:"user,omitempty"`
	Done       int          `json:"done" yaml:"done"`
	Pending    int          `json:"pending" yaml:"pending"`
	Todos      []model.Todo `json:"todos" yaml:"todos"`
}

func newExportDoc(todos []model.Todo, backend, user string, now time.Time) exportDoc {
	if todos == nil {
		todos = []model.Todo{}
	}
	d, p := model.Stats(todos)
	return exportDoc{
		ExportedAt: now.UTC(),
		Backend:    backend,
		User:       user,
		Done:       d,
		Pending:    p,
		Todos:      todos,
	}
}

func writeExport(w io.Writer, doc exportDoc, format string) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown export format %q (want json or yaml)", format)
	}
}
