package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Makepad-fr/tada/internal/app"
	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/repository"
	"github.com/Makepad-fr/tada/internal/ui"
)

const snapshotTimeout = 5 * time.Second

// snapshot reads the current list once.
func (r *runner) snapshot(e *env) ([]model.Todo, error) {
	ctx, cancel := context.WithTimeout(r.ctx, snapshotTimeout)
	defer cancel()
	todos, err := repository.Snapshot(ctx, e.repo)
	if err != nil {
		return nil, fmt.Errorf("load todos: %w", err)
	}
	return todos, nil
}

// lookup resolves a <ref> against the current list.
func (r *runner) lookup(e *env, ref string) (model.Todo, int) {
	todos, err := r.snapshot(e)
	if err != nil {
		ui.Fail(err.Error())
		return model.Todo{}, exitError
	}
	t, err := resolveRef(todos, ref)
	if err != nil {
		return model.Todo{}, failRef(err)
	}
	return t, exitOK
}

func cmdAdd(r *runner, args []string) int {
	fs := newFlags("add")
	desc := fs.String("d", "", "description")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	title := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if title == "" {
		ui.Fail("usage: todo add [-d DESC] <title...>")
		return exitUsage
	}

	e, code := r.openTodos(false)
	if code != exitOK {
		return code
	}
	editor := app.NewEditor(r.ctx, e.repo, "")
	editor.Title, editor.Description = title, *desc
	if err := editor.Save(r.ctx); err != nil {
		ui.Fail(err.Error())
		return exitError
	}
	ui.OK("added")
	return exitOK
}

func cmdEdit(r *runner, args []string) int {
	fs := newFlags("edit")
	desc := fs.String("d", "", "new description")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() < 2 {
		ui.Fail("usage: todo edit [-d DESC] <ref> <title...>")
		return exitUsage
	}
	descSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "d" {
			descSet = true
		}
	})

	e, code := r.openTodos(false)
	if code != exitOK {
		return code
	}
	t, code := r.lookup(e, fs.Arg(0))
	if code != exitOK {
		return code
	}
	editor := app.NewEditor(r.ctx, e.repo, t.ID)
	editor.Title = strings.Join(fs.Args()[1:], " ")
	if descSet {
		editor.Description = *desc
	}
	if err := editor.Save(r.ctx); err != nil {
		ui.Fail(err.Error())
		if errors.Is(err, app.ErrTitleRequired) {
			return exitUsage
		}
		return exitError
	}
	ui.OK("updated")
	return exitOK
}

func cmdList(r *runner, args []string) int {
	fs := newFlags("ls")
	interactive := fs.Bool("i", false, "interactive list that follows changes")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	e, code := r.openTodos(*interactive)
	if code != exitOK {
		return code
	}
	if *interactive {
		if !ui.IsTerminal(os.Stdout) {
			ui.Fail("ls -i needs a terminal")
			return exitUsage
		}
		if err := ui.RunList(r.ctx, e.list); err != nil {
			ui.Fail("tui: " + err.Error())
			return exitError
		}
		return exitOK
	}

	todos, err := r.snapshot(e)
	if err != nil {
		ui.Fail(err.Error())
		return exitError
	}
	d, p := model.Stats(todos)
	t := ui.Current()
	lines := []string{
		ui.Header(todos),
		ui.C(t.Muted, ui.ProgressBar(d, d+p, 28)),
		"",
	}
	lines = append(lines, ui.TodoLines(todos, r.opt.Group)...)
	lines = append(lines, "", ui.C(t.Muted, "Tip: add with `todo add \"Buy milk\"`"))
	ui.Panel(ui.Stdout, lines)
	return exitOK
}

func cmdShow(r *runner, args []string) int {
	if len(args) != 1 {
		ui.Fail("usage: todo show <ref>")
		return exitUsage
	}
	e, code := r.openTodos(false)
	if code != exitOK {
		return code
	}
	t, code := r.lookup(e, args[0])
	if code != exitOK {
		return code
	}

	th := ui.Current()
	status := ui.C(th.Pending, "pending")
	if t.IsCompleted {
		status = ui.C(th.Success, "done")
	}
	lines := []string{
		ui.C(th.Title, t.Title),
		"",
		ui.C(th.Muted, "id:     ") + t.ID,
		ui.C(th.Muted, "status: ") + status,
	}
	if t.Description != "" {
		lines = append(lines, "", t.Description)
	}
	ui.Panel(ui.Stdout, lines)
	return exitOK
}

func cmdSetDone(r *runner, name string, args []string, completed bool) int {
	if len(args) != 1 {
		ui.Fail("usage: todo " + name + " <ref>")
		return exitUsage
	}
	e, code := r.openTodos(false)
	if code != exitOK {
		return code
	}
	t, code := r.lookup(e, args[0])
	if code != exitOK {
		return code
	}
	if err := e.list.Toggle(r.ctx, t.ID, completed); err != nil {
		ui.Fail(err.Error())
		return exitError
	}
	if completed {
		ui.OK("done: " + t.Title)
	} else {
		ui.OK("pending: " + t.Title)
	}
	return exitOK
}

func cmdRemove(r *runner, args []string) int {
	if len(args) != 1 {
		ui.Fail("usage: todo rm <ref>")
		return exitUsage
	}
	e, code := r.openTodos(false)
	if code != exitOK {
		return code
	}
	t, code := r.lookup(e, args[0])
	if code != exitOK {
		return code
	}
	if err := e.list.Remove(r.ctx, t); err != nil {
		ui.Fail(err.Error())
		return exitError
	}
	ui.OK("removed: " + t.Title)
	return exitOK
}

func cmdExport(r *runner, args []string) int {
	fs := newFlags("export")
	format := fs.String("format", "json", "json or yaml")
	out := fs.String("o", "", "write to FILE instead of stdout")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		ui.Fail("usage: todo export [-format json|yaml] [-o FILE]")
		return exitUsage
	}
	switch *format {
	case "json", "yaml", "yml":
	default:
		ui.Fail(fmt.Sprintf("unknown export format %q (want json or yaml)", *format))
		return exitUsage
	}

	e, code := r.openTodos(false)
	if code != exitOK {
		return code
	}
	todos, err := r.snapshot(e)
	if err != nil {
		ui.Fail(err.Error())
		return exitError
	}
	var user string
	if u, ok := e.provider.CurrentUser(); ok {
		user = u.Email
	}
	doc := newExportDoc(todos, r.cfg.Backend, user, time.Now())

	if *out == "" {
		if err := writeExport(ui.Stdout, doc, *format); err != nil {
			ui.Fail("export: " + err.Error())
			return exitError
		}
		return exitOK
	}
	f, err := os.Create(*out)
	if err != nil {
		ui.Fail("export: " + err.Error())
		return exitError
	}
	if err := writeExport(f, doc, *format); err != nil {
		f.Close()
		ui.Fail("export: " + err.Error())
		return exitError
	}
	if err := f.Close(); err != nil {
		ui.Fail("export: " + err.Error())
		return exitError
	}
	ui.OK(fmt.Sprintf("exported %d todos to %s", len(todos), *out))
	return exitOK
}
