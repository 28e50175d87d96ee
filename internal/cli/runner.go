package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/Makepad-fr/tada/internal/config"
	"github.com/Makepad-fr/tada/internal/logging"
	"github.com/Makepad-fr/tada/internal/ui"
)

// Options tune behavior from root flags.
type Options struct {
	ConfigFile string
	Backend    string
	LogLevel   string
	Group      bool // list grouped by pending/done
	NoColor    bool
}

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// Run dispatches subcommands and returns an exit code (0 ok, 1 error, 2 usage).
func Run(ctx context.Context, args []string, opt Options) int {
	if len(args) == 0 {
		PrintHelp(ui.Stderr)
		return exitUsage
	}
	cmd, a := args[0], args[1:]

	switch cmd {
	case "help", "-h", "--help":
		PrintHelp(ui.Stdout)
		return exitOK
	}

	handler, ok := commands[cmd]
	if !ok {
		ui.Fail("unknown subcommand: " + cmd)
		fmt.Fprintln(ui.Stderr)
		PrintHelp(ui.Stderr)
		return exitUsage
	}

	cfg, err := config.Load(opt.ConfigFile, config.Overrides{Backend: opt.Backend, LogLevel: opt.LogLevel})
	if err != nil {
		ui.Fail("config: " + err.Error())
		return exitUsage
	}
	if err := ui.SetTheme(cfg.Theme); err != nil {
		ui.Fail("config: " + err.Error())
		return exitUsage
	}
	if opt.NoColor {
		ui.SetColorForcing(false, true)
	}
	logger, err := logging.New(ui.Stderr, logging.Options{Level: cfg.LogLevel})
	if err != nil {
		ui.Fail("config: " + err.Error())
		return exitUsage
	}

	r := &runner{ctx: ctx, cfg: cfg, logger: logger, opt: opt}
	defer r.close()
	return handler(r, a)
}

// runner carries per-invocation state into command handlers.
type runner struct {
	ctx    context.Context
	cfg    *config.Config
	logger *log.Logger
	opt    Options
	env    *env
}

type handler func(r *runner, args []string) int

var commands map[string]handler

func init() {
	commands = map[string]handler{
		"add":    cmdAdd,
		"edit":   cmdEdit,
		"ls":     cmdList,
		"show":   cmdShow,
		"done":   func(r *runner, a []string) int { return cmdSetDone(r, "done", a, true) },
		"undone": func(r *runner, a []string) int { return cmdSetDone(r, "undone", a, false) },
		"rm":     cmdRemove,
		"export": cmdExport,
		"auth":   cmdAuth,
	}
}

// open builds the environment on first use.
func (r *runner) open(watch bool) (*env, int) {
	if r.env != nil {
		return r.env, exitOK
	}
	e, err := openEnv(r.ctx, r.cfg, r.logger, watch)
	if err != nil {
		ui.Fail(err.Error())
		return nil, exitError
	}
	r.env = e
	return e, exitOK
}

// openTodos is open plus the session check todo commands need.
func (r *runner) openTodos(watch bool) (*env, int) {
	e, code := r.open(watch)
	if code != exitOK {
		return nil, code
	}
	if err := e.requireSession(); err != nil {
		ui.Fail(err.Error() + ". Run: todo auth signin <email>")
		ui.Hint("or use the local backend: todo --backend local ...")
		return nil, exitUsage
	}
	return e, exitOK
}

func (r *runner) close() {
	if r.env != nil {
		r.env.Close()
	}
}

// newFlags returns a flag set that reports errors instead of exiting.
func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(ui.Stderr)
	return fs
}

// parseFlags parses args and maps the outcome to an exit code.
func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK, false
		}
		return exitUsage, false
	}
	return exitOK, true
}

// failRef reports a failed <ref> lookup.
func failRef(err error) int {
	ui.Fail(err.Error())
	var re *refError
	if errors.As(err, &re) && re.hint {
		ui.Hint("Hint: run `todo ls` to see valid indexes")
	}
	return exitUsage
}

func PrintHelp(w io.Writer) {
	fmt.Fprint(w, strings.TrimLeft(`
todo - a tiny synchronized todo list

Usage:
  todo [--config FILE] [--backend remote|local] [--log-level LEVEL]
       [--group] [--no-color] <subcommand> [args]

Subcommands:
  add [-d DESC] <title...>        Add a todo (title can be multiple words)
  edit [-d DESC] <ref> <title...> Change a todo's title and description
  ls [-i]                         List todos (-i: interactive, live)
  show <ref>                      Show one todo
  done <ref>                      Mark a todo done
  undone <ref>                    Mark a todo pending
  rm <ref>                        Remove a todo
  export [-format json|yaml] [-o FILE]
                                  Write all todos
  auth signup|signin <email> [-password P]
  auth signout | status | whoami
  auth reset <email>              Send a password reset code
  auth reset-confirm <email> <code> [-password P]

<ref> is a 1-based index from "todo ls" or a todo id; prefix @ forces an id.

Examples:
  todo auth signup me@example.com
  todo add -d "2 liters" Buy milk
  todo ls
  todo done 2
  todo --backend local rm 3
`, "\n"))
}
