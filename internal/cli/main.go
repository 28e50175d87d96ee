package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Makepad-fr/tada/internal/ui"
)

// Main parses root flags from args (without the program name), runs the
// subcommand and returns the process exit code.
func Main(args []string) int {
	fs := flag.NewFlagSet("todo", flag.ContinueOnError)
	fs.SetOutput(ui.Stderr)
	fs.Usage = func() { PrintHelp(ui.Stderr) }

	// Root flags (apply to every subcommand)
	var opt Options
	fs.StringVar(&opt.ConfigFile, "config", "", "config file (default: tada.toml in the working directory)")
	fs.StringVar(&opt.Backend, "backend", "", "todo backend: remote or local")
	fs.StringVar(&opt.LogLevel, "log-level", "", "debug, info, warn, error or off")
	fs.BoolVar(&opt.Group, "group", false, "group output by pending/done")
	fs.BoolVar(&opt.NoColor, "no-color", false, "disable colors")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := Run(ctx, fs.Args(), opt)
	if code != exitOK {
		fmt.Fprintln(ui.Stderr)
	}
	return code
}
