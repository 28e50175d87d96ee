package cli

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/Makepad-fr/tada/internal/app"
	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/ui"
)

const authUsage = "usage: todo auth <signup|signin|signout|status|whoami|reset|reset-confirm>"

func cmdAuth(r *runner, args []string) int {
	if len(args) == 0 {
		ui.Fail(authUsage)
		return exitUsage
	}
	switch args[0] {
	case "signup":
		return authCredentials(r, "signup", args[1:])
	case "signin", "login":
		return authCredentials(r, "signin", args[1:])
	case "signout", "logout":
		return authSignOut(r, args[1:])
	case "status":
		return authStatus(r)
	case "whoami":
		return authWhoAmI(r)
	case "reset":
		return authReset(r, args[1:])
	case "reset-confirm":
		return authResetConfirm(r, args[1:])
	default:
		ui.Fail(authUsage)
		return exitUsage
	}
}

// parseMixed parses flags that may appear before, between or after
// positional arguments.
func parseMixed(fs *flag.FlagSet, args []string) ([]string, int, bool) {
	var pos []string
	for {
		if code, ok := parseFlags(fs, args); !ok {
			return nil, code, false
		}
		if fs.NArg() == 0 {
			return pos, exitOK, true
		}
		pos = append(pos, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

// password returns flag value or prompts for it.
func password(value, label string) (string, int) {
	if value != "" {
		return value, exitOK
	}
	p, err := ui.Prompt(label, true)
	if err != nil {
		if errors.Is(err, ui.ErrPromptCancelled) {
			ui.Fail("cancelled")
			return "", exitUsage
		}
		ui.Fail("read password: " + err.Error())
		return "", exitError
	}
	return p, exitOK
}

// report prints msg and maps it to an exit code.
func report(msg app.Message) int {
	if msg.Error {
		ui.Fail(msg.Text)
		return exitError
	}
	ui.OK(msg.Text)
	return exitOK
}

func authCredentials(r *runner, name string, args []string) int {
	fs := newFlags("auth " + name)
	pw := fs.String("password", "", "password (prompted when omitted)")
	pos, code, ok := parseMixed(fs, args)
	if !ok {
		return code
	}
	if len(pos) != 1 {
		ui.Fail("usage: todo auth " + name + " <email> [-password P]")
		return exitUsage
	}
	e, code := r.open(false)
	if code != exitOK {
		return code
	}
	p, code := password(*pw, "Password")
	if code != exitOK {
		return code
	}
	if name == "signup" {
		return report(e.auth.SignUp(r.ctx, pos[0], p))
	}
	return report(e.auth.SignIn(r.ctx, pos[0], p))
}

func authSignOut(r *runner, args []string) int {
	if len(args) != 0 {
		ui.Fail("usage: todo auth signout")
		return exitUsage
	}
	ti, _ := r.credentials().Get()
	if ti != nil && ti.Source == "env" {
		ui.OK(fmt.Sprintf("token is provided by %s env var (nothing to delete)", r.cfg.Auth.TokenEnv))
		return exitOK
	}
	e, code := r.open(false)
	if code != exitOK {
		return code
	}
	return report(e.auth.SignOut(r.ctx))
}

func authStatus(r *runner) int {
	e, code := r.open(false)
	if code != exitOK {
		return code
	}
	th := ui.Current()
	fmt.Fprintf(ui.Stdout, "backend: %s\n", r.cfg.Backend)
	s := e.auth.Session()
	if !s.Authenticated {
		fmt.Fprintln(ui.Stdout, ui.C(th.Muted, "not signed in"))
		fmt.Fprintln(ui.Stdout, "Run: todo auth signin <email>")
		return exitOK
	}
	fmt.Fprintf(ui.Stdout, "user: %s\n", s.Email)
	if ti, _ := r.credentials().Get(); ti != nil {
		fmt.Fprintf(ui.Stdout, "source: %s\n", ti.Source)
	}
	if exp, ok := e.provider.SessionExpiry(); ok {
		fmt.Fprintf(ui.Stdout, "expires: %s\n", exp.UTC().Format(time.RFC3339))
	} else {
		fmt.Fprintln(ui.Stdout, "expires: (unknown)")
	}
	fmt.Fprintf(ui.Stdout, "env override: %s\n", r.cfg.Auth.TokenEnv)
	return exitOK
}

func authWhoAmI(r *runner) int {
	e, code := r.open(false)
	if code != exitOK {
		return code
	}
	s := e.auth.Session()
	if !s.Authenticated {
		ui.Fail("not signed in. Run: todo auth signin <email>")
		return exitUsage
	}
	fmt.Fprintln(ui.Stdout, s.Email)
	fmt.Fprintln(ui.Stdout, ui.C(ui.Current().Muted, "id: "+s.UserID))
	return exitOK
}

func authReset(r *runner, args []string) int {
	if len(args) != 1 {
		ui.Fail("usage: todo auth reset <email>")
		return exitUsage
	}
	e, code := r.open(false)
	if code != exitOK {
		return code
	}
	code = report(e.auth.ResetPassword(r.ctx, args[0]))
	if code == exitOK {
		ui.Hint("then run: todo auth reset-confirm " + args[0] + " <code>")
	}
	return code
}

func authResetConfirm(r *runner, args []string) int {
	fs := newFlags("auth reset-confirm")
	pw := fs.String("password", "", "new password (prompted when omitted)")
	pos, code, ok := parseMixed(fs, args)
	if !ok {
		return code
	}
	if len(pos) != 2 {
		ui.Fail("usage: todo auth reset-confirm <email> <code> [-password P]")
		return exitUsage
	}
	e, code := r.open(false)
	if code != exitOK {
		return code
	}
	p, code := password(*pw, "New password")
	if code != exitOK {
		return code
	}
	return report(e.auth.ConfirmReset(r.ctx, pos[0], pos[1], p))
}

func (r *runner) credentials() auth.Credentials {
	return auth.Credentials{Path: r.cfg.Auth.CredentialsFile, EnvVar: r.cfg.Auth.TokenEnv}
}
