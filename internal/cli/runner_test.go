package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Makepad-fr/tada/internal/ui"
)

// sandbox points config, data and credentials at temp dirs and captures
// everything the commands print.
type sandbox struct {
	t       *testing.T
	dataDir string
	stdout  bytes.Buffer
	stderr  bytes.Buffer
}

func newSandbox(t *testing.T, backend string) *sandbox {
	t.Helper()
	s := &sandbox{t: t, dataDir: t.TempDir()}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TADA_DATA_DIR", s.dataDir)
	t.Setenv("TADA_BACKEND", backend)
	t.Setenv("TADA_TOKEN", "")
	t.Setenv("TADA_THEME", "mono")
	t.Setenv("TADA_LOG_LEVEL", "off")
	chdir(t, t.TempDir())

	ui.Stdout, ui.Stderr = &s.stdout, &s.stderr
	t.Cleanup(func() {
		ui.Stdout, ui.Stderr = os.Stdout, os.Stderr
		_ = ui.SetTheme("classic")
	})
	return s
}

// run executes one command line and returns its exit code and output.
func (s *sandbox) run(args ...string) (int, string, string) {
	s.t.Helper()
	s.stdout.Reset()
	s.stderr.Reset()
	code := Run(context.Background(), args, Options{})
	return code, s.stdout.String(), s.stderr.String()
}

// must runs a command that has to succeed.
func (s *sandbox) must(args ...string) string {
	s.t.Helper()
	code, out, errOut := s.run(args...)
	if code != exitOK {
		s.t.Fatalf("todo %s: exit %d\nstdout: %s\nstderr: %s", strings.Join(args, " "), code, out, errOut)
	}
	return out
}

func TestRunUsage(t *testing.T) {
	s := newSandbox(t, "local")

	if code, _, errOut := s.run(); code != exitUsage || !strings.Contains(errOut, "Usage:") {
		t.Errorf("no args: exit %d, stderr %q", code, errOut)
	}
	if code, out, _ := s.run("help"); code != exitOK || !strings.Contains(out, "Subcommands:") {
		t.Errorf("help: exit %d, stdout %q", code, out)
	}
	if code, _, errOut := s.run("frobnicate"); code != exitUsage || !strings.Contains(errOut, "unknown subcommand: frobnicate") {
		t.Errorf("unknown: exit %d, stderr %q", code, errOut)
	}
	if code, _, errOut := s.run("add"); code != exitUsage || !strings.Contains(errOut, "usage: todo add") {
		t.Errorf("add without title: exit %d, stderr %q", code, errOut)
	}
	if code, _, _ := s.run("auth"); code != exitUsage {
		t.Errorf("auth without subcommand: exit %d", code)
	}
}

func TestRunBadConfig(t *testing.T) {
	s := newSandbox(t, "cloud")
	code, _, errOut := s.run("ls")
	if code != exitUsage || !strings.Contains(errOut, "config:") {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
}

func TestRunLocalLifecycle(t *testing.T) {
	s := newSandbox(t, "local")

	out := s.must("ls")
	if !strings.Contains(out, "no todos") {
		t.Errorf("empty ls:\n%s", out)
	}

	if out := s.must("add", "-d", "2 liters", "Buy", "milk"); !strings.Contains(out, "added") {
		t.Errorf("add output %q", out)
	}
	s.must("add", "Ship it")

	out = s.must("ls")
	for _, want := range []string{" 1. [ ] Buy milk  2 liters", " 2. [ ] Ship it", "Total 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("ls missing %q:\n%s", want, out)
		}
	}

	if out := s.must("done", "2"); !strings.Contains(out, "done: Ship it") {
		t.Errorf("done output %q", out)
	}
	out = s.must("ls")
	if !strings.Contains(out, " 2. [x] Ship it") {
		t.Errorf("ls after done:\n%s", out)
	}
	s.must("undone", "2")
	if out := s.must("ls"); !strings.Contains(out, " 2. [ ] Ship it") {
		t.Errorf("ls after undone:\n%s", out)
	}

	s.must("edit", "1", "Buy", "oat", "milk")
	out = s.must("show", "1")
	if !strings.Contains(out, "Buy oat milk") || !strings.Contains(out, "2 liters") {
		t.Errorf("edit without -d should keep the description:\n%s", out)
	}
	s.must("edit", "-d", "", "1", "Buy oat milk")
	if out := s.must("show", "1"); strings.Contains(out, "2 liters") {
		t.Errorf("edit -d \"\" should clear the description:\n%s", out)
	}

	if out := s.must("rm", "1"); !strings.Contains(out, "removed: Buy oat milk") {
		t.Errorf("rm output %q", out)
	}
	out = s.must("ls")
	if strings.Contains(out, "Buy oat milk") || !strings.Contains(out, " 1. [ ] Ship it") {
		t.Errorf("ls after rm:\n%s", out)
	}
}

func TestRunBadRef(t *testing.T) {
	s := newSandbox(t, "local")
	s.must("add", "only")

	code, _, errOut := s.run("done", "5")
	if code != exitUsage {
		t.Errorf("exit %d, want %d", code, exitUsage)
	}
	if !strings.Contains(errOut, "index out of range: have 1, got 5") || !strings.Contains(errOut, "run `todo ls`") {
		t.Errorf("stderr %q", errOut)
	}

	if code, _, errOut := s.run("edit", "1", " "); code != exitUsage || !strings.Contains(errOut, "title is required") {
		t.Errorf("blank edit: exit %d, stderr %q", code, errOut)
	}
}

func TestRunGroupedList(t *testing.T) {
	s := newSandbox(t, "local")
	s.must("add", "a")
	s.must("add", "b")
	s.must("done", "1")

	s.stdout.Reset()
	if code := Run(context.Background(), []string{"ls"}, Options{Group: true}); code != exitOK {
		t.Fatalf("exit %d: %s", code, s.stderr.String())
	}
	out := s.stdout.String()
	pending, done := strings.Index(out, "Pending"), strings.Index(out, "Done")
	if pending < 0 || done < pending {
		t.Fatalf("want Pending before Done:\n%s", out)
	}
	if i := strings.Index(out, " 2. [ ] b"); i < pending || i > done {
		t.Errorf("b should be under Pending:\n%s", out)
	}
	if i := strings.Index(out, " 1. [x] a"); i < done {
		t.Errorf("a should be under Done:\n%s", out)
	}
}

func TestRunExport(t *testing.T) {
	s := newSandbox(t, "local")
	s.must("add", "a")
	s.must("add", "b")
	s.must("done", "2")

	out := s.must("export")
	var doc struct {
		Backend string `json:"backend"`
		Done    int    `json:"done"`
		Pending int    `json:"pending"`
		Todos   []struct {
			Title string `json:"title"`
		} `json:"todos"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("export is not JSON: %v\n%s", err, out)
	}
	if doc.Backend != "local" || doc.Done != 1 || doc.Pending != 1 || len(doc.Todos) != 2 {
		t.Errorf("export = %+v", doc)
	}

	path := filepath.Join(t.TempDir(), "todos.yaml")
	if out := s.must("export", "-format", "yaml", "-o", path); !strings.Contains(out, "exported 2 todos") {
		t.Errorf("export -o output %q", out)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "backend: local") || !strings.Contains(string(b), "completed: true") {
		t.Errorf("yaml export:\n%s", b)
	}

	if code, _, _ := s.run("export", "-format", "csv"); code != exitUsage {
		t.Errorf("csv export: exit %d", code)
	}
}

func TestRunRemoteNeedsSession(t *testing.T) {
	s := newSandbox(t, "remote")
	code, _, errOut := s.run("ls")
	if code != exitUsage || !strings.Contains(errOut, "not signed in. Run: todo auth signin <email>") {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
	if code, _, _ := s.run("auth", "whoami"); code != exitUsage {
		t.Errorf("whoami signed out: exit %d", code)
	}
	out := s.must("auth", "status")
	if !strings.Contains(out, "not signed in") {
		t.Errorf("status:\n%s", out)
	}
}

func TestRunRemoteAccountAndTodos(t *testing.T) {
	s := newSandbox(t, "remote")

	if code, _, errOut := s.run("auth", "signup", "bad-email", "-password", "secret1"); code != exitError || !strings.Contains(errOut, "enter a valid email address") {
		t.Errorf("bad email: exit %d, stderr %q", code, errOut)
	}
	if code, _, errOut := s.run("auth", "signup", "-password", "123", "me@example.com"); code != exitError || !strings.Contains(errOut, "at least 6") {
		t.Errorf("short password: exit %d, stderr %q", code, errOut)
	}

	s.must("auth", "signup", "Me@Example.com", "-password", "secret1")
	if out := s.must("auth", "whoami"); !strings.Contains(out, "me@example.com") {
		t.Errorf("whoami after signup %q", out)
	}
	out := s.must("auth", "status")
	for _, want := range []string{"backend: remote", "user: me@example.com", "source: file", "expires: "} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}

	s.must("add", "remote todo")
	if out := s.must("ls"); !strings.Contains(out, " 1. [ ] remote todo") {
		t.Errorf("ls:\n%s", out)
	}
	s.must("done", "1")
	if out := s.must("show", "1"); !strings.Contains(out, "done") {
		t.Errorf("show:\n%s", out)
	}

	s.must("auth", "signout")
	if code, _, _ := s.run("ls"); code != exitUsage {
		t.Errorf("ls after signout: exit %d", code)
	}

	if code, _, errOut := s.run("auth", "signin", "me@example.com", "-password", "wrong-pass"); code != exitError || errOut == "" {
		t.Errorf("wrong password: exit %d, stderr %q", code, errOut)
	}
	if out := s.must("auth", "signin", "me@example.com", "-password", "secret1"); !strings.Contains(out, "signed in as me@example.com") {
		t.Errorf("signin output %q", out)
	}
	if out := s.must("ls"); !strings.Contains(out, " 1. [x] remote todo") {
		t.Errorf("todos should survive sign out:\n%s", out)
	}
}

type captureMailer struct {
	mu   sync.Mutex
	code string
}

func (m *captureMailer) SendPasswordReset(_ context.Context, _, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code = code
	return nil
}

func TestRunPasswordReset(t *testing.T) {
	s := newSandbox(t, "remote")
	mail := &captureMailer{}
	prev := resetMailer
	resetMailer = mail
	t.Cleanup(func() { resetMailer = prev })

	s.must("auth", "signup", "me@example.com", "-password", "secret1")
	s.must("auth", "signout")

	if code, _, _ := s.run("auth", "reset", "nobody@example.com"); code != exitError {
		t.Errorf("reset unknown: exit %d", code)
	}
	s.must("auth", "reset", "me@example.com")
	if mail.code == "" {
		t.Fatal("no reset code sent")
	}

	if code, _, _ := s.run("auth", "reset-confirm", "me@example.com", "WRONG1", "-password", "newpass1"); code != exitError {
		t.Errorf("wrong code: exit %d", code)
	}
	s.must("auth", "reset-confirm", "me@example.com", strings.ToLower(mail.code), "-password", "newpass1")

	if code, _, _ := s.run("auth", "signin", "me@example.com", "-password", "secret1"); code != exitError {
		t.Errorf("old password: exit %d", code)
	}
	s.must("auth", "signin", "me@example.com", "-password", "newpass1")
}

func TestRunTokenFromEnv(t *testing.T) {
	s := newSandbox(t, "remote")
	s.must("auth", "signup", "me@example.com", "-password", "secret1")

	b, err := os.ReadFile(filepath.Join(s.dataDir, "credentials.json"))
	if err != nil {
		t.Fatal(err)
	}
	var creds struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(b, &creds); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(s.dataDir, "credentials.json")); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TADA_TOKEN", "Bearer "+creds.Token)

	if out := s.must("auth", "whoami"); !strings.Contains(out, "me@example.com") {
		t.Errorf("whoami from env %q", out)
	}
	if out := s.must("auth", "signout"); !strings.Contains(out, "TADA_TOKEN env var") {
		t.Errorf("signout with env token %q", out)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PWD", dir)
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
