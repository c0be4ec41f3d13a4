package cli

import (
	"bytes"
	stdcontext "context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestConfigLintSuccess(t *testing.T) {
	path := writeConfig(t, t.TempDir(),
		"mode: development",
		"backend:",
		"  port: 8100",
		"health:",
		"  attempts: 3",
		"  interval: 100ms",
	)
	stdout, _, err := runCLI(t, "config", "lint", "--config", path)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if want := path + ": OK\n"; stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
}

func TestConfigLintSchemaViolation(t *testing.T) {
	path := writeConfig(t, t.TempDir(),
		"backend:",
		"  port: 70000",
	)
	stdout, _, err := runCLI(t, "config", "lint", "--config", path)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if stdout != "" {
		t.Fatalf("expected empty stdout, got %q", stdout)
	}
	if !strings.Contains(err.Error(), "backend.port") {
		t.Fatalf("error does not mention the offending field: %v", err)
	}
}

func TestConfigLintRequiresFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "minicars.yaml")
	if _, _, err := runCLI(t, "config", "lint", "--config", missing); err == nil {
		t.Fatalf("lint must fail for a missing file")
	}
}

func TestConfigShowAppliesOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "mode: production")
	stdout, _, err := runCLI(t, "config", "show", "--config", path, "--mode", "dev", "--log-level", "debug")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"mode: development", "port: 8000", "interval: 500ms", "level: debug", "app: minicars_backend.api:app"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in output:\n%s", want, stdout)
		}
	}
	if strings.Contains(stdout, "resolvedenv") {
		t.Fatalf("resolved env must not be printed:\n%s", stdout)
	}
}

func TestConfigShowRejectsUnknownMode(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	if _, _, err := runCLI(t, "config", "show", "--config", path, "--mode", "staging"); err == nil {
		t.Fatalf("expected unknown mode to fail")
	}
}

func TestResolveUsesOverride(t *testing.T) {
	skipOnWindows(t)
	dir := backendDir(t)
	t.Setenv("MINICARS_BACKEND_DIR", dir)
	path := writeConfig(t, t.TempDir(),
		"backend:",
		"  interpreters: [minicars-no-such-python, /bin/sh]",
	)

	stdout, _, err := runCLI(t, "resolve", "--config", path)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, want := range []string{"dir:         " + dir, "source:      env", "interpreter: /bin/sh"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in output:\n%s", want, stdout)
		}
	}
}

func TestResolveReportsTriedPaths(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nowhere")
	t.Setenv("MINICARS_BACKEND_DIR", missing)
	path := writeConfig(t, t.TempDir(), "mode: production")

	stdout, _, err := runCLI(t, "resolve", "--config", path)
	if err == nil {
		t.Fatalf("expected resolve to fail")
	}
	if !strings.HasPrefix(err.Error(), "BACKEND_DIR_NOT_FOUND: ") {
		t.Fatalf("expected rendered error, got %q", err.Error())
	}
	if !strings.Contains(stdout, "tried:\n  "+missing+"\n") {
		t.Fatalf("expected override path listed first, got:\n%s", stdout)
	}
}

func TestEnsureRendersMissingInterpreter(t *testing.T) {
	t.Setenv("MINICARS_BACKEND_DIR", backendDir(t))
	path := writeConfig(t, t.TempDir(),
		"backend:",
		"  interpreters: [minicars-no-such-python]",
	)

	stdout, _, err := runCLI(t, "ensure", "--config", path)
	if err == nil {
		t.Fatalf("expected ensure to fail")
	}
	if !strings.HasPrefix(err.Error(), "PYTHON_NOT_FOUND: ") {
		t.Fatalf("expected PYTHON_NOT_FOUND prefix, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "minicars-no-such-python") {
		t.Fatalf("expected tried interpreter in message, got %q", err.Error())
	}
	if stdout != "" {
		t.Fatalf("nothing should be printed on stdout, got %q", stdout)
	}
}

func TestStatusPrintsHealthFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"minicars-backend","env":"dev"}`))
	}))
	t.Cleanup(srv.Close)

	stdout, _, err := runCLI(t, "status", "--url", srv.URL+"/")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"status:  ok", "service: minicars-backend", "env:     dev", srv.URL + "/health"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in output:\n%s", want, stdout)
		}
	}
}

func TestStatusMissingFieldsShowDash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	stdout, _, err := runCLI(t, "status", "--url", srv.URL)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(stdout, "service: -") {
		t.Fatalf("expected placeholder for missing field:\n%s", stdout)
	}
}

func TestStatusFailsWhenUnhealthyOrUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	if _, _, err := runCLI(t, "status", "--url", srv.URL); err == nil || !strings.Contains(err.Error(), "HTTP 503") {
		t.Fatalf("expected unhealthy error, got %v", err)
	}
	if _, _, err := runCLI(t, "status", "--url", "http://127.0.0.1:1", "--timeout", "500ms"); err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}

func TestRunContinuesWithoutBackend(t *testing.T) {
	t.Setenv("MINICARS_BACKEND_DIR", filepath.Join(t.TempDir(), "missing"))
	path := writeConfig(t, t.TempDir(), "mode: production")

	cmd := NewRootCmd()
	stdout := &syncBuffer{}
	stderr := &syncBuffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs([]string{"run", "--config", path})

	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(stderr.String(), "BACKEND_DIR_NOT_FOUND: ") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("startup error not reported; stderr=%q", stderr.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case err := <-done:
		t.Fatalf("run exited before interrupt: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not exit after interrupt")
	}
}

func TestRunTUIRequiresTerminal(t *testing.T) {
	path := writeConfig(t, t.TempDir())
	_, _, err := runCLI(t, "run", "--tui", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "interactive terminal") {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestDeferredWriterFlushesOnAttach(t *testing.T) {
	w := &deferredWriter{}
	_, _ = w.Write([]byte("early\n"))

	var dst bytes.Buffer
	w.Attach(&dst)
	_, _ = w.Write([]byte("late\n"))

	if dst.String() != "early\nlate\n" {
		t.Fatalf("unexpected output %q", dst.String())
	}
}

func runCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := NewRootCmd()
	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// writeConfig writes a configuration file whose log file lands in dir.
func writeConfig(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	lines = append(lines, "logging:", "  dir: "+filepath.Join(dir, "logs"))
	path := filepath.Join(dir, "minicars.yaml")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func backendDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "backend")
	pkg := filepath.Join(dir, "minicars_backend")
	if err := os.MkdirAll(pkg, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(pkg, "api.py"), []byte("app = None\n"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	return dir
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
