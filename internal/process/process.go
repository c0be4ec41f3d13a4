package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// LogSourceStdout marks lines read from the child's standard output.
	LogSourceStdout = "stdout"
	// LogSourceStderr marks lines read from the child's standard error.
	LogSourceStderr = "stderr"

	waitDelay = 2 * time.Second
)

// Line is a single line of child output.
type Line struct {
	Message string
	Source  string
}

// Spec describes the child to start.
type Spec struct {
	Name    string
	Command []string
	Dir     string
	// Env entries are appended to the parent environment, overriding
	// variables of the same name.
	Env map[string]string
	// OnLine receives every output line. It must not block for long; nil
	// discards output.
	OnLine func(Line)
}

// Process is a started child. It is reaped by a background goroutine so that
// liveness can be checked without blocking.
type Process struct {
	name string
	cmd  *exec.Cmd

	waitDone chan struct{}
	mu       sync.Mutex
	waitErr  error
	state    *os.ProcessState
}

// CommandLine renders the command the way it would be typed in a shell. It is
// used for diagnostics only.
func (s Spec) CommandLine() string {
	parts := make([]string, 0, len(s.Command))
	for _, arg := range s.Command {
		if arg == "" || strings.ContainsAny(arg, " \t\"'") {
			parts = append(parts, fmt.Sprintf("%q", arg))
			continue
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// Start launches the child and returns as soon as the operating system has
// created it.
func Start(spec Spec) (*Process, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("process %s requires a command", spec.Name)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.WaitDelay = waitDelay

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return nil, fmt.Errorf("start process %s: %w", spec.Name, err)
	}

	p := &Process{
		name:     spec.Name,
		cmd:      cmd,
		waitDone: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(stdoutR, LogSourceStdout, spec.OnLine, &wg)
	go streamLines(stderrR, LogSourceStderr, spec.OnLine, &wg)

	go func() {
		err := cmd.Wait()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		wg.Wait()

		p.mu.Lock()
		p.waitErr = err
		p.state = cmd.ProcessState
		p.mu.Unlock()
		close(p.waitDone)
	}()

	return p, nil
}

// PID returns the operating system process identifier.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.waitDone
}

// Exited reports, without blocking, whether the child has exited. When it has,
// code carries the exit code and known reports whether the code is
// meaningful; a child terminated by a signal has no exit code.
func (p *Process) Exited() (exited bool, code int, known bool) {
	select {
	case <-p.waitDone:
	default:
		return false, 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return true, 0, false
	}
	code = p.state.ExitCode()
	if code < 0 {
		return true, 0, false
	}
	return true, code, true
}

// Err returns the error reported by Wait, if the child has exited.
func (p *Process) Err() error {
	select {
	case <-p.waitDone:
	default:
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return nil
	}
	return p.waitErr
}

func streamLines(r io.ReadCloser, source string, onLine func(Line), wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLine == nil {
			continue
		}
		onLine(Line{Message: strings.TrimRight(scanner.Text(), "\r\n"), Source: source})
	}
	// Keep draining so the child never blocks on a full pipe after a
	// pathological line.
	_, _ = io.Copy(io.Discard, r)
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, overrides[k]))
	}
	return env
}
