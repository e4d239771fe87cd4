// Package stdio implements the local-subprocess transport adapter:
// newline-delimited JSON over the child's stdin/stdout, stderr drained
// as informational log lines.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/standardbeagle/mcpbroker/internal/mcperr"
	"github.com/standardbeagle/mcpbroker/internal/transport"
)

// Config describes how to spawn the MCP server process.
type Config struct {
	Command string
	Args    []string
	Env     map[string]string
}

// handshakeSettle lets the child's stdin loop come up before the first
// initialize request is issued.
const handshakeSettle = 100 * time.Millisecond

// Adapter is the stdio transport variant.
type Adapter struct {
	cfg     Config
	sink    transport.Sink
	onClose func(error)
	logger  transport.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	closed  bool
}

// New builds a stdio Adapter. sink receives each inbound line; onClose
// fires at most once, when the child exits on its own. It does not fire
// for an exit caused by Close.
func New(cfg Config, sink transport.Sink, onClose func(error), logger transport.Logger) *Adapter {
	return &Adapter{cfg: cfg, sink: sink, onClose: onClose, logger: logger}
}

func (a *Adapter) Open(ctx context.Context) error {
	name, args := resolveCommand(a.cfg.Command, a.cfg.Args)

	cmd := exec.Command(name, args...)
	cmd.Env = mergeEnv(os.Environ(), a.cfg.Env)
	setupProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", a.cfg.Command, err)
	}

	a.mu.Lock()
	a.cmd = cmd
	a.stdin = stdin
	a.mu.Unlock()

	go a.readLoop(stdout)
	go a.drainStderr(stderr)
	go a.waitLoop()

	time.Sleep(handshakeSettle)
	return nil
}

func (a *Adapter) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		a.sink([]byte(line))
	}
}

func (a *Adapter) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if a.logger != nil {
			a.logger.Info("stdio server stderr", "command", a.cfg.Command, "line", scanner.Text())
		}
	}
}

func (a *Adapter) waitLoop() {
	err := a.cmd.Wait()
	a.mu.Lock()
	alreadyClosed := a.closed
	a.closed = true
	a.mu.Unlock()
	if !alreadyClosed && a.onClose != nil {
		if err == nil {
			err = fmt.Errorf("process exited")
		}
		if a.logger != nil {
			if classified := mcperr.ClassifyNetworkError(err); classified != nil {
				a.logger.Warn("stdio server process exited", "command", a.cfg.Command, "type", classified.Type.String(), "retryable", classified.ShouldRetry())
			}
		}
		a.onClose(err)
	}
}

func (a *Adapter) Send(ctx context.Context, frame []byte) error {
	a.mu.Lock()
	stdin := a.stdin
	closed := a.closed
	a.mu.Unlock()
	if closed || stdin == nil {
		return fmt.Errorf("stdio adapter closed")
	}
	if _, err := stdin.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cmd := a.cmd
	stdin := a.stdin
	a.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	killGraceful(cmd)
	return nil
}

func mergeEnv(base []string, overlay map[string]string) []string {
	env := append([]string{}, base...)
	for k, v := range overlay {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// resolveCommand applies the Windows %PATH% shim-resolution workaround:
// if the configured command isn't already a shell invocation, wrap it
// as `cmd /C <command> <args...>` so .cmd/.bat shims resolve.
func resolveCommand(command string, args []string) (string, []string) {
	if runtime.GOOS != "windows" {
		return command, args
	}
	lower := strings.ToLower(command)
	if lower == "cmd" || lower == "cmd.exe" || strings.HasSuffix(lower, "powershell.exe") {
		return command, args
	}
	wrapped := append([]string{"/C", command}, args...)
	return "cmd", wrapped
}
