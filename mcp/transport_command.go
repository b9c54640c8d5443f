package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/shaharia-lab/mcpbridge/observability"
)

const commandShutdownGrace = 5 * time.Second

// CommandTransport runs an MCP server as a subprocess and talks to it over
// its stdin and stdout. Everything the process writes to stderr is logged.
type CommandTransport struct {
	*StdioTransport

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	logger    observability.Logger
	waitOnce  sync.Once
	waitErr   error
	waitDone  chan struct{}
	closeOnce sync.Once
}

// NewCommandTransport starts command with args. env entries are appended to
// the current environment.
func NewCommandTransport(ctx context.Context, logger observability.Logger, command string, args []string, env []string) (*CommandTransport, error) {
	if logger == nil {
		logger = observability.NewNullLogger()
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = append(os.Environ(), env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", command, err)
	}

	t := &CommandTransport{
		StdioTransport: NewStdioTransport(stdout, stdin),
		cmd:            cmd,
		stdin:          stdin,
		logger:         logger.WithFields(map[string]interface{}{"command": command, "pid": cmd.Process.Pid}),
		waitDone:       make(chan struct{}),
	}

	go t.forwardStderr(stderr)
	go t.wait()

	return t, nil
}

func (t *CommandTransport) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		t.logger.Debugf("server stderr: %s", scanner.Text())
	}
}

func (t *CommandTransport) wait() {
	t.waitOnce.Do(func() {
		t.waitErr = t.cmd.Wait()
		close(t.waitDone)
	})
}

// Close closes stdin so the server can exit on EOF, then kills it if it
// has not exited within the grace period.
func (t *CommandTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		_ = t.StdioTransport.Close()
		_ = t.stdin.Close()

		select {
		case <-t.waitDone:
		case <-time.After(commandShutdownGrace):
			t.logger.Warn("server did not exit after stdin closed, killing it")
			if killErr := t.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
				err = fmt.Errorf("failed to kill server process: %w", killErr)
			}
			<-t.waitDone
		}

		var exitErr *exec.ExitError
		if t.waitErr != nil && !errors.As(t.waitErr, &exitErr) && err == nil {
			err = fmt.Errorf("server process failed: %w", t.waitErr)
		}
	})
	return err
}
