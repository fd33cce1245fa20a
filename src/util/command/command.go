// Package command runs the external binaries this tool delegates to (btrfs,
// rclone) and gives tests a seam to replace them.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Runner executes external programs.
type Runner interface {
	// Run executes the program to completion and returns its captured output.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
	// Stream starts the program and hands back its stdout. The caller must
	// read the stream to EOF (or cancel ctx) before calling Wait.
	Stream(ctx context.Context, name string, args ...string) (Stream, error)
}

// Stream is the stdout of a running program.
type Stream interface {
	io.Reader
	Wait() error
}

// Error describes a program that could not be started or exited non-zero.
type Error struct {
	Name     string
	Args     []string
	ExitCode int // -1 when the program never ran
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode extracts the exit status from an error returned by a Runner.
// It returns -1 if err does not carry one.
func ExitCode(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return -1
}

// Exec is the Runner backed by os/exec.
type Exec struct {
	Log *zap.Logger
	// Env is appended to the process environment of every command.
	Env []string
}

func (e Exec) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := e.command(ctx, name, args)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	err := cmd.Run()
	if err != nil {
		err = wrap(name, args, stderrBuf.String(), err)
	}
	return stdoutBuf.String(), stderrBuf.String(), err
}

func (e Exec) Stream(ctx context.Context, name string, args ...string) (Stream, error) {
	cmd := e.command(ctx, name, args)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: capture stdout: %w", name, err)
	}
	s := &execStream{cmd: cmd, r: stdout, name: name, args: args}
	cmd.Stderr = &s.stderr
	if err := cmd.Start(); err != nil {
		return nil, wrap(name, args, "", err)
	}
	return s, nil
}

func (e Exec) command(ctx context.Context, name string, args []string) *exec.Cmd {
	if e.Log != nil {
		e.Log.Debug("exec", zap.String("cmd", name), zap.Strings("args", args))
	}
	cmd := exec.CommandContext(ctx, name, args...)
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	return cmd
}

type execStream struct {
	cmd    *exec.Cmd
	r      io.Reader
	stderr bytes.Buffer
	name   string
	args   []string
}

func (s *execStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *execStream) Wait() error {
	if err := s.cmd.Wait(); err != nil {
		return wrap(s.name, s.args, s.stderr.String(), err)
	}
	return nil
}

func wrap(name string, args []string, stderr string, err error) error {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &Error{Name: name, Args: args, ExitCode: code, Stderr: stderr, Err: err}
}

// NewStream wraps an in-memory reader as a Stream whose Wait returns waitErr.
func NewStream(r io.Reader, waitErr error) Stream {
	return &staticStream{r: r, err: waitErr}
}

type staticStream struct {
	r   io.Reader
	err error
}

func (s *staticStream) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *staticStream) Wait() error                { return s.err }
