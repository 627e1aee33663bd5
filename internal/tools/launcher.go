package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrNotStarted = errors.New("tools: process not started")

// DefaultStopGrace is how long Stop waits after an interrupt before it
// kills the process.
const DefaultStopGrace = 2 * time.Second

// Launcher starts long-running child processes.
type Launcher interface {
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

// Process is a started child.
type Process interface {
	Pid() int
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int32, error)
	// Stop interrupts the process, kills it after grace, and reaps it.
	Stop(grace time.Duration) error
}

// ExecLauncher starts processes on the local host. Child output goes to
// Stdout and Stderr when set.
type ExecLauncher struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (l ExecLauncher) Start(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.reap()
	log.Debug().Msgf("tools.ExecLauncher.Start pid=%d name=%q args=%q", cmd.Process.Pid, name, args)
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu   sync.Mutex
	code int32
	err  error
}

func (p *execProcess) reap() {
	err := p.cmd.Wait()
	code, err := ExitCode(err)
	p.mu.Lock()
	p.code, p.err = code, err
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Wait() (int32, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.err
}

func (p *execProcess) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Warn().Msgf("tools.execProcess.Stop interrupt pid=%d err=%v", p.Pid(), err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}
	log.Warn().Msgf("tools.execProcess.Stop kill pid=%d grace=%s", p.Pid(), grace)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("tools: kill pid %d: %w", p.Pid(), err)
	}
	<-p.done
	return nil
}

// ExitCode maps a Wait error to a shell-style exit code. A clean exit and
// an interrupted or killed process both return a nil error.
func ExitCode(err error) (int32, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if !exitErr.Exited() {
			// terminated by signal
			return int32(exitErr.ExitCode()), nil
		}
		return int32(exitErr.ExitCode()), err
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return 127, err
	}
	return 1, err
}
