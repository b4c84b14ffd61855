package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// execProcess adapts an *exec.Cmd to Process. Under a PTY, stdout and stderr
// arrive as one terminal stream, colours included.
type execProcess struct {
	cmd  *exec.Cmd
	out  io.Reader
	done chan struct{}

	mu   sync.Mutex
	code int
	err  error
}

// waitDelay bounds how long Wait lingers on output pipes held open by
// descendants that outlived the group kill.
const waitDelay = 2 * time.Second

func startProcess(cmd *exec.Cmd, tty bool) (*execProcess, error) {
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	newGroup(cmd, tty)
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = waitDelay

	if tty {
		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 120})
		if err != nil {
			return nil, fmt.Errorf("starting %s under pty: %w", cmd.Path, err)
		}
		p.out = &ptyReader{f: ptmx}
		go p.wait(nil)
		return p, nil
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	p.out = pr
	go p.wait(pw)
	return p, nil
}

func (p *execProcess) wait(pw *io.PipeWriter) {
	err := p.cmd.Wait()
	if pw != nil {
		pw.Close()
	}

	code := 0
	var exitErr *exec.ExitError
	switch {
	case errors.Is(err, exec.ErrWaitDelay):
		code, err = p.cmd.ProcessState.ExitCode(), nil
	case errors.As(err, &exitErr):
		code = exitErr.ExitCode()
		err = nil
	case err != nil:
		code = -1
	}

	p.mu.Lock()
	p.code, p.err = code, err
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Output() io.Reader { return p.out }

func (p *execProcess) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.err
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return killGroup(p.cmd)
}

// ptyReader turns the EIO a PTY master returns after the child exits into
// io.EOF and closes the master.
type ptyReader struct {
	f    *os.File
	once sync.Once
}

func (r *ptyReader) Read(b []byte) (int, error) {
	n, err := r.f.Read(b)
	if err != nil {
		if errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed) {
			err = io.EOF
		}
		if err == io.EOF {
			r.once.Do(func() { r.f.Close() })
		}
	}
	return n, err
}
