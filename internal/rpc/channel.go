package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultTerminateTimeout bounds how long Terminate waits for a graceful exit
// before killing the worker.
const DefaultTerminateTimeout = 5 * time.Second

// Command describes the worker process to spawn.
type Command struct {
	Path string
	Args []string
	Env  []string // appended to the parent environment
	Dir  string

	// Stderr receives the worker's diagnostics. Defaults to os.Stderr.
	Stderr io.Writer
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return fmt.Sprintf("%s %v", c.Path, c.Args)
}

type line struct {
	data []byte
	err  error
}

// Channel exchanges newline-delimited JSON messages with one worker process
// over its stdin and stdout. It carries one request at a time.
type Channel struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	w      *bufio.Writer
	lines  chan line
	exited chan struct{}
	closed chan struct{}
	logger *slog.Logger

	mu      sync.Mutex
	broken  error
	waitErr error

	termOnce sync.Once
	termErr  error
}

// Spawn starts the worker and wires its stdio as the transport.
func Spawn(ctx context.Context, c Command) (*Channel, error) {
	if c.Path == "" {
		return nil, &ChannelError{Op: "spawn", Err: errors.New("empty command path")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ChannelError{Op: "spawn", Err: err}
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	} else {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ChannelError{Op: "spawn", Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	// A plain pipe instead of StdoutPipe: Wait must not close the read end
	// while buffered lines are still being consumed.
	pr, pw, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, &ChannelError{Op: "spawn", Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pr.Close()
		pw.Close()
		return nil, &ChannelError{Op: "spawn", Err: fmt.Errorf("start %s: %w", c.Path, err)}
	}
	pw.Close()

	ch := &Channel{
		cmd:    cmd,
		stdin:  stdin,
		w:      bufio.NewWriter(stdin),
		lines:  make(chan line, 16),
		exited: make(chan struct{}),
		closed: make(chan struct{}),
		logger: slog.Default().With("pid", cmd.Process.Pid),
	}

	go ch.readLoop(pr)
	go func() {
		err := cmd.Wait()
		ch.mu.Lock()
		ch.waitErr = err
		ch.mu.Unlock()
		close(ch.exited)
	}()

	ch.logger.Debug("worker spawned", "command", c.String())
	return ch, nil
}

func (c *Channel) readLoop(r io.ReadCloser) {
	defer r.Close()
	defer close(c.lines)

	br := bufio.NewReader(r)
	for {
		data, err := br.ReadBytes('\n')
		if len(data) > 0 {
			data = bytes.TrimSpace(data)
			if len(data) > 0 && !c.deliver(line{data: data}) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.deliver(line{err: err})
			}
			return
		}
	}
}

func (c *Channel) deliver(l line) bool {
	select {
	case c.lines <- l:
		return true
	case <-c.closed:
		return false
	}
}

// fail marks the channel broken. The first cause wins.
func (c *Channel) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken == nil {
		c.broken = err
	}
	return c.broken
}

// Err returns the reason the channel broke, or nil while it is healthy.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Send writes msg followed by a newline and flushes it.
func (c *Channel) Send(ctx context.Context, msg Message) error {
	if err := c.Err(); err != nil {
		return &ChannelError{Op: "send", Err: err}
	}
	select {
	case <-c.exited:
		return &ChannelError{Op: "send", Err: c.fail(c.exitErr())}
	default:
	}

	if msg.JSONRPC == "" {
		msg.JSONRPC = Version
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	data = append(data, '\n')

	errc := make(chan error, 1)
	go func() {
		if _, err := c.w.Write(data); err != nil {
			errc <- err
			return
		}
		errc <- c.w.Flush()
	}()

	select {
	case err := <-errc:
		if err != nil {
			return &ChannelError{Op: "send", Err: c.fail(fmt.Errorf("write: %w", err))}
		}
		return nil
	case <-ctx.Done():
		return &ChannelError{Op: "send", Err: c.fail(fmt.Errorf("write: %w", ctx.Err()))}
	}
}

// Receive blocks until the next message arrives. It returns ErrEndOfStream
// when the worker closed its output, and a *ProtocolError for a line that is
// not valid JSON.
func (c *Channel) Receive(ctx context.Context) (Message, error) {
	if err := c.Err(); err != nil {
		if errors.Is(err, ErrEndOfStream) {
			return Message{}, ErrEndOfStream
		}
		return Message{}, &ChannelError{Op: "receive", Err: err}
	}

	select {
	case l, ok := <-c.lines:
		if !ok {
			c.fail(ErrEndOfStream)
			return Message{}, ErrEndOfStream
		}
		if l.err != nil {
			return Message{}, &ChannelError{Op: "receive", Err: c.fail(fmt.Errorf("read: %w", l.err))}
		}
		var msg Message
		if err := json.Unmarshal(l.data, &msg); err != nil {
			perr := &ProtocolError{Line: l.data, Err: err}
			c.fail(perr)
			return Message{}, perr
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, &ChannelError{Op: "receive", Err: c.fail(fmt.Errorf("waiting for response: %w", ctx.Err()))}
	}
}

func (c *Channel) exitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waitErr != nil {
		return fmt.Errorf("worker exited: %w", c.waitErr)
	}
	return errors.New("worker exited")
}

// Exited is closed once the worker process has terminated.
func (c *Channel) Exited() <-chan struct{} { return c.exited }

// Terminate closes stdin, signals the worker and waits up to timeout for it
// to exit before killing it. Safe to call any number of times.
func (c *Channel) Terminate(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTerminateTimeout
	}
	c.termOnce.Do(func() {
		c.fail(errors.New("channel terminated"))
		close(c.closed)
		c.stdin.Close()

		select {
		case <-c.exited:
			return
		default:
		}

		if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.logger.Debug("signal failed, killing worker", "error", err)
			c.termErr = c.kill()
			return
		}

		select {
		case <-c.exited:
		case <-time.After(timeout):
			c.logger.Warn("worker did not exit in time, killing", "timeout", timeout)
			c.termErr = c.kill()
		}
	})
	return c.termErr
}

func (c *Channel) kill() error {
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing worker: %w", err)
	}
	<-c.exited
	return nil
}
