// Package worker runs the dense pose detector as a child process and talks
// to it over stdin/stdout with length-prefixed msgpack messages.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"
)

// Config describes how to launch the worker.
type Config struct {
	// Command is the executable and its leading arguments.
	Command []string `yaml:"command"`
	// Args are appended after the model flags.
	Args []string `yaml:"args"`
	// StopTimeout is how long Close waits for a clean exit before killing.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		Command:     []string{"densepose-worker"},
		StopTimeout: 2 * time.Second,
	}
}

// ErrBroken is returned after a request was abandoned mid-exchange; the
// stream position is unknown and the worker must be restarted.
var ErrBroken = errors.New("worker stream out of sync")

// Client exchanges frames with one worker process. Calls are serialized.
type Client struct {
	mu     sync.Mutex
	stdin  io.WriteCloser
	stdout io.Reader
	seq    uint64
	broken bool

	cmd         *exec.Cmd
	stderr      io.WriteCloser
	stopTimeout time.Duration
	exited      chan struct{}
	waitErr     error
	closeOnce   sync.Once
	closeErr    error
}

// Start launches the worker with --cfg and --wts flags.
func Start(ctx context.Context, cfg Config, modelConfig, weights string) (*Client, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("worker command is empty")
	}
	args := append([]string{}, cfg.Command[1:]...)
	if modelConfig != "" {
		args = append(args, "--cfg", modelConfig)
	}
	if weights != "" {
		args = append(args, "--wts", weights)
	}
	args = append(args, cfg.Args...)

	cmd := exec.CommandContext(ctx, cfg.Command[0], args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := logger.Writer(logger.INFO, "Worker")
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stderr.Close()
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	logger.Info("Worker", "Started %s (pid %d)", cfg.Command[0], cmd.Process.Pid)

	c := newClient(stdin, stdout)
	c.cmd = cmd
	c.stderr = stderr
	c.stopTimeout = cfg.StopTimeout
	c.exited = make(chan struct{})
	go func() {
		c.waitErr = cmd.Wait()
		close(c.exited)
	}()
	return c, nil
}

func newClient(stdin io.WriteCloser, stdout io.Reader) *Client {
	return &Client{stdin: stdin, stdout: stdout}
}

// Detect sends frame to the worker and waits for its class groups.
func (c *Client) Detect(ctx context.Context, frame types.Frame) ([]types.ClassGroup, error) {
	if frame.Image == nil {
		return nil, errors.New("frame has no image")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return nil, ErrBroken
	}

	c.seq++
	w, h := frame.Size()
	req := request{
		Type:      "frame",
		Seq:       c.seq,
		Width:     w,
		Height:    h,
		PixFmt:    "bgr24",
		FrameData: toBGR(frame.Image),
	}

	type result struct {
		resp response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		if r.err = writeMessage(c.stdin, &req); r.err == nil {
			r.err = readMessage(c.stdout, &r.resp)
		}
		done <- r
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		c.broken = true
		return nil, ctx.Err()
	}
	if r.err != nil {
		c.broken = true
		return nil, fmt.Errorf("worker exchange: %w", r.err)
	}
	if r.resp.Seq != req.Seq {
		c.broken = true
		return nil, fmt.Errorf("worker answered seq %d, expected %d", r.resp.Seq, req.Seq)
	}
	if r.resp.Error != "" {
		return nil, fmt.Errorf("worker: %s", r.resp.Error)
	}
	if ms, ok := r.resp.Timing["total_ms"]; ok {
		logger.Debug("Worker", "Frame %d (seq %d) took %.1fms", frame.Index, req.Seq, ms)
	}
	return classGroups(r.resp.Groups)
}

// Close closes stdin so the worker can exit, then kills it after StopTimeout.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stdin.Close()
		if c.cmd == nil {
			return
		}
		timeout := c.stopTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		select {
		case <-c.exited:
		case <-time.After(timeout):
			logger.Warn("Worker", "Did not exit within %v, killing", timeout)
			c.cmd.Process.Kill()
			<-c.exited
		}
		c.stderr.Close()
		if c.waitErr != nil {
			logger.Debug("Worker", "Exited: %v", c.waitErr)
		}
	})
	return c.closeErr
}

func toBGR(img *image.NRGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+3]
			out = append(out, p[2], p[1], p[0])
		}
	}
	return out
}
