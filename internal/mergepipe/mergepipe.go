// Package mergepipe merges a child's stdout and stderr into one ordered
// stream through a private named pipe.
//
// The write end of the pipe is handed to the child as both fd 1 and fd 2,
// so the kernel orders the bytes exactly as the child wrote them. The read
// end is drained into a buffer by a goroutine and optionally mirrored live.
package mergepipe

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"golang.org/x/sys/unix"
)

// CodeChannelFailed identifies failures creating, opening or removing the pipe.
const CodeChannelFailed errors.ErrorCode = "CHANNEL_FAILED"

// DefaultDrainTimeout bounds how long Close waits for the reader to reach
// end of stream.
const DefaultDrainTimeout = 200 * time.Millisecond

// Options configures a Channel.
type Options struct {
	Dir          string        // directory for the pipe node; os.TempDir() if empty
	Mirror       io.Writer     // receives every chunk as it is read; nil disables
	DrainTimeout time.Duration // DefaultDrainTimeout if zero
	MaxOutput    int           // cap on the captured buffer in bytes; 0 means unlimited
}

// Channel owns one named pipe and both of its descriptors. It is not
// reusable; every invocation opens its own.
type Channel struct {
	opts Options
	path string

	reader   *os.File
	writer   *os.File
	unlinked bool

	mu        sync.Mutex
	buf       bytes.Buffer
	truncated bool

	started bool
	done    chan struct{}
	readErr error

	closeOnce sync.Once
	closeErr  error
}

// Open creates the pipe node, opens the read end, then the write end, and
// removes the node from the filesystem. Any failure releases whatever was
// already acquired.
func Open(opts Options) (*Channel, error) {
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}

	c := &Channel{
		opts: opts,
		path: filepath.Join(opts.Dir, "exec-action-"+uuid.NewString()+".fifo"),
		done: make(chan struct{}),
	}

	if err := unix.Mkfifo(c.path, 0o600); err != nil {
		// Nothing was created, so there is nothing to unlink.
		c.unlinked = true
		return nil, errors.Wrapf(err, CodeChannelFailed, "creating merge pipe %s", c.path)
	}

	// Opening the read end non-blocking returns immediately even though no
	// writer exists yet.
	r, err := os.OpenFile(c.path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		c.release()
		return nil, errors.Wrap(err, CodeChannelFailed, "opening merge pipe reader")
	}
	c.reader = r

	// A reader is now listening, so this open cannot block.
	w, err := os.OpenFile(c.path, os.O_WRONLY, 0)
	if err != nil {
		c.release()
		return nil, errors.Wrap(err, CodeChannelFailed, "opening merge pipe writer")
	}
	c.writer = w

	if err := c.unlink(); err != nil {
		c.release()
		return nil, errors.Wrap(err, CodeChannelFailed, "unlinking merge pipe")
	}

	// The reader starts only once a writer exists; before that a read on
	// the pipe reports end of stream.
	c.started = true
	go c.drain(r)

	return c, nil
}

// Path returns the filesystem path the pipe node was created at. The node
// is already unlinked by the time Open returns.
func (c *Channel) Path() string {
	return c.path
}

// Writer returns the write end to hand to a child as stdout and stderr.
func (c *Channel) Writer() *os.File {
	return c.writer
}

// CloseWriter closes this process's copy of the write end. A child that
// inherited the descriptor keeps writing to its own copy; the reader sees
// end of stream once every copy is closed.
func (c *Channel) CloseWriter() error {
	if c.writer == nil {
		return nil
	}
	err := c.writer.Close()
	c.writer = nil
	return err
}

// Done is closed when the reader has observed end of stream or stopped.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close shuts the channel down: it closes the write end, waits up to the
// drain timeout for the reader to finish, closes the read end and makes
// sure the node is unlinked. It is safe to call more than once and returns
// the reader's error, if any.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		_ = c.CloseWriter()

		if c.started {
			timer := time.NewTimer(c.opts.DrainTimeout)
			select {
			case <-c.done:
			case <-timer.C:
			}
			timer.Stop()
		}

		if c.reader != nil {
			// Closing the read end unblocks a reader still waiting for a
			// writer that never closed.
			_ = c.reader.Close()
			c.reader = nil
		}
		if c.started {
			<-c.done
		}

		_ = c.unlink()
		c.closeErr = c.readErr
	})
	return c.closeErr
}

// Bytes returns a copy of everything read so far.
func (c *Channel) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}

// String returns everything read so far.
func (c *Channel) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Truncated reports whether the captured buffer hit MaxOutput.
func (c *Channel) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

func (c *Channel) drain(r *os.File) {
	defer close(c.done)

	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			c.append(chunk[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.readErr = errors.Wrap(err, CodeChannelFailed, "reading merge pipe")
			}
			return
		}
	}
}

func (c *Channel) append(p []byte) {
	if c.opts.Mirror != nil {
		// The mirror is best effort; a broken terminal must not stop capture.
		_, _ = c.opts.Mirror.Write(p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.MaxOutput <= 0 {
		c.buf.Write(p)
		return
	}
	remaining := c.opts.MaxOutput - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		return
	}
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		return
	}
	c.buf.Write(p)
}

// unlink removes the pipe node exactly once.
func (c *Channel) unlink() error {
	if c.unlinked {
		return nil
	}
	c.unlinked = true
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// release closes any descriptors opened so far and removes the node,
// ignoring errors. Used on Open failure paths.
func (c *Channel) release() {
	if c.writer != nil {
		_ = c.writer.Close()
		c.writer = nil
	}
	if c.reader != nil {
		_ = c.reader.Close()
		c.reader = nil
	}
	_ = c.unlink()
}
