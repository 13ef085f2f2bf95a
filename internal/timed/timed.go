// Package timed bounds single blocking I/O operations with a deadline.
//
// Every operation races against a timer and a context. Whichever side loses is
// interrupted and awaited before the call returns, so an operation is never
// left running in the background and its late result is always discarded.
package timed

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// ErrTimeout is returned when the operation did not finish before its deadline.
var ErrTimeout = errors.New("timed: operation timed out")

// aLongTimeAgo is a deadline in the past used to unblock pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Do runs op and returns its error unless timeout elapses or ctx is done first.
// In that case interrupt is called to force op to return, Do waits for it and
// reports ErrTimeout or ctx.Err(). A non-positive timeout disables the timer.
func Do(ctx context.Context, timeout time.Duration, op func() error, interrupt func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- op() }()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case err := <-done:
		return err
	case <-expired:
		interrupt()
		<-done
		return ErrTimeout
	case <-ctx.Done():
		interrupt()
		<-done
		return ctx.Err()
	}
}

// Read performs a single read-some on r into buf bounded by timeout.
// Streams with read deadlines use them directly; anything else falls back to Do
// with Close as the interrupt.
func Read(ctx context.Context, r io.Reader, buf []byte, timeout time.Duration) (int, error) {
	if d, ok := r.(readDeadliner); ok {
		return withDeadline(ctx, d.SetReadDeadline, timeout, func() (int, error) { return r.Read(buf) })
	}
	var n int
	err := Do(ctx, timeout, func() error {
		var err error
		n, err = r.Read(buf)
		return err
	}, closer(r))
	if err != nil && (errors.Is(err, ErrTimeout) || ctx.Err() != nil) {
		return 0, err
	}
	return n, err
}

// Write writes all of p to w bounded by timeout. A partial write is always
// accompanied by an error.
func Write(ctx context.Context, w io.Writer, p []byte, timeout time.Duration) (int, error) {
	if d, ok := w.(writeDeadliner); ok {
		return withDeadline(ctx, d.SetWriteDeadline, timeout, func() (int, error) { return writeAll(w, p) })
	}
	var n int
	err := Do(ctx, timeout, func() error {
		var err error
		n, err = writeAll(w, p)
		return err
	}, closer(w))
	return n, err
}

// ContextDialer is implemented by *net.Dialer.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Dial connects to addr, giving up after timeout. A timeout is reported as
// ErrTimeout; cancellation of ctx as ctx.Err(). A nil d uses a zero net.Dialer.
func Dial(ctx context.Context, d ContextDialer, network, addr string, timeout time.Duration) (net.Conn, error) {
	if d == nil {
		d = &net.Dialer{}
	}
	dctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	c, err := d.DialContext(dctx, network, addr)
	if err == nil {
		return c, nil
	}
	if perr := ctx.Err(); perr != nil {
		return nil, perr
	}
	if dctx.Err() != nil {
		return nil, ErrTimeout
	}
	return nil, err
}

// withDeadline runs op with the stream deadline armed to now+timeout. If ctx is
// cancelled first the deadline is moved into the past so op returns promptly.
func withDeadline(ctx context.Context, set func(time.Time) error, timeout time.Duration, op func() (int, error)) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := set(deadline); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
			// one end is gone: op cannot block, and only it can tell EOF from a local close
			return op()
		}
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() { _ = set(aLongTimeAgo) })
	n, err := op()
	if !stop() && ctx.Err() != nil {
		// the interrupt ran (or is running): the result belongs to a cancelled caller
		return n, ctx.Err()
	}
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		if cerr := ctx.Err(); cerr != nil {
			return n, cerr
		}
		return n, ErrTimeout
	}
	return n, err
}

func writeAll(w io.Writer, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := w.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

func closer(v any) func() {
	if c, ok := v.(io.Closer); ok {
		return func() { _ = c.Close() }
	}
	return func() {}
}
