package timed

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestReadCompletes(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	go func() { _, _ = b.Write([]byte("hello")) }()

	buf := make([]byte, 16)
	n, err := Read(context.Background(), a, buf, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestReadAfterPeerClosedIsEOF(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	b.Close()

	n, err := Read(context.Background(), a, make([]byte, 8), time.Second)
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Fatalf("n=%d err=%v, want EOF", n, err)
	}
}

func TestReadAfterLocalCloseIsClosedPipe(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	a.Close()

	if _, err := Read(context.Background(), a, make([]byte, 8), time.Second); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("err=%v, want closed pipe", err)
	}
}

func TestReadTimesOut(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	start := time.Now()
	_, err := Read(context.Background(), a, make([]byte, 8), 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if el := time.Since(start); el < 50*time.Millisecond || el > time.Second {
		t.Fatalf("timeout fired after %v", el)
	}
}

func TestReadDeadlineResetBetweenCalls(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	if _, err := Read(context.Background(), a, make([]byte, 8), 20*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	go func() { _, _ = b.Write([]byte("x")) }()
	n, err := Read(context.Background(), a, make([]byte, 8), time.Second)
	if err != nil || n != 1 {
		t.Fatalf("second read: n=%d err=%v", n, err)
	}
}

func TestReadCancelled(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	start := time.Now()
	_, err := Read(ctx, a, make([]byte, 8), 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation did not interrupt the read promptly")
	}
}

func TestReadAlreadyCancelledDoesNoIO(t *testing.T) {
	r := &countingReader{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Read(ctx, r, make([]byte, 8), time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if r.calls.Load() != 0 {
		t.Fatalf("read attempted after cancellation")
	}
}

func TestWriteTimesOutWhenPeerNeverDrains(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	_, err := Write(context.Background(), a, []byte("stuck"), 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWriteAll(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	got := make(chan []byte, 1)
	go func() {
		buf, _ := io.ReadAll(io.LimitReader(b, 6))
		got <- buf
	}()
	n, err := Write(context.Background(), a, []byte("abcdef"), time.Second)
	if err != nil || n != 6 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if s := string(<-got); s != "abcdef" {
		t.Fatalf("peer got %q", s)
	}
}

func TestReadFallbackWithoutDeadlines(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	_, err := Read(context.Background(), pr, make([]byte, 8), 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	// the interrupted reader was closed, so the writer side observes it
	if _, err := pw.Write([]byte("late")); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected closed pipe, got %v", err)
	}
}

func TestDoReportsOperationError(t *testing.T) {
	boom := errors.New("reset by peer")
	err := Do(context.Background(), time.Second, func() error { return boom }, func() {})
	if !errors.Is(err, boom) || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected operation error, got %v", err)
	}
}

func TestDoAwaitsLoser(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	err := Do(context.Background(), 20*time.Millisecond, func() error {
		<-release
		finished.Store(true)
		return nil
	}, func() { close(release) })
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !finished.Load() {
		t.Fatal("Do returned before the interrupted operation finished")
	}
}

func TestDialConnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()
	c, err := Dial(context.Background(), nil, "tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.Close()
}

func TestDialRefusedIsNotTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), nil, "tcp", addr, time.Second)
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected a connect error, got %v", err)
	}
}

func TestDialTimeout(t *testing.T) {
	d := &net.Dialer{
		ControlContext: func(ctx context.Context, _, _ string, _ syscall.RawConn) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	_, err := Dial(context.Background(), d, "tcp", "127.0.0.1:9", 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

type countingReader struct{ calls atomic.Int32 }

func (c *countingReader) Read(p []byte) (int, error) {
	c.calls.Add(1)
	return 0, io.EOF
}
