// Package server runs accept loops that hand every connection to its own goroutine.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/matst80/tcprelay/internal/obs"
)

const minBackoff = 5 * time.Millisecond

// Handler serves one accepted connection and owns it.
type Handler func(ctx context.Context, c net.Conn)

// Serve accepts connections from ln until ctx is cancelled or ln is closed.
// Accept errors are logged and retried with exponential backoff capped at
// maxBackoff; they never end the loop. Serve closes ln on cancellation and
// returns only after every handler has returned.
func Serve(ctx context.Context, ln net.Listener, h Handler, maxBackoff time.Duration) error {
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if backoff == 0 {
				backoff = minBackoff
			} else {
				backoff = min(2*backoff, maxBackoff)
			}
			obs.Warn("accept.error", obs.Fields{"err": err, "addr": ln.Addr().String(), "retry_in": backoff.String()})
			obs.ErrorsTotal.WithLabelValues("accept").Inc()
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		backoff = 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			h(ctx, c)
		}()
	}
}
