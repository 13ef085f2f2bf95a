package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/matst80/tcprelay/internal/timed"
)

// DefaultBufferSize is the per-direction transfer buffer capacity.
const DefaultBufferSize = 1024

// Direction describes one pump: bytes flow from Src to Dst.
type Direction struct {
	Name         string
	Src          io.Reader
	Dst          io.Writer
	ReadTimeout  time.Duration // idle window
	WriteTimeout time.Duration // flush window
	// OnForward, if set, is called after every successful write with the chunk size.
	OnForward func(n int)
}

// Pump forwards bytes from d.Src to d.Dst until end of stream, an error, a
// timeout or cancellation of ctx. buf is owned by the pump for its whole run.
// A clean end of stream returns a nil error; everything else is classified by
// Classify.
func Pump(ctx context.Context, d Direction, buf []byte) (int64, error) {
	if len(buf) == 0 {
		buf = make([]byte, DefaultBufferSize)
	}
	var total int64
	for {
		n, rerr := timed.Read(ctx, d.Src, buf, d.ReadTimeout)
		if rerr != nil && (errors.Is(rerr, timed.ErrTimeout) || ctx.Err() != nil) {
			// late bytes from a timed out or cancelled read are discarded
			return total, readStop(ctx, rerr)
		}
		if n > 0 {
			w, werr := timed.Write(ctx, d.Dst, buf[:n], d.WriteTimeout)
			total += int64(w)
			if werr != nil {
				return total, writeStop(ctx, werr)
			}
			if d.OnForward != nil {
				d.OnForward(n)
			}
		}
		switch {
		case rerr != nil:
			return total, readStop(ctx, rerr)
		case n == 0:
			return total, nil
		}
	}
}

func readStop(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, timed.ErrTimeout):
		return ErrIdleTimeout
	default:
		return fmt.Errorf("read: %w", err)
	}
}

func writeStop(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, timed.ErrTimeout):
		return ErrFlushTimeout
	default:
		return fmt.Errorf("write: %w", err)
	}
}
