package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matst80/tcprelay/internal/obs"
	"github.com/matst80/tcprelay/internal/timed"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateCreated State = iota
	StateConnecting
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Timeouts bounds the blocking operations of one direction.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
}

// Options configures a Session. Zero values fall back to DefaultOptions.
type Options struct {
	ConnectTimeout time.Duration
	Upstream       Timeouts // client -> target
	Downstream     Timeouts // target -> client
	BufferSize     int
	Dialer         timed.ContextDialer // nil dials with a zero net.Dialer
	// OnForward, if set, receives every forwarded chunk size per direction name.
	OnForward func(direction string, n int)
}

// DefaultOptions returns the reference timeouts: a 5s idle window per read,
// a 1s flush window per write and a 5s connect bound.
func DefaultOptions() Options {
	t := Timeouts{Read: 5 * time.Second, Write: time.Second}
	return Options{
		ConnectTimeout: 5 * time.Second,
		Upstream:       t,
		Downstream:     t,
		BufferSize:     DefaultBufferSize,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.Upstream.Read <= 0 {
		o.Upstream.Read = def.Upstream.Read
	}
	if o.Upstream.Write <= 0 {
		o.Upstream.Write = def.Upstream.Write
	}
	if o.Downstream.Read <= 0 {
		o.Downstream.Read = def.Downstream.Read
	}
	if o.Downstream.Write <= 0 {
		o.Downstream.Write = def.Downstream.Write
	}
	if o.BufferSize <= 0 {
		o.BufferSize = def.BufferSize
	}
	return o
}

// Direction names used in results, logs and metrics.
const (
	Upstream   = "upstream"
	Downstream = "downstream"
)

// Result summarizes a finished session. It carries no payload, only what is
// needed to log and count the session.
type Result struct {
	ID         string
	Remote     string
	Target     string
	Reason     Reason
	Err        error
	StoppedBy  string // direction that stopped first; empty on connect failure
	Upstream   int64
	Downstream int64
	Duration   time.Duration
}

// Session relays one inbound connection to a fixed target. It exclusively owns
// both legs and closes them exactly once when Run returns.
type Session struct {
	ID     string
	target string
	opts   Options

	inbound  *onceConn
	outbound *onceConn
	state    atomic.Int32
}

// NewSession takes ownership of inbound.
func NewSession(inbound net.Conn, target string, opts Options) *Session {
	return &Session{
		ID:      uuid.NewString(),
		target:  target,
		opts:    opts.withDefaults(),
		inbound: &onceConn{Conn: inbound},
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run drives the session to completion. It returns once both legs are closed.
// Run must be called at most once.
func (s *Session) Run(ctx context.Context) (res Result) {
	start := time.Now()
	res = Result{ID: s.ID, Remote: remoteAddr(s.inbound), Target: s.target}
	defer func() {
		s.close()
		res.Duration = time.Since(start)
	}()

	s.setState(StateConnecting)
	obs.Debug("session.connecting", obs.Fields{"id": s.ID, "remote": res.Remote, "target": s.target})
	out, err := timed.Dial(ctx, s.opts.Dialer, "tcp", s.target, s.opts.ConnectTimeout)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			res.Err = cerr
			res.Reason = ReasonCancelled
			return res
		}
		res.Err = fmt.Errorf("%w: %w", ErrConnect, err)
		res.Reason = ReasonConnectFailure
		return res
	}
	s.outbound = &onceConn{Conn: out}
	s.setState(StateRelaying)

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type stop struct {
		dir string
		n   int64
		err error
	}
	stops := make(chan stop, 2)
	var wg sync.WaitGroup
	run := func(d Direction) {
		defer wg.Done()
		n, err := Pump(rctx, d, make([]byte, s.opts.BufferSize))
		stops <- stop{dir: d.Name, n: n, err: err}
	}
	wg.Add(2)
	go run(s.direction(Upstream, s.inbound, s.outbound, s.opts.Upstream))
	go run(s.direction(Downstream, s.outbound, s.inbound, s.opts.Downstream))

	first := <-stops
	cancel()
	wg.Wait()
	second := <-stops

	for _, st := range []stop{first, second} {
		if st.dir == Upstream {
			res.Upstream = st.n
		} else {
			res.Downstream = st.n
		}
	}
	res.StoppedBy = first.dir
	res.Err = first.err
	res.Reason = Classify(first.err)
	return res
}

func (s *Session) direction(name string, src, dst net.Conn, t Timeouts) Direction {
	d := Direction{Name: name, Src: src, Dst: dst, ReadTimeout: t.Read, WriteTimeout: t.Write}
	if f := s.opts.OnForward; f != nil {
		d.OnForward = func(n int) { f(name, n) }
	}
	return d
}

func (s *Session) close() {
	_ = s.inbound.Close()
	if s.outbound != nil {
		_ = s.outbound.Close()
	}
	s.setState(StateClosed)
}

// onceConn makes Close idempotent: only the first call reaches the wrapped conn.
type onceConn struct {
	net.Conn
	once sync.Once
	err  error
}

func (c *onceConn) Close() error {
	c.once.Do(func() { c.err = c.Conn.Close() })
	return c.err
}

func remoteAddr(c net.Conn) string {
	if a := c.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
