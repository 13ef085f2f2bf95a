package main

import (
	"context"
	"net"
	"time"

	"github.com/matst80/tcprelay/internal/obs"
	"github.com/matst80/tcprelay/internal/ratelimit"
	"github.com/matst80/tcprelay/internal/relay"
)

// relayServer turns accepted connections into relay sessions.
type relayServer struct {
	cfg     *Config
	state   StateStore
	limiter *ratelimit.Limiter
	opts    relay.Options
}

func newRelayServer(cfg *Config, state StateStore) *relayServer {
	opts := cfg.sessionOptions()
	up := obs.BytesForwardedTotal.WithLabelValues(relay.Upstream)
	down := obs.BytesForwardedTotal.WithLabelValues(relay.Downstream)
	opts.OnForward = func(dir string, n int) {
		if dir == relay.Upstream {
			up.Add(float64(n))
		} else {
			down.Add(float64(n))
		}
	}
	s := &relayServer{cfg: cfg, state: state, opts: opts}
	if cfg.ConnRate > 0 || cfg.ClientConnRate > 0 {
		s.limiter = ratelimit.New(cfg.ConnRate, cfg.ClientConnRate, cfg.Burst)
	}
	return s
}

// handleConn owns c: it either rejects it or runs one session to completion.
func (s *relayServer) handleConn(ctx context.Context, c net.Conn) {
	if s.limiter != nil && !s.limiter.Allow(remoteIP(c)) {
		obs.Warn("session.rejected", obs.Fields{"remote": c.RemoteAddr().String()})
		obs.RejectedTotal.Inc()
		s.state.incrementRejected()
		_ = c.Close()
		return
	}

	sess := relay.NewSession(c, s.cfg.Target, s.opts)
	info := sessionInfo{ID: sess.ID, Remote: c.RemoteAddr().String(), Target: s.cfg.Target, Started: time.Now()}
	// registration runs beside the session; a slow store must not delay the dial
	registered := make(chan struct{})
	go func() {
		defer close(registered)
		if err := s.state.sessionStarted(info); err != nil {
			obs.Error("state.session_start", obs.Fields{"err": err, "id": sess.ID})
			obs.ErrorsTotal.WithLabelValues("state").Inc()
		}
	}()
	obs.ActiveSessions.Inc()
	obs.SessionsTotal.Inc()
	obs.Debug("session.start", obs.Fields{"id": sess.ID, "remote": info.Remote, "target": info.Target})

	res := sess.Run(ctx)

	obs.ActiveSessions.Dec()
	obs.SessionEndsTotal.WithLabelValues(res.Reason.String()).Inc()
	obs.SessionDurationSeconds.Observe(res.Duration.Seconds())
	logSessionEnd(res)
	<-registered
	s.state.sessionEnded(res)
}

// logSessionEnd attributes the end of a session. Idle timeouts and clean closes
// are expected, a flush timeout points at a stuck peer, the rest are failures.
func logSessionEnd(res relay.Result) {
	f := obs.Fields{
		"id":          res.ID,
		"remote":      res.Remote,
		"target":      res.Target,
		"reason":      res.Reason.String(),
		"stopped_by":  res.StoppedBy,
		"bytes_up":    res.Upstream,
		"bytes_down":  res.Downstream,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		f["err"] = res.Err
	}
	switch res.Reason {
	case relay.ReasonFlushTimeout:
		obs.Warn("session.end", f)
	case relay.ReasonConnectFailure:
		obs.ErrorsTotal.WithLabelValues("connect").Inc()
		obs.Error("session.end", f)
	case relay.ReasonStreamError:
		obs.Error("session.end", f)
	default:
		obs.Debug("session.end", f)
	}
}

// remoteIP extracts IP portion from remote address.
func remoteIP(c net.Conn) string {
	h, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return h
}

func runCleanupLoop(ctx context.Context, limiter *ratelimit.Limiter, interval, idle time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pruneLimiter(limiter, idle)
		}
	}
}

// pruneLimiter drops idle client buckets and publishes how many remain.
func pruneLimiter(limiter *ratelimit.Limiter, idle time.Duration) int {
	n := limiter.Prune(idle)
	if n > 0 {
		obs.Debug("ratelimit.prune", obs.Fields{"removed": n})
	}
	obs.RateLimitedClients.Set(float64(limiter.Clients()))
	return n
}
