package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matst80/tcprelay/internal/obs"
	"github.com/matst80/tcprelay/internal/server"
	"github.com/tebeka/atexit"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	atexit.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	if cfg.LogFile != "" {
		obs.LogToFile(cfg.LogFile)
	}
	obs.Info("relay.start", obs.Fields{
		"listen": cfg.ListenAddr, "target": cfg.Target, "metrics": cfg.MetricsAddr,
		"read_timeout": cfg.ReadTimeout.String(), "write_timeout": cfg.WriteTimeout.String(),
	})

	state, err := newStateStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		obs.Error("state.init", obs.Fields{"err": err})
		return 1
	}
	if rs, ok := state.(*redisStateStore); ok {
		defer rs.Close()
		go rs.startMaintenance(ctx)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		obs.Error("listen", obs.Fields{"err": err, "addr": cfg.ListenAddr})
		return 1
	}

	// Start metrics / health server (readiness will be false until the accept loop starts)
	if cfg.MetricsAddr != "" {
		go startMetricsServer(ctx, cfg.MetricsAddr, state)
	}

	srv := newRelayServer(cfg, state)
	if srv.limiter != nil {
		go runCleanupLoop(ctx, srv.limiter, time.Minute, 5*time.Minute)
	}

	stopClosing := context.AfterFunc(ctx, func() { state.setClosing(true) })
	defer stopClosing()
	state.setReady(true)
	obs.Info("relay.ready", obs.Fields{"addr": ln.Addr().String()})
	err = server.Serve(ctx, ln, srv.handleConn, cfg.AcceptBackoffMax)
	if err != nil {
		obs.Error("relay.serve", obs.Fields{"err": err})
		return 1
	}
	obs.Info("relay.shutdown.complete", obs.Fields{})
	return 0
}
