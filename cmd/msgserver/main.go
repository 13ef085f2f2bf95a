// Command msgserver accepts TCP connections and logs every delimiter-terminated
// message it receives. It is a simple target for exercising the relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/matst80/tcprelay/internal/message"
	"github.com/matst80/tcprelay/internal/obs"
	"github.com/matst80/tcprelay/internal/server"
	"github.com/tebeka/atexit"
)

const usageLine = "usage: msgserver [flags] <listen_address> <listen_port>"

var errUsage = errors.New("usage")

type config struct {
	listenAddr string
	delimiter  byte
	maxMessage int
	debug      bool
	logFile    string
}

func parseConfig(args []string, stderr io.Writer) (*config, error) {
	cfg := &config{}
	fs := flag.NewFlagSet("msgserver", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageLine)
		fs.PrintDefaults()
	}
	delim := fs.String("delimiter", string(message.DefaultDelimiter), "single byte terminating every message")
	fs.IntVar(&cfg.maxMessage, "max-message", message.DefaultMaxSize, "maximum message size in bytes, delimiter included")
	fs.BoolVar(&cfg.debug, "debug", false, "enable debug logs")
	fs.StringVar(&cfg.logFile, "log-file", "", "also write logs to this file, rotated by size")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, errUsage
	}

	fail := func(format string, a ...any) (*config, error) {
		fmt.Fprintf(stderr, "msgserver: "+format+"\n", a...)
		fs.Usage()
		return nil, errUsage
	}
	if fs.NArg() != 2 {
		return fail("expected 2 arguments, got %d", fs.NArg())
	}
	if p, err := strconv.Atoi(fs.Arg(1)); err != nil || p < 0 || p > 65535 {
		return fail("listen port: invalid %q", fs.Arg(1))
	}
	if len(*delim) != 1 {
		return fail("-delimiter must be exactly one byte")
	}
	if cfg.maxMessage < 2 {
		return fail("-max-message must be at least 2")
	}
	cfg.delimiter = (*delim)[0]
	cfg.listenAddr = net.JoinHostPort(fs.Arg(0), fs.Arg(1))
	return cfg, nil
}

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
	if cfg.debug {
		obs.EnableDebug(true)
	}
	if cfg.logFile != "" {
		obs.LogToFile(cfg.logFile)
	}

	ln, err := net.Listen("tcp", cfg.listenAddr)
	if err != nil {
		obs.Error("listen", obs.Fields{"err": err, "addr": cfg.listenAddr})
		return 1
	}
	obs.Info("msgserver.ready", obs.Fields{"addr": ln.Addr().String()})
	if err := server.Serve(ctx, ln, cfg.handleConn, time.Second); err != nil {
		obs.Error("msgserver.serve", obs.Fields{"err": err})
		return 1
	}
	return 0
}

// handleConn logs messages from c until it ends or ctx is cancelled.
func (cfg *config) handleConn(ctx context.Context, c net.Conn) {
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	id := uuid.NewString()
	remote := c.RemoteAddr().String()
	obs.Debug("msg.session.start", obs.Fields{"id": id, "remote": remote})
	r := message.NewReader(c, cfg.delimiter, cfg.maxMessage)
	count := 0
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			f := obs.Fields{"id": id, "remote": remote, "messages": count}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				obs.Debug("msg.session.end", f)
			} else {
				f["err"] = err
				obs.Warn("msg.session.end", f)
			}
			return
		}
		count++
		obs.Info("msg.received", obs.Fields{"id": id, "remote": remote, "message": msg})
	}
}
