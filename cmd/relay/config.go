package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/matst80/tcprelay/internal/relay"
)

// Config holds all runtime configuration derived from flags and positional arguments.
type Config struct {
	ListenAddr       string
	Target           string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ConnectTimeout   time.Duration
	BufferSize       int
	MetricsAddr      string
	Debug            bool
	LogFile          string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	ConnRate         int
	ClientConnRate   int
	Burst            int
	AcceptBackoffMax time.Duration
}

var errUsage = errors.New("usage")

const usageLine = "usage: relay [flags] <listen_address> <listen_port> <target_address> <target_port>"

// registerFlags binds every flag to cfg. Defaults follow relay.DefaultOptions.
func (cfg *Config) registerFlags(fs *flag.FlagSet) {
	def := relay.DefaultOptions()
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", def.Upstream.Read, "idle window: how long to wait for the next chunk from a peer")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", def.Upstream.Write, "flush window: how long a peer may take to accept data in hand")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", def.ConnectTimeout, "time limit for connecting to the target")
	fs.IntVar(&cfg.BufferSize, "buffer-size", relay.DefaultBufferSize, "per-direction transfer buffer in bytes")
	fs.StringVar(&cfg.MetricsAddr, "metrics", ":9100", "metrics and health listen address (empty disables)")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	fs.StringVar(&cfg.LogFile, "log-file", "", "also write logs to this file, rotated by size")
	fs.StringVar(&cfg.RedisAddr, "redis", "", "redis address for the shared session registry (empty keeps it in memory)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database number")
	fs.IntVar(&cfg.ConnRate, "conn-rate", 0, "global accepted connections per second (0 = unlimited)")
	fs.IntVar(&cfg.ClientConnRate, "client-conn-rate", 0, "accepted connections per second per client IP (0 = unlimited)")
	fs.IntVar(&cfg.Burst, "burst", 10, "rate limiter burst size")
	fs.DurationVar(&cfg.AcceptBackoffMax, "accept-backoff-max", time.Second, "upper bound of the retry delay after accept errors")
}

// parseConfig parses args (without the program name). Usage problems are
// reported on stderr and returned as errUsage; -h returns flag.ErrHelp.
func parseConfig(args []string, stderr io.Writer) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageLine)
		fs.PrintDefaults()
	}
	cfg.registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, errUsage
	}
	if err := cfg.setPositional(fs.Args()); err != nil {
		fmt.Fprintf(stderr, "relay: %v\n", err)
		fs.Usage()
		return nil, errUsage
	}
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(stderr, "relay: %v\n", err)
		fs.Usage()
		return nil, errUsage
	}
	return cfg, nil
}

func (cfg *Config) setPositional(args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("expected 4 arguments, got %d", len(args))
	}
	if _, err := parsePort(args[1], true); err != nil {
		return fmt.Errorf("listen port: %w", err)
	}
	if args[2] == "" {
		return errors.New("target address is empty")
	}
	if _, err := parsePort(args[3], false); err != nil {
		return fmt.Errorf("target port: %w", err)
	}
	cfg.ListenAddr = net.JoinHostPort(args[0], args[1])
	cfg.Target = net.JoinHostPort(args[2], args[3])
	return nil
}

func (cfg *Config) validate() error {
	switch {
	case cfg.ReadTimeout <= 0:
		return errors.New("-read-timeout must be positive")
	case cfg.WriteTimeout <= 0:
		return errors.New("-write-timeout must be positive")
	case cfg.ConnectTimeout <= 0:
		return errors.New("-connect-timeout must be positive")
	case cfg.BufferSize <= 0:
		return errors.New("-buffer-size must be positive")
	case cfg.ConnRate < 0 || cfg.ClientConnRate < 0:
		return errors.New("rate limits cannot be negative")
	}
	return nil
}

func parsePort(s string, allowZero bool) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if p > 65535 || p < 0 || (p == 0 && !allowZero) {
		return 0, fmt.Errorf("%d out of range", p)
	}
	return p, nil
}

// sessionOptions maps the configuration onto relay options. Both directions
// share the same idle and flush windows.
func (cfg *Config) sessionOptions() relay.Options {
	t := relay.Timeouts{Read: cfg.ReadTimeout, Write: cfg.WriteTimeout}
	return relay.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		Upstream:       t,
		Downstream:     t,
		BufferSize:     cfg.BufferSize,
	}
}
