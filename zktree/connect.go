package zktree

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"
)

// Config describes how to reach the remote tree.
type Config struct {
	Servers        []string
	SessionTimeout time.Duration
	Retry          RetryPolicy
}

// ParseConnectString splits a ZooKeeper connect string such as
// "zk1:2181,zk2:2181/app" into its server list and optional chroot.
func ParseConnectString(s string) (servers []string, chroot string, err error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s, chroot = s[:i], s[i:]
	}
	for _, server := range strings.Split(s, ",") {
		server = strings.TrimSpace(server)
		if server != "" {
			servers = append(servers, server)
		}
	}
	if len(servers) == 0 {
		return nil, "", fmt.Errorf("connect string %q names no servers", s)
	}
	if chroot == "" {
		chroot = "/"
	}
	return servers, chroot, nil
}

type zkLogger struct {
	s *zap.SugaredLogger
}

func (l zkLogger) Printf(format string, args ...any) {
	l.s.Debugf(format, args...)
}

// Dial connects to the servers in cfg and blocks until a session is
// established or ctx is done. Session state changes are logged for the
// lifetime of the connection.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	c := NewClient(nil, append([]Option{WithRetryPolicy(cfg.Retry)}, opts...)...)
	log := c.log

	conn, events, err := zk.Connect(cfg.Servers, cfg.SessionTimeout,
		zk.WithLogger(zkLogger{s: log.Named("zk").Sugar()}))
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %v: %w", ErrUnavailable, cfg.Servers, err)
	}

	if err := waitForSession(ctx, events); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v: %w", ErrUnavailable, cfg.Servers, err)
	}
	log.Info("connected to remote tree", zap.Strings("servers", cfg.Servers))

	go func() {
		for ev := range events {
			if ev.Type != zk.EventSession {
				continue
			}
			switch ev.State {
			case zk.StateExpired, zk.StateDisconnected, zk.StateAuthFailed:
				log.Warn("remote session state changed", zap.Stringer("state", ev.State))
			default:
				log.Debug("remote session state changed", zap.Stringer("state", ev.State))
			}
		}
	}()

	c.conn = conn
	return c, nil
}

// waitForSession consumes session events until the connection has a session.
func waitForSession(ctx context.Context, events <-chan zk.Event) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for session: %w", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("event channel closed before a session was established")
			}
			switch ev.State {
			case zk.StateHasSession:
				return nil
			case zk.StateAuthFailed:
				return fmt.Errorf("authentication failed")
			}
		}
	}
}
