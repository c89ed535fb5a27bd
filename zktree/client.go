package zktree

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"
)

// Conn is the part of *zk.Conn used by Client. It is satisfied by *zk.Conn
// and by the in-memory server in internal/treetest.
type Conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Get(path string) ([]byte, *zk.Stat, error)
	GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error)
	Children(path string) ([]string, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Delete(path string, version int32) error
	Close()
}

// Observer receives remote client telemetry.
type Observer interface {
	RemoteRetry(op string)
}

// AnyVersion disables the optimistic version check on Set.
const AnyVersion int32 = -1

// Client performs blocking operations against the remote tree. Every method
// retries connection-class failures according to the RetryPolicy and returns
// errors wrapping the package sentinels. Client is safe for concurrent use.
type Client struct {
	conn     Conn
	retry    RetryPolicy
	log      *zap.Logger
	observer Observer

	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithObserver registers a telemetry sink.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient wraps an established connection.
func NewClient(conn Conn, opts ...Option) *Client {
	c := &Client{
		conn:  conn,
		retry: DefaultRetryPolicy(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, op, path string, fn func() error) error {
	err := c.retry.do(ctx, fn, func(attempt int, err error) {
		c.log.Debug("retrying remote operation",
			zap.String("op", op),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if c.observer != nil {
			c.observer.RemoteRetry(op)
		}
	})
	return translate(err)
}

// Exists reports whether a node exists at path.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	var ok bool
	err := c.do(ctx, "exists", path, func() error {
		var err error
		ok, _, err = c.conn.Exists(path)
		return err
	})
	return ok, err
}

// Create creates an empty persistent node. The parent must exist.
//
// A create whose reply is lost to a connection fault may already have been
// applied, so ErrNodeExists on a retry counts as success. A concurrent
// creator racing the retry is indistinguishable from that case.
func (c *Client) Create(ctx context.Context, path string) error {
	attempt := 0
	return c.do(ctx, "create", path, func() error {
		attempt++
		_, err := c.conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll))
		if attempt > 1 && errors.Is(err, zk.ErrNodeExists) {
			return nil
		}
		return err
	})
}

// Get fetches the payload and metadata of path.
func (c *Client) Get(ctx context.Context, path string) (Node, error) {
	node := Node{Path: path}
	err := c.do(ctx, "get", path, func() error {
		data, stat, err := c.conn.Get(path)
		if err != nil {
			return err
		}
		node.Data = data
		node.Stat = statFromZK(stat)
		return nil
	})
	return node, err
}

// Set replaces the payload of path. Passing AnyVersion skips the version check.
func (c *Client) Set(ctx context.Context, path string, data []byte, version int32) (Stat, error) {
	var stat Stat
	err := c.do(ctx, "set", path, func() error {
		s, err := c.conn.Set(path, data, version)
		if err != nil {
			return err
		}
		stat = statFromZK(s)
		return nil
	})
	return stat, err
}

// Delete removes path regardless of its version. The remote tree refuses to
// delete nodes that still have children.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, "delete", path, func() error {
		return c.conn.Delete(path, AnyVersion)
	})
}

// Children lists the child names of path in sorted order.
func (c *Client) Children(ctx context.Context, path string) ([]string, error) {
	var children []string
	err := c.do(ctx, "children", path, func() error {
		var err error
		children, _, err = c.conn.Children(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(children)
	return children, nil
}

// Close releases the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.conn.Close()
		c.log.Debug("remote client closed")
	})
	return nil
}
