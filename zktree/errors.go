package zktree

import (
	"errors"
	"fmt"

	"github.com/go-zookeeper/zk"
)

// Sentinel errors for package zktree. Errors returned by Client wrap one of
// these together with the underlying zk error.
var (
	ErrNotFound        = errors.New("zktree: node does not exist")
	ErrExists          = errors.New("zktree: node already exists")
	ErrVersionConflict = errors.New("zktree: node was modified concurrently")
	ErrNotEmpty        = errors.New("zktree: node has children")
	ErrUnavailable     = errors.New("zktree: remote tree unavailable")
	ErrClosed          = errors.New("zktree: client closed")
)

// translate maps a zk error onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, zk.ErrNodeExists):
		return fmt.Errorf("%w: %w", ErrExists, err)
	case errors.Is(err, zk.ErrBadVersion):
		return fmt.Errorf("%w: %w", ErrVersionConflict, err)
	case errors.Is(err, zk.ErrNotEmpty):
		return fmt.Errorf("%w: %w", ErrNotEmpty, err)
	case errors.Is(err, zk.ErrClosing):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

// retryable reports whether err is a connection-class fault worth another attempt.
func retryable(err error) bool {
	return errors.Is(err, zk.ErrConnectionClosed) ||
		errors.Is(err, zk.ErrNoServer) ||
		errors.Is(err, zk.ErrSessionExpired) ||
		errors.Is(err, zk.ErrSessionMoved)
}
