// Package zktree talks to a ZooKeeper-style hierarchical store.
//
// Client wraps a github.com/go-zookeeper/zk connection with context-aware
// calls, bounded exponential retry of connection-class failures, and error
// values that wrap a small set of sentinels (ErrNotFound, ErrExists,
// ErrVersionConflict, ErrNotEmpty, ErrUnavailable, ErrClosed) so callers can
// classify failures with errors.Is.
//
// Subscribe turns the store's one-shot data and child watches into a single
// ordered stream of Added, Updated and Removed events for a subtree. The
// stream starts with a full replay of the subtree followed by one
// Initialized event.
package zktree
