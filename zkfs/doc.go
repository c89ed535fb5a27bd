// Package zkfs implements a FUSE filesystem over a ZooKeeper subtree.
//
// The Adapter translates path-based filesystem operations into reads of a
// Snapshot (normally a primed mirror.Mirror) and blocking mutations on the
// remote tree. FS and Node expose an Adapter through bazil.org/fuse.
//
// Key Features:
//   - Nodes with children are directories (mode 0777), all others are files (mode 0666)
//   - Reads, lookups and listings never leave the process
//   - Writes are read-modify-write with an optimistic version check
//   - Inodes are derived from the node's creation transaction and are stable
//   - Every failure is an *Error carrying a Kind that maps onto an errno
//
// Changes made through the mount become visible once the remote change
// notification reaches the mirror. Rename is not supported.
//
// The main entry points are New, which builds an Adapter, and NewFS, which
// wraps a running Adapter for fs.Serve.
package zkfs
