package zkfs

import (
	"context"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dendrascience/zkfuse/util"
	"github.com/dendrascience/zkfuse/zktree"
)

// Snapshot is the local read surface of the remote tree. Paths are relative
// to the mount root. *mirror.Mirror and *mirror.Passthrough implement it.
type Snapshot interface {
	Lookup(path string) (zktree.Node, bool)
	ListChildren(path string) ([]string, bool)
}

// Remote is the blocking mutation surface. Paths are absolute remote paths.
// *zktree.Client implements it.
type Remote interface {
	Create(ctx context.Context, path string) error
	Get(ctx context.Context, path string) (zktree.Node, error)
	Set(ctx context.Context, path string, data []byte, version int32) (zktree.Stat, error)
	Delete(ctx context.Context, path string) error
	Close() error
}

// Observer receives per-operation telemetry.
type Observer interface {
	ObserveOp(op, result string, d time.Duration)
}

// Snapshots that need priming implement starter; Init calls Start and
// Destroy calls Stop.
type starter interface {
	Start(ctx context.Context) error
	Stop() error
}

const (
	stateUninitialized int32 = iota
	stateRunning
	stateStopped
)

const (
	dirMode  = os.ModeDir | 0o777
	fileMode = os.FileMode(0o666)
)

// Attr is what Getattr reports for a path.
type Attr struct {
	Inode uint64
	Mode  os.FileMode
	Size  uint64
	Ctime time.Time
	Mtime time.Time
}

// Dir reports whether a describes a directory.
func (a Attr) Dir() bool { return a.Mode.IsDir() }

// Adapter translates filesystem operations into mirror lookups and remote
// mutations. It is safe for concurrent use.
type Adapter struct {
	snap         Snapshot
	remote       Remote
	root         string
	versionCheck bool
	maxPayload   int64
	log          *zap.Logger
	observer     Observer

	state atomic.Int32
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRoot sets the remote path the mount root corresponds to. Default "/".
func WithRoot(root string) Option {
	return func(a *Adapter) { a.root = util.Clean(root) }
}

// WithVersionCheck makes Write and Truncate set the payload only if the node
// is unchanged since it was fetched. It is on by default.
func WithVersionCheck(on bool) Option {
	return func(a *Adapter) { a.versionCheck = on }
}

// DefaultMaxPayload is ZooKeeper's default jute.maxbuffer.
const DefaultMaxPayload = 1 << 20

// WithMaxPayload bounds the payload size Write and Truncate may produce.
// Non-positive values keep the default.
func WithMaxPayload(n int64) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxPayload = n
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// WithObserver registers a telemetry sink.
func WithObserver(o Observer) Option {
	return func(a *Adapter) { a.observer = o }
}

// New returns an uninitialized Adapter. The Adapter owns remote from here on
// and closes it in Destroy.
func New(snap Snapshot, remote Remote, opts ...Option) *Adapter {
	a := &Adapter{
		snap:         snap,
		remote:       remote,
		root:         "/",
		versionCheck: true,
		maxPayload:   DefaultMaxPayload,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Init primes the snapshot and moves the Adapter to the running state. It
// does not return before priming completes; on failure the Adapter stays
// uninitialized and nothing should be mounted.
func (a *Adapter) Init(ctx context.Context) error {
	if s, ok := a.snap.(starter); ok {
		if err := s.Start(ctx); err != nil {
			return &Error{Op: "init", Path: "/", Kind: KindTransient, Err: err}
		}
	}
	if !a.state.CompareAndSwap(stateUninitialized, stateRunning) {
		return &Error{Op: "init", Path: "/", Kind: KindTransient, Err: errNotRunning}
	}
	a.log.Info("filesystem running", zap.String("root", a.root))
	return nil
}

// Destroy stops the snapshot and closes the remote client. Later calls fail
// with KindTransient. It is safe to call more than once.
func (a *Adapter) Destroy() {
	if a.state.Swap(stateStopped) == stateStopped {
		return
	}
	if s, ok := a.snap.(starter); ok {
		if err := s.Stop(); err != nil {
			a.log.Warn("stopping snapshot", zap.Error(err))
		}
	}
	if err := a.remote.Close(); err != nil {
		a.log.Warn("closing remote client", zap.Error(err))
	}
	a.log.Info("filesystem stopped")
}

// Running reports whether the Adapter accepts operations.
func (a *Adapter) Running() bool {
	return a.state.Load() == stateRunning
}

// observe records the outcome of op and converts err into an *Error.
func (a *Adapter) observe(op, path string, start time.Time, err error) error {
	result := "ok"
	if err != nil {
		e, ok := err.(*Error)
		if !ok {
			e = &Error{Op: op, Path: path, Kind: classify(err), Err: err}
		}
		err = e
		result = e.Kind.String()

		fields := []zap.Field{
			zap.String("op", op),
			zap.String("path", path),
			zap.Stringer("kind", e.Kind),
			zap.Error(e.Err),
		}
		if e.Kind == KindTransient {
			a.log.Warn("operation failed", fields...)
		} else {
			a.log.Debug("operation failed", fields...)
		}
	}
	if a.observer != nil {
		a.observer.ObserveOp(op, result, time.Since(start))
	}
	return err
}

func (a *Adapter) checkRunning(op, path string) error {
	if a.state.Load() != stateRunning {
		return &Error{Op: op, Path: path, Kind: KindTransient, Err: errNotRunning}
	}
	return nil
}

func notFound(op, path string) error {
	return &Error{Op: op, Path: path, Kind: KindNotFound, Err: zktree.ErrNotFound}
}

func inode(stat zktree.Stat) uint64 {
	return uint64(stat.Czxid) + 1
}

// Getattr describes path from the snapshot. A node with children is a
// directory; anything else is a file, whatever its payload. The mount root
// is always a directory.
func (a *Adapter) Getattr(path string) (attr Attr, err error) {
	path = util.Clean(path)
	defer func(start time.Time) { err = a.observe("getattr", path, start, err) }(time.Now())
	if err := a.checkRunning("getattr", path); err != nil {
		return Attr{}, err
	}

	node, ok := a.snap.Lookup(path)
	if !ok {
		if path == "/" {
			now := time.Now()
			return Attr{Inode: 1, Mode: dirMode, Ctime: now, Mtime: now}, nil
		}
		return Attr{}, notFound("getattr", path)
	}

	attr = Attr{
		Inode: inode(node.Stat),
		Mode:  fileMode,
		Size:  uint64(len(node.Data)),
		Ctime: node.Stat.Ctime.Truncate(time.Second),
		Mtime: node.Stat.Mtime.Truncate(time.Second),
	}
	if node.Stat.NumChildren > 0 || path == "/" {
		attr.Mode = dirMode
	}
	if path == "/" {
		attr.Inode = 1
	}
	return attr, nil
}

// Readdir lists the child names of path.
func (a *Adapter) Readdir(path string) (names []string, err error) {
	path = util.Clean(path)
	defer func(start time.Time) { err = a.observe("readdir", path, start, err) }(time.Now())
	if err := a.checkRunning("readdir", path); err != nil {
		return nil, err
	}

	names, ok := a.snap.ListChildren(path)
	if !ok {
		return nil, notFound("readdir", path)
	}
	return names, nil
}

// Mkdir creates an empty node at path.
func (a *Adapter) Mkdir(ctx context.Context, path string) error {
	return a.create(ctx, "mkdir", path)
}

// Create creates an empty node at path.
func (a *Adapter) Create(ctx context.Context, path string) error {
	return a.create(ctx, "create", path)
}

func (a *Adapter) create(ctx context.Context, op, path string) (err error) {
	path = util.Clean(path)
	defer func(start time.Time) { err = a.observe(op, path, start, err) }(time.Now())
	if err := a.checkRunning(op, path); err != nil {
		return err
	}

	if _, ok := a.snap.Lookup(path); ok {
		return &Error{Op: op, Path: path, Kind: KindAlreadyExists, Err: zktree.ErrExists}
	}
	// The remote create is the authoritative existence check when two
	// callers race past the snapshot.
	return a.remote.Create(ctx, util.Rebase(a.root, path))
}

// Read returns up to size bytes of the payload of path starting at offset.
// Reading at or past the end returns no bytes.
func (a *Adapter) Read(path string, size int, offset int64) (data []byte, err error) {
	path = util.Clean(path)
	defer func(start time.Time) { err = a.observe("read", path, start, err) }(time.Now())
	if err := a.checkRunning("read", path); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, &Error{Op: "read", Path: path, Kind: KindNotFound, Err: errNegativeOffset}
	}

	node, ok := a.snap.Lookup(path)
	if !ok {
		return nil, notFound("read", path)
	}
	if offset >= int64(len(node.Data)) || size <= 0 {
		return []byte{}, nil
	}
	end := min(offset+int64(size), int64(len(node.Data)))
	return slices.Clone(node.Data[offset:end]), nil
}

// Write stores data at offset in the payload of path, growing the payload
// and zero-filling any gap as needed. It returns len(data).
func (a *Adapter) Write(ctx context.Context, path string, data []byte, offset int64) (n int, err error) {
	path = util.Clean(path)
	defer func(start time.Time) { err = a.observe("write", path, start, err) }(time.Now())
	if err := a.checkRunning("write", path); err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, &Error{Op: "write", Path: path, Kind: KindNotFound, Err: errNegativeOffset}
	}
	if offset > a.maxPayload || int64(len(data)) > a.maxPayload-offset {
		return 0, &Error{Op: "write", Path: path, Kind: KindTooLarge, Err: errTooLarge}
	}

	err = a.modify(ctx, path, func(payload []byte) []byte {
		end := offset + int64(len(data))
		if end > int64(len(payload)) {
			grown := make([]byte, end)
			copy(grown, payload)
			payload = grown
		}
		copy(payload[offset:], data)
		return payload
	})
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// Truncate resizes the payload of path to exactly size bytes.
func (a *Adapter) Truncate(ctx context.Context, path string, size int64) (err error) {
	path = util.Clean(path)
	defer func(start time.Time) { err = a.observe("truncate", path, start, err) }(time.Now())
	if err := a.checkRunning("truncate", path); err != nil {
		return err
	}
	if size < 0 {
		return &Error{Op: "truncate", Path: path, Kind: KindNotFound, Err: errNegativeOffset}
	}
	if size > a.maxPayload {
		return &Error{Op: "truncate", Path: path, Kind: KindTooLarge, Err: errTooLarge}
	}

	return a.modify(ctx, path, func(payload []byte) []byte {
		if size <= int64(len(payload)) {
			return payload[:size]
		}
		grown := make([]byte, size)
		copy(grown, payload)
		return grown
	})
}

// modify is one read-modify-write cycle against the remote tree. fn owns the
// slice it is given.
func (a *Adapter) modify(ctx context.Context, path string, fn func([]byte) []byte) error {
	remotePath := util.Rebase(a.root, path)
	node, err := a.remote.Get(ctx, remotePath)
	if err != nil {
		return err
	}

	version := zktree.AnyVersion
	if a.versionCheck {
		version = node.Stat.Version
	}
	_, err = a.remote.Set(ctx, remotePath, fn(node.Data), version)
	return err
}

// Unlink removes the node at path.
func (a *Adapter) Unlink(ctx context.Context, path string) error {
	return a.delete(ctx, "unlink", path)
}

// Rmdir removes the node at path. Whether a node with children may be
// removed is decided by the remote tree.
func (a *Adapter) Rmdir(ctx context.Context, path string) error {
	return a.delete(ctx, "rmdir", path)
}

func (a *Adapter) delete(ctx context.Context, op, path string) (err error) {
	path = util.Clean(path)
	defer func(start time.Time) { err = a.observe(op, path, start, err) }(time.Now())
	if err := a.checkRunning(op, path); err != nil {
		return err
	}
	return a.remote.Delete(ctx, util.Rebase(a.root, path))
}

// Rename always fails with KindUnsupported.
func (a *Adapter) Rename(oldPath, newPath string) (err error) {
	oldPath = util.Clean(oldPath)
	defer func(start time.Time) { err = a.observe("rename", oldPath, start, err) }(time.Now())
	return &Error{Op: "rename", Path: oldPath + " -> " + util.Clean(newPath), Kind: KindUnsupported, Err: errRename}
}
