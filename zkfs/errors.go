package zkfs

import (
	"errors"
	"fmt"
	"syscall"

	"bazil.org/fuse"

	"github.com/dendrascience/zkfuse/zktree"
)

// Kind classifies adapter failures.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindAlreadyExists
	KindUnsupported
	// KindTransient covers remote faults that are neither of the above:
	// connection loss, session expiry, exhausted retries, version conflicts,
	// refusals to delete non-empty nodes, calls outside the running state.
	KindTransient
	// KindTooLarge is a write or truncate past the largest payload the
	// remote tree accepts.
	KindTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindUnsupported:
		return "unsupported"
	case KindTransient:
		return "transient"
	case KindTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// Errno is the filesystem error number for k. Transient failures collapse
// onto ENOENT.
func (k Kind) Errno() syscall.Errno {
	switch k {
	case KindAlreadyExists:
		return syscall.EEXIST
	case KindUnsupported:
		return syscall.ENOTSUP
	case KindTooLarge:
		return syscall.EFBIG
	default:
		return syscall.ENOENT
	}
}

var (
	errNotRunning     = errors.New("filesystem is not running")
	errRename         = errors.New("rename is not supported")
	errNegativeOffset = errors.New("negative offset")
	errTooLarge       = errors.New("payload would exceed the size limit")
)

// Error is returned by every failing Adapter operation.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errno lets the FUSE server reply with the mapped error number.
func (e *Error) Errno() fuse.Errno {
	return fuse.Errno(e.Kind.Errno())
}

var _ fuse.ErrorNumber = (*Error)(nil)

// KindOf returns the Kind of err. Errors that did not come from the adapter
// are Transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// Code converts an operation result to the signed integer contract: 0 for
// success, a negative error number for failure.
func Code(err error) int {
	if err == nil {
		return 0
	}
	return -int(KindOf(err).Errno())
}

// classify maps a remote client error onto a Kind.
func classify(err error) Kind {
	switch {
	case errors.Is(err, zktree.ErrNotFound):
		return KindNotFound
	case errors.Is(err, zktree.ErrExists):
		return KindAlreadyExists
	default:
		return KindTransient
	}
}
