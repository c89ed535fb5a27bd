package mirror

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dendrascience/zkfuse/util"
	"github.com/dendrascience/zkfuse/zktree"
)

// Reader is the remote read surface used by Passthrough.
type Reader interface {
	Get(ctx context.Context, path string) (zktree.Node, error)
	Children(ctx context.Context, path string) ([]string, error)
}

// Passthrough answers Lookup and ListChildren with remote calls instead of a
// cached copy. Every failure, including connection loss, reads as absent.
type Passthrough struct {
	remote  Reader
	root    string
	timeout time.Duration
	log     *zap.Logger
}

// NewPassthrough returns an uncached view of the subtree at root. Each call
// is bounded by timeout; zero means no bound beyond the client's retries.
func NewPassthrough(remote Reader, root string, timeout time.Duration, log *zap.Logger) *Passthrough {
	if log == nil {
		log = zap.NewNop()
	}
	return &Passthrough{remote: remote, root: util.Clean(root), timeout: timeout, log: log}
}

func (p *Passthrough) context() (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), p.timeout)
}

// Lookup fetches the node at path.
func (p *Passthrough) Lookup(path string) (zktree.Node, bool) {
	ctx, cancel := p.context()
	defer cancel()

	path = util.Clean(path)
	node, err := p.remote.Get(ctx, util.Rebase(p.root, path))
	if err != nil {
		p.log.Debug("passthrough lookup failed", zap.String("path", path), zap.Error(err))
		return zktree.Node{}, false
	}
	node.Path = path
	return node, true
}

// ListChildren fetches the sorted child names of path.
func (p *Passthrough) ListChildren(path string) ([]string, bool) {
	ctx, cancel := p.context()
	defer cancel()

	path = util.Clean(path)
	names, err := p.remote.Children(ctx, util.Rebase(p.root, path))
	if err != nil {
		p.log.Debug("passthrough list failed", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return names, true
}
