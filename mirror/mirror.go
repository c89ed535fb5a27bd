package mirror

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/dendrascience/zkfuse/util"
	"github.com/dendrascience/zkfuse/zktree"
)

var (
	ErrNotPrimed = errors.New("mirror: subscription ended before the initial snapshot")
	ErrStarted   = errors.New("mirror: already started")
)

// Subscriber delivers ordered change events for a remote subtree.
// *zktree.Client implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, root string) (<-chan zktree.Event, error)
}

// Observer receives mirror telemetry.
type Observer interface {
	MirrorEvent(kind string)
	MirrorNodes(n int)
}

type entry struct {
	node     zktree.Node
	children map[string]struct{}
}

// Mirror is a watch-driven copy of the subtree rooted at a remote path.
type Mirror struct {
	sub      Subscriber
	root     string
	log      *zap.Logger
	observer Observer

	mu    sync.RWMutex
	nodes map[string]*entry

	life     sync.Mutex
	started  bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	primed   chan struct{}
	done     chan struct{}
	stopping chan struct{}
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Mirror) { m.log = l }
}

// WithObserver registers a telemetry sink.
func WithObserver(o Observer) Option {
	return func(m *Mirror) { m.observer = o }
}

// New returns a Mirror of the remote subtree at root. Nothing is fetched
// until Start.
func New(sub Subscriber, root string, opts ...Option) *Mirror {
	m := &Mirror{
		sub:      sub,
		root:     util.Clean(root),
		log:      zap.NewNop(),
		nodes:    make(map[string]*entry),
		primed:   make(chan struct{}),
		done:     make(chan struct{}),
		stopping: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(zap.String("root", m.root))
	return m
}

// Start subscribes to the remote subtree and blocks until the initial snapshot
// has been applied. ctx bounds only the wait; the subscription lives until
// Stop. On error the Mirror is stopped and cannot be restarted.
func (m *Mirror) Start(ctx context.Context) error {
	m.life.Lock()
	if m.started {
		m.life.Unlock()
		return ErrStarted
	}
	m.started = true
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel

	events, err := m.sub.Subscribe(subCtx, m.root)
	if err != nil {
		cancel()
		close(m.done)
		m.life.Unlock()
		return fmt.Errorf("priming mirror of %s: %w", m.root, err)
	}
	go m.run(events)
	m.life.Unlock()

	select {
	case <-m.primed:
		m.log.Info("mirror primed", zap.Int("nodes", m.Len()))
		return nil
	case <-m.done:
		return fmt.Errorf("priming mirror of %s: %w", m.root, ErrNotPrimed)
	case <-ctx.Done():
		_ = m.Stop()
		return fmt.Errorf("priming mirror of %s: %w", m.root, ctx.Err())
	}
}

func (m *Mirror) run(events <-chan zktree.Event) {
	defer close(m.done)
	for ev := range events {
		m.apply(ev)
	}

	select {
	case <-m.stopping:
		return
	default:
	}
	select {
	case <-m.primed:
		m.log.Error("subscription ended, mirror is frozen", zap.Int("nodes", m.Len()))
	default:
	}
}

func (m *Mirror) apply(ev zktree.Event) {
	if m.observer != nil {
		m.observer.MirrorEvent(ev.Type.String())
	}
	if ev.Type == zktree.EventInitialized {
		select {
		case <-m.primed:
		default:
			close(m.primed)
		}
		return
	}

	path, err := util.Relative(m.root, ev.Path)
	if err != nil {
		m.log.Warn("ignoring event outside mirrored subtree", zap.String("path", ev.Path))
		return
	}

	m.mu.Lock()
	switch ev.Type {
	case zktree.EventAdded, zktree.EventUpdated:
		node := ev.Node
		node.Path = path
		e, ok := m.nodes[path]
		if !ok {
			e = &entry{children: make(map[string]struct{})}
			m.nodes[path] = e
			if parent, ok := m.nodes[util.Parent(path)]; ok && path != "/" {
				parent.children[util.Base(path)] = struct{}{}
			}
		}
		e.node = node
	case zktree.EventRemoved:
		m.removeLocked(path)
		if parent, ok := m.nodes[util.Parent(path)]; ok && path != "/" {
			delete(parent.children, util.Base(path))
		}
	}
	n := len(m.nodes)
	m.mu.Unlock()

	m.log.Debug("applied remote change", zap.Stringer("type", ev.Type), zap.String("path", path))
	if m.observer != nil {
		m.observer.MirrorNodes(n)
	}
}

func (m *Mirror) removeLocked(path string) {
	e, ok := m.nodes[path]
	if !ok {
		return
	}
	for name := range e.children {
		m.removeLocked(util.Join(path, name))
	}
	delete(m.nodes, path)
}

// Lookup returns the mirrored node at path. The returned Stat.NumChildren is
// the size of the mirrored child set, so it always agrees with ListChildren.
func (m *Mirror) Lookup(path string) (zktree.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.nodes[util.Clean(path)]
	if !ok {
		return zktree.Node{}, false
	}
	node := e.node
	node.Stat.NumChildren = int32(len(e.children))
	return node, true
}

// ListChildren returns the sorted child names of path.
func (m *Mirror) ListChildren(path string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.nodes[util.Clean(path)]
	if !ok {
		return nil, false
	}
	names := make([]string, 0, len(e.children))
	for name := range e.children {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, true
}

// Len returns the number of mirrored nodes.
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// Walk calls fn for every mirrored node in depth-first, name-sorted order,
// starting at path. Walk holds the read lock; fn must not call back into the
// Mirror.
func (m *Mirror) Walk(path string, fn func(zktree.Node) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.walkLocked(util.Clean(path), fn)
}

func (m *Mirror) walkLocked(path string, fn func(zktree.Node) error) error {
	e, ok := m.nodes[path]
	if !ok {
		return nil
	}
	node := e.node
	node.Stat.NumChildren = int32(len(e.children))
	if err := fn(node); err != nil {
		return err
	}
	names := make([]string, 0, len(e.children))
	for name := range e.children {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := m.walkLocked(util.Join(path, name), fn); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels the subscription and waits for the apply goroutine to exit.
// The mirrored state stays readable. Stop is safe to call more than once and
// before Start.
func (m *Mirror) Stop() error {
	m.stopOnce.Do(func() {
		close(m.stopping)
		m.life.Lock()
		if !m.started {
			m.started = true
			close(m.done)
		}
		cancel := m.cancel
		m.life.Unlock()
		if cancel != nil {
			cancel()
		}
		<-m.done
		m.log.Debug("mirror stopped")
	})
	return nil
}
