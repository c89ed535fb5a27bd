package zktree

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dendrascience/zkfuse/util"
	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"
)

// Subscribe replays the subtree rooted at root as EventAdded events (parents
// before children), sends one EventInitialized, and then delivers changes
// until ctx is done or the connection stops watching. The returned channel is
// closed when the subscription ends.
//
// Events are produced by a single goroutine and are never reordered or
// coalesced. Removals are delivered deepest first.
func (c *Client) Subscribe(ctx context.Context, root string) (<-chan Event, error) {
	ok, err := c.Exists(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", root, err)
	}
	if !ok {
		return nil, fmt.Errorf("subscribing to %s: %w", root, ErrNotFound)
	}

	w := &watcher{
		conn:  c.conn,
		root:  root,
		log:   c.log.With(zap.String("root", root)),
		out:   make(chan Event, 256),
		fired: make(chan firing, 256),
		nodes: make(map[string]*tracked),
	}
	go w.run(ctx)
	return w.out, nil
}

type watchKind int

const (
	dataWatch watchKind = iota
	childWatch
)

// firing is a zk watch event tagged with the watch that produced it.
type firing struct {
	kind watchKind
	gen  uint64
	ev   zk.Event
}

// tracked is the watcher's view of one remote node. gen changes every time
// the node is (re)loaded so firings from a previous incarnation are dropped.
type tracked struct {
	gen      uint64
	mzxid    int64
	czxid    int64
	children map[string]struct{}
}

type watcher struct {
	conn  Conn
	root  string
	log   *zap.Logger
	out   chan Event
	fired chan firing
	nodes map[string]*tracked
	gen   uint64
}

var errStopped = errors.New("subscription stopped")

func (w *watcher) run(ctx context.Context) {
	defer close(w.out)

	if err := w.load(ctx, w.root); err != nil {
		w.log.Error("initial tree replay failed", zap.Error(err))
		return
	}
	if err := w.emit(ctx, Event{Type: EventInitialized, Path: w.root}); err != nil {
		return
	}
	w.log.Debug("initial tree replay complete", zap.Int("nodes", len(w.nodes)))

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-w.fired:
			if err := w.handle(ctx, f); err != nil {
				if !errors.Is(err, errStopped) {
					w.log.Error("subscription dropped", zap.Error(err))
				}
				return
			}
		}
	}
}

func (w *watcher) emit(ctx context.Context, ev Event) error {
	select {
	case w.out <- ev:
		return nil
	case <-ctx.Done():
		return errStopped
	}
}

// forward relays a one-shot watch channel into the shared firing queue.
func (w *watcher) forward(ctx context.Context, kind watchKind, gen uint64, ch <-chan zk.Event) {
	go func() {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			select {
			case w.fired <- firing{kind: kind, gen: gen, ev: ev}:
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}()
}

func (w *watcher) handle(ctx context.Context, f firing) error {
	if f.ev.Type == zk.EventNotWatching {
		return fmt.Errorf("%w: watches removed for %s: %v", ErrUnavailable, f.ev.Path, f.ev.Err)
	}

	t, ok := w.nodes[f.ev.Path]
	if !ok || t.gen != f.gen {
		return nil
	}

	switch f.kind {
	case dataWatch:
		return w.refreshData(ctx, f.ev.Path, t)
	default:
		return w.refreshChildren(ctx, f.ev.Path, t)
	}
}

// load starts tracking path and everything below it.
func (w *watcher) load(ctx context.Context, path string) error {
	if _, ok := w.nodes[path]; ok {
		return nil
	}

	data, stat, dataCh, err := w.conn.GetW(path)
	if errors.Is(err, zk.ErrNoNode) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}
	children, _, childCh, err := w.conn.ChildrenW(path)
	if errors.Is(err, zk.ErrNoNode) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("watching children of %s: %w", path, err)
	}

	w.gen++
	t := &tracked{
		gen:      w.gen,
		mzxid:    stat.Mzxid,
		czxid:    stat.Czxid,
		children: make(map[string]struct{}, len(children)),
	}
	for _, name := range children {
		t.children[name] = struct{}{}
	}
	w.nodes[path] = t
	if parent, ok := w.nodes[util.Parent(path)]; ok && path != w.root {
		parent.children[util.Base(path)] = struct{}{}
	}

	if err := w.emit(ctx, Event{
		Type: EventAdded,
		Path: path,
		Node: Node{Path: path, Data: data, Stat: statFromZK(stat)},
	}); err != nil {
		return err
	}
	w.forward(ctx, dataWatch, t.gen, dataCh)
	w.forward(ctx, childWatch, t.gen, childCh)

	slices.Sort(children)
	for _, name := range children {
		if err := w.load(ctx, util.Join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func (w *watcher) refreshData(ctx context.Context, path string, t *tracked) error {
	data, stat, ch, err := w.conn.GetW(path)
	if errors.Is(err, zk.ErrNoNode) {
		return w.remove(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("rewatching %s: %w", path, err)
	}
	w.forward(ctx, dataWatch, t.gen, ch)

	if stat.Czxid != t.czxid {
		// Deleted and recreated between two reads: start over.
		if err := w.remove(ctx, path); err != nil {
			return err
		}
		return w.load(ctx, path)
	}
	if stat.Mzxid == t.mzxid {
		return nil
	}
	t.mzxid = stat.Mzxid
	return w.emit(ctx, Event{
		Type: EventUpdated,
		Path: path,
		Node: Node{Path: path, Data: data, Stat: statFromZK(stat)},
	})
}

func (w *watcher) refreshChildren(ctx context.Context, path string, t *tracked) error {
	children, _, ch, err := w.conn.ChildrenW(path)
	if errors.Is(err, zk.ErrNoNode) {
		return w.remove(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("rewatching children of %s: %w", path, err)
	}
	w.forward(ctx, childWatch, t.gen, ch)

	current := make(map[string]struct{}, len(children))
	for _, name := range children {
		current[name] = struct{}{}
	}

	var gone []string
	for name := range t.children {
		if _, ok := current[name]; !ok {
			gone = append(gone, name)
		}
	}
	slices.Sort(gone)
	for _, name := range gone {
		if err := w.remove(ctx, util.Join(path, name)); err != nil {
			return err
		}
	}

	slices.Sort(children)
	for _, name := range children {
		if err := w.load(ctx, util.Join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

// remove stops tracking path and its descendants, deepest first.
func (w *watcher) remove(ctx context.Context, path string) error {
	t, ok := w.nodes[path]
	if !ok {
		return nil
	}

	names := make([]string, 0, len(t.children))
	for name := range t.children {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := w.remove(ctx, util.Join(path, name)); err != nil {
			return err
		}
	}

	delete(w.nodes, path)
	if parent, ok := w.nodes[util.Parent(path)]; ok && path != w.root {
		delete(parent.children, util.Base(path))
	}
	return w.emit(ctx, Event{Type: EventRemoved, Path: path})
}
