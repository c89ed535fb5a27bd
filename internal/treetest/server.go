// Package treetest provides an in-memory stand-in for a ZooKeeper connection.
//
// Server implements zktree.Conn with the same observable semantics the
// filesystem relies on: persistent nodes, versioned sets, refusal to delete
// non-empty nodes, and one-shot data and child watches that fire in mutation
// order. Faults can be injected per operation to exercise retry and error
// mapping paths.
package treetest

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
)

type znode struct {
	data     []byte
	stat     zk.Stat
	children map[string]struct{}
}

// Server is an in-memory remote tree. The zero value is not usable; call NewServer.
type Server struct {
	mu       sync.Mutex
	nodes    map[string]*znode
	zxid     int64
	now      func() time.Time
	dataW    map[string][]chan zk.Event
	childW   map[string][]chan zk.Event
	faults   map[string][]error
	after    map[string][]error
	calls    map[string]int
	closed   bool
	blockSet chan struct{}
}

// NewServer returns a tree containing only the root node.
func NewServer() *Server {
	s := &Server{
		nodes:  make(map[string]*znode),
		now:    time.Now,
		dataW:  make(map[string][]chan zk.Event),
		childW: make(map[string][]chan zk.Event),
		faults: make(map[string][]error),
		after:  make(map[string][]error),
		calls:  make(map[string]int),
	}
	s.nodes["/"] = &znode{children: make(map[string]struct{})}
	return s
}

// SetClock replaces the time source used for node timestamps.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Fail queues errors returned by the next calls of op ("get", "set",
// "create", "delete", "exists", "children", "getw", "childrenw") before the
// operation is attempted.
func (s *Server) Fail(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], errs...)
}

// FailAfter queues errors returned by the next successful calls of op, after
// the operation has been applied. It models a reply lost to a dropped
// connection. Only "create" honours it.
func (s *Server) FailAfter(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.after[op] = append(s.after[op], errs...)
}

func (s *Server) leave(op string) error {
	if q := s.after[op]; len(q) > 0 {
		s.after[op] = q[1:]
		return q[0]
	}
	return nil
}

// Calls returns how many times op was invoked, faults included.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Watches returns the number of outstanding data and child watches.
func (s *Server) Watches() (data, child int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.dataW {
		data += len(ws)
	}
	for _, ws := range s.childW {
		child += len(ws)
	}
	return data, child
}

// MustCreate creates path with data, creating missing parents with empty
// payloads. It panics on any other failure and is meant for test setup. The
// root always exists, so MustCreate("/", ...) does nothing.
func (s *Server) MustCreate(path string, data []byte) {
	if strings.Trim(path, "/") == "" {
		return
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i := range parts {
		p := "/" + strings.Join(parts[:i+1], "/")
		var payload []byte
		if i == len(parts)-1 {
			payload = data
		}
		if _, err := s.Create(p, payload, 0, nil); err != nil && err != zk.ErrNodeExists {
			panic(err)
		}
	}
}

// Data returns a copy of the payload stored at path.
func (s *Server) Data(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[path]
	if !ok {
		return nil, false
	}
	return slices.Clone(n.data), true
}

func (s *Server) enter(op string) error {
	s.calls[op]++
	if s.closed {
		return zk.ErrClosing
	}
	if q := s.faults[op]; len(q) > 0 {
		s.faults[op] = q[1:]
		return q[0]
	}
	return nil
}

func (s *Server) statOf(n *znode) *zk.Stat {
	st := n.stat
	st.DataLength = int32(len(n.data))
	st.NumChildren = int32(len(n.children))
	return &st
}

func (s *Server) fire(watches map[string][]chan zk.Event, path string, typ zk.EventType) {
	for _, ch := range watches[path] {
		ch <- zk.Event{Type: typ, State: zk.StateHasSession, Path: path}
		close(ch)
	}
	delete(watches, path)
}

func (s *Server) watch(watches map[string][]chan zk.Event, path string) <-chan zk.Event {
	ch := make(chan zk.Event, 1)
	watches[path] = append(watches[path], ch)
	return ch
}

// Exists implements zktree.Conn.
func (s *Server) Exists(path string) (bool, *zk.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("exists"); err != nil {
		return false, nil, err
	}
	n, ok := s.nodes[path]
	if !ok {
		return false, nil, nil
	}
	return true, s.statOf(n), nil
}

// Get implements zktree.Conn.
func (s *Server) Get(path string) ([]byte, *zk.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("get"); err != nil {
		return nil, nil, err
	}
	n, ok := s.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return slices.Clone(n.data), s.statOf(n), nil
}

// GetW implements zktree.Conn.
func (s *Server) GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("getw"); err != nil {
		return nil, nil, nil, err
	}
	n, ok := s.nodes[path]
	if !ok {
		return nil, nil, nil, zk.ErrNoNode
	}
	return slices.Clone(n.data), s.statOf(n), s.watch(s.dataW, path), nil
}

func (s *Server) childNames(n *znode) []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Children implements zktree.Conn.
func (s *Server) Children(path string) ([]string, *zk.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("children"); err != nil {
		return nil, nil, err
	}
	n, ok := s.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return s.childNames(n), s.statOf(n), nil
}

// ChildrenW implements zktree.Conn.
func (s *Server) ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("childrenw"); err != nil {
		return nil, nil, nil, err
	}
	n, ok := s.nodes[path]
	if !ok {
		return nil, nil, nil, zk.ErrNoNode
	}
	return s.childNames(n), s.statOf(n), s.watch(s.childW, path), nil
}

// Create implements zktree.Conn. Only persistent nodes are supported; flags
// and acl are ignored.
func (s *Server) Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("create"); err != nil {
		return "", err
	}
	if path == "/" || !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return "", zk.ErrInvalidPath
	}
	if _, ok := s.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}
	i := strings.LastIndexByte(path, '/')
	parentPath := path[:i]
	if parentPath == "" {
		parentPath = "/"
	}
	parent, ok := s.nodes[parentPath]
	if !ok {
		return "", zk.ErrNoNode
	}

	s.zxid++
	ms := s.now().UnixMilli()
	s.nodes[path] = &znode{
		data: slices.Clone(data),
		stat: zk.Stat{
			Czxid: s.zxid,
			Mzxid: s.zxid,
			Pzxid: s.zxid,
			Ctime: ms,
			Mtime: ms,
		},
		children: make(map[string]struct{}),
	}
	parent.children[path[i+1:]] = struct{}{}
	parent.stat.Cversion++
	parent.stat.Pzxid = s.zxid

	s.fire(s.childW, parentPath, zk.EventNodeChildrenChanged)
	if err := s.leave("create"); err != nil {
		return "", err
	}
	return path, nil
}

// Set implements zktree.Conn.
func (s *Server) Set(path string, data []byte, version int32) (*zk.Stat, error) {
	s.mu.Lock()
	block := s.blockSet
	s.mu.Unlock()
	if block != nil {
		<-block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("set"); err != nil {
		return nil, err
	}
	n, ok := s.nodes[path]
	if !ok {
		return nil, zk.ErrNoNode
	}
	if version != -1 && version != n.stat.Version {
		return nil, zk.ErrBadVersion
	}

	s.zxid++
	n.data = slices.Clone(data)
	n.stat.Version++
	n.stat.Mzxid = s.zxid
	n.stat.Mtime = s.now().UnixMilli()

	s.fire(s.dataW, path, zk.EventNodeDataChanged)
	return s.statOf(n), nil
}

// BlockSets makes every Set wait until the returned function is called.
func (s *Server) BlockSets() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.blockSet = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.blockSet = nil
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Delete implements zktree.Conn.
func (s *Server) Delete(path string, version int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("delete"); err != nil {
		return err
	}
	if path == "/" {
		return zk.ErrBadArguments
	}
	n, ok := s.nodes[path]
	if !ok {
		return zk.ErrNoNode
	}
	if version != -1 && version != n.stat.Version {
		return zk.ErrBadVersion
	}
	if len(n.children) > 0 {
		return zk.ErrNotEmpty
	}

	s.zxid++
	delete(s.nodes, path)
	i := strings.LastIndexByte(path, '/')
	parentPath := path[:i]
	if parentPath == "" {
		parentPath = "/"
	}
	parent := s.nodes[parentPath]
	delete(parent.children, path[i+1:])
	parent.stat.Cversion++
	parent.stat.Pzxid = s.zxid

	s.fire(s.dataW, path, zk.EventNodeDeleted)
	s.fire(s.childW, path, zk.EventNodeDeleted)
	s.fire(s.childW, parentPath, zk.EventNodeChildrenChanged)
	return nil
}

// Close implements zktree.Conn. Outstanding watches receive EventNotWatching
// and every later call fails with zk.ErrClosing.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, watches := range []map[string][]chan zk.Event{s.dataW, s.childW} {
		for path, chans := range watches {
			for _, ch := range chans {
				ch <- zk.Event{Type: zk.EventNotWatching, State: zk.StateDisconnected, Path: path, Err: zk.ErrClosing}
				close(ch)
			}
			delete(watches, path)
		}
	}
}
