package zkfs

import (
	"context"
	"sync"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/dendrascience/zkfuse/util"
)

// FS serves an Adapter through bazil.org/fuse.
type FS struct {
	adapter   *Adapter
	attrValid time.Duration
}

var (
	_ fs.FS          = (*FS)(nil)
	_ fs.FSDestroyer = (*FS)(nil)
)

// NewFS wraps a running Adapter. attrValid is how long the kernel may cache
// attributes and directory entries; zero disables caching.
func NewFS(a *Adapter, attrValid time.Duration) *FS {
	return &FS{adapter: a, attrValid: attrValid}
}

// Root returns the node for the mount root.
func (f *FS) Root() (fs.Node, error) {
	return &Node{fs: f, path: "/"}, nil
}

// Destroy is called by the kernel on unmount.
func (f *FS) Destroy() {
	f.adapter.Destroy()
}

// Node is a remote tree node. The same type serves files and directories
// because a node changes type when it gains or loses children.
type Node struct {
	fs   *FS
	path string

	// created holds the mode a node was created with until the first Attr
	// call. The kernel checks a mkdir or create reply against the requested
	// type, but an empty node always reads as a file and may not be mirrored yet.
	mu      sync.Mutex
	created *fuse.Attr
}

var (
	_ fs.Node                = (*Node)(nil)
	_ fs.NodeRequestLookuper = (*Node)(nil)
	_ fs.HandleReadDirAller  = (*Node)(nil)
	_ fs.NodeMkdirer         = (*Node)(nil)
	_ fs.NodeCreater         = (*Node)(nil)
	_ fs.NodeOpener          = (*Node)(nil)
	_ fs.HandleReader        = (*Node)(nil)
	_ fs.HandleWriter        = (*Node)(nil)
	_ fs.NodeSetattrer       = (*Node)(nil)
	_ fs.NodeRemover         = (*Node)(nil)
	_ fs.NodeRenamer         = (*Node)(nil)
	_ fs.NodeFsyncer         = (*Node)(nil)
	_ fs.HandleFlusher       = (*Node)(nil)
)

func (n *Node) child(name string) *Node {
	return &Node{fs: n.fs, path: util.Join(n.path, name)}
}

func (n *Node) fill(a *fuse.Attr, attr Attr) {
	a.Valid = n.fs.attrValid
	a.Inode = attr.Inode
	a.Mode = attr.Mode
	a.Size = attr.Size
	a.Ctime = attr.Ctime
	a.Mtime = attr.Mtime
	a.Atime = attr.Mtime
	a.Nlink = 1
	if attr.Dir() {
		a.Nlink = 2
	}
}

// Attr reports the node's attributes from the mirror.
func (n *Node) Attr(ctx context.Context, a *fuse.Attr) error {
	n.mu.Lock()
	created := n.created
	n.created = nil
	n.mu.Unlock()
	if created != nil {
		*a = *created
		a.Valid = n.fs.attrValid
		return nil
	}

	attr, err := n.fs.adapter.Getattr(n.path)
	if err != nil {
		return err
	}
	n.fill(a, attr)
	return nil
}

// Lookup resolves a child by name.
func (n *Node) Lookup(ctx context.Context, req *fuse.LookupRequest, resp *fuse.LookupResponse) (fs.Node, error) {
	child := n.child(req.Name)
	if _, err := n.fs.adapter.Getattr(child.path); err != nil {
		return nil, err
	}
	resp.EntryValid = n.fs.attrValid
	return child, nil
}

// ReadDirAll lists the children of a directory node.
func (n *Node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	names, err := n.fs.adapter.Readdir(n.path)
	if err != nil {
		return nil, err
	}

	dirents := make([]fuse.Dirent, 0, len(names))
	for _, name := range names {
		d := fuse.Dirent{Name: name, Type: fuse.DT_File}
		// The child may vanish between the listing and this lookup.
		if attr, err := n.fs.adapter.Getattr(util.Join(n.path, name)); err == nil {
			d.Inode = attr.Inode
			if attr.Dir() {
				d.Type = fuse.DT_Dir
			}
		}
		dirents = append(dirents, d)
	}
	return dirents, nil
}

func (n *Node) newChild(name string, mode fuse.Attr) *Node {
	child := n.child(name)
	now := time.Now()
	mode.Ctime = now
	mode.Mtime = now
	mode.Atime = now
	child.created = &mode
	return child
}

// Mkdir creates an empty remote node.
func (n *Node) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	path := util.Join(n.path, req.Name)
	if err := n.fs.adapter.Mkdir(ctx, path); err != nil {
		return nil, err
	}
	return n.newChild(req.Name, fuse.Attr{Mode: dirMode, Nlink: 2}), nil
}

// Create creates an empty remote node and opens it.
func (n *Node) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	path := util.Join(n.path, req.Name)
	if err := n.fs.adapter.Create(ctx, path); err != nil {
		return nil, nil, err
	}
	child := n.newChild(req.Name, fuse.Attr{Mode: fileMode, Nlink: 1})
	resp.Flags |= fuse.OpenDirectIO
	return child, child, nil
}

// Open returns the node itself as the handle. File reads bypass the page
// cache so every read is served from the current mirrored payload.
func (n *Node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if !req.Dir {
		resp.Flags |= fuse.OpenDirectIO
	}
	return n, nil
}

// Read copies part of the mirrored payload.
func (n *Node) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := n.fs.adapter.Read(n.path, req.Size, req.Offset)
	if err != nil {
		return err
	}
	resp.Data = data
	return nil
}

// Write updates the remote payload before returning.
func (n *Node) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	size, err := n.fs.adapter.Write(ctx, n.path, req.Data, req.Offset)
	if err != nil {
		return err
	}
	resp.Size = size
	return nil
}

// Setattr supports size changes only. Other attribute changes are accepted
// and ignored so tools like touch keep working.
func (n *Node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := n.fs.adapter.Truncate(ctx, n.path, int64(req.Size)); err != nil {
			return err
		}
	}

	attr, err := n.fs.adapter.Getattr(n.path)
	if err != nil {
		// Not mirrored yet; answer with what is known.
		now := time.Now()
		attr = Attr{Mode: fileMode, Ctime: now, Mtime: now}
	}
	if req.Valid.Size() {
		attr.Size = req.Size
	}
	n.fill(&resp.Attr, attr)
	return nil
}

// Remove deletes a child node.
func (n *Node) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	path := util.Join(n.path, req.Name)
	if req.Dir {
		return n.fs.adapter.Rmdir(ctx, path)
	}
	return n.fs.adapter.Unlink(ctx, path)
}

// Rename is not supported.
func (n *Node) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	newPath := req.NewName
	if d, ok := newDir.(*Node); ok {
		newPath = util.Join(d.path, req.NewName)
	}
	return n.fs.adapter.Rename(util.Join(n.path, req.OldName), newPath)
}

// Fsync is a no-op: writes are acknowledged by the remote tree before they return.
func (n *Node) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return nil
}

// Flush is a no-op for the same reason.
func (n *Node) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return nil
}
