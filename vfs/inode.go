package vfs

import (
	"context"
	"sync"

	"github.com/pranavmk98/gDocsFS/gdrive"
)

// Kind classifies an inode.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
	KindSymlink
)

// detachReason records why an inode left the namespace. The distinction
// matters at flush time: a locally unlinked file discards its final
// buffered write silently, a remotely trashed one with dirty data
// surfaces a conflict.
type detachReason int

const (
	attached detachReason = iota
	detachedLocal
	detachedRemote
)

// Inode is one record in the arena. The inode number is immutable; all
// other fields are guarded by mu. Remote ids are empty for local-only
// nodes: draft files awaiting their first flush, and symlinks, which
// exist only for the lifetime of the mount.
type Inode struct {
	ino uint64

	// flushMu serializes flushes of this inode. It is acquired before
	// mu and held across the upload network call, which mu is not.
	flushMu sync.Mutex

	mu        sync.RWMutex
	id        string
	kind      Kind
	name      string // exposed name, collision suffix included
	parentIno uint64 // canonical parent; 0 only for the root
	node      gdrive.Node
	target    string // symlink target
	handles   int
	detached  detachReason

	// listing is the directory state for folder inodes, created on
	// first population. Its lock is independent of mu.
	listing *listing
}

// Ino returns the inode number.
func (n *Inode) Ino() uint64 { return n.ino }

// arena owns every Inode record, keyed by inode number, with an
// auxiliary remote-id index. Its lock is leaf-level: held only for O(1)
// map work, never across I/O or other locks.
type arena struct {
	mu      sync.Mutex
	inodes  map[uint64]*Inode
	byID    map[string]uint64
	nextIno uint64
}

func newArena() *arena {
	return &arena{
		inodes:  make(map[uint64]*Inode),
		byID:    make(map[string]uint64),
		nextIno: RootIno,
	}
}

// internRoot installs the root folder as inode 1.
func (a *arena) internRoot(root gdrive.Node) *Inode {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := &Inode{
		ino:  RootIno,
		id:   root.ID,
		kind: KindFolder,
		name: "",
		node: root,
	}
	a.inodes[RootIno] = n
	a.byID[root.ID] = RootIno
	a.nextIno = RootIno + 1
	return n
}

// get returns the inode record for ino.
func (a *arena) get(ino uint64) (*Inode, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.inodes[ino]
	return n, ok
}

// byRemoteID returns the inode bound to a remote id.
func (a *arena) byRemoteID(id string) (*Inode, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ino, ok := a.byID[id]
	if !ok {
		return nil, false
	}
	return a.inodes[ino], true
}

// intern returns the inode bound to node.ID, creating it on first
// sight. The caller supplies the canonical placement; for an existing
// record only the cached node is refreshed here, placement updates are
// the resolver's job.
func (a *arena) intern(node gdrive.Node, parentIno uint64, name string) *Inode {
	a.mu.Lock()
	if ino, ok := a.byID[node.ID]; ok {
		n := a.inodes[ino]
		a.mu.Unlock()
		n.mu.Lock()
		n.node = node
		n.mu.Unlock()
		return n
	}
	kind := KindFile
	if node.IsFolder() {
		kind = KindFolder
	}
	n := &Inode{
		ino:       a.nextIno,
		id:        node.ID,
		kind:      kind,
		name:      name,
		parentIno: parentIno,
		node:      node,
	}
	a.nextIno++
	a.inodes[n.ino] = n
	a.byID[node.ID] = n.ino
	a.mu.Unlock()
	return n
}

// newLocal creates an inode with no remote id: a draft file or a
// symlink. Draft files acquire their id at first flush via rebind.
func (a *arena) newLocal(kind Kind, parentIno uint64, name, target string) *Inode {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := &Inode{
		ino:       a.nextIno,
		kind:      kind,
		name:      name,
		parentIno: parentIno,
		target:    target,
	}
	a.nextIno++
	a.inodes[n.ino] = n
	return n
}

// rebind binds a remote id to an inode that had none. Called when a
// draft's first upload completes.
func (a *arena) rebind(n *Inode, id string) {
	a.mu.Lock()
	a.byID[id] = n.ino
	a.mu.Unlock()
}

// Info is a point-in-time snapshot of an inode for the dispatcher.
type Info struct {
	Ino      uint64
	ID       string
	Name     string
	Kind     Kind
	Size     int64
	Dirty    bool
	Detached bool
	Draft    bool
	Target   string
	// Node is the cached remote metadata; zero-valued for local-only
	// nodes.
	Node gdrive.Node
}

// Stat snapshots an inode. The visible size is the content buffer's
// length when one exists, so local writes and native-document exports
// are reflected; otherwise it is the remote raw size.
func (fs *FS) Stat(ino uint64) (Info, error) {
	n, ok := fs.arena.get(ino)
	if !ok {
		return Info{}, gdrive.ErrNotFound
	}
	n.mu.RLock()
	info := Info{
		Ino:      n.ino,
		ID:       n.id,
		Name:     n.name,
		Kind:     n.kind,
		Size:     n.node.Size,
		Detached: n.detached != attached,
		Draft:    n.id == "" && n.kind == KindFile,
		Target:   n.target,
		Node:     n.node,
	}
	n.mu.RUnlock()
	if buf, ok := fs.pool.peek(ino); ok {
		size, dirty := buf.snapshotLen()
		info.Size = size
		info.Dirty = dirty
	}
	return info, nil
}

// Open registers an open handle on a file inode. The dispatcher calls
// Truncate separately when the open carries O_TRUNC.
func (fs *FS) Open(ino uint64) error {
	n, ok := fs.arena.get(ino)
	if !ok {
		return gdrive.ErrNotFound
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.detached != attached {
		return gdrive.ErrNotFound
	}
	n.handles++
	return nil
}

// Release drops an open handle. The final release of a dirty buffer
// flushes it; the final release of a detached inode drops its buffer.
func (fs *FS) Release(ctx context.Context, ino uint64) error {
	n, ok := fs.arena.get(ino)
	if !ok {
		return gdrive.ErrNotFound
	}
	n.mu.Lock()
	if n.handles > 0 {
		n.handles--
	}
	last := n.handles == 0
	det := n.detached
	n.mu.Unlock()

	if !last {
		return nil
	}
	if det != attached {
		fs.pool.remove(ino)
		return nil
	}
	if buf, ok := fs.pool.peek(ino); ok {
		if _, dirty := buf.snapshotLen(); dirty {
			return fs.Flush(ctx, ino)
		}
	}
	return nil
}
