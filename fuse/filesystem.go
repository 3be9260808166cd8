package fuse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pranavmk98/gDocsFS/fuse/diag"
	"github.com/pranavmk98/gDocsFS/gdrive"
	"github.com/pranavmk98/gDocsFS/metadata"
	"github.com/pranavmk98/gDocsFS/vfs"
)

// Kernel cache timeout tiers for entry and attr caching. The projection
// core caches metadata and listings itself, so these only cover the
// window between a remote change and the reconciler pass that notifies
// the kernel. Per-node timeouts set here take precedence over the
// global zero timeouts set in the mount options.
const (
	// cacheTTLAttr is the attribute cache window for files and folders.
	cacheTTLAttr = 2 * time.Second

	// cacheTTLEntry is the name-to-inode cache window for folder entries.
	cacheTTLEntry = 2 * time.Second

	// cacheTTLSymlink is for symlinks, which exist only in this mount
	// and never change behind the kernel's back.
	cacheTTLSymlink = 1 * time.Hour
)

// Permission bits presented when no chmod override is stored. The
// remote store has no mode notion.
const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// mountOwner is reported as the owner of every node; the remote store
// has no uid/gid notion either.
var mountOwner = fuse.Owner{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}

// mount is the per-mount plumbing every node carries: the projection
// core, the diagnostics tracker, and a registry of live directory nodes
// used to push reconciler invalidations into the kernel dcache.
type mount struct {
	v    *vfs.FS
	diag *diag.Tracker

	mu   sync.Mutex
	dirs map[uint64]*fs.Inode
}

func (m *mount) registerDir(ino uint64, node *fs.Inode) {
	m.mu.Lock()
	m.dirs[ino] = node
	m.mu.Unlock()
}

func (m *mount) dirNode(ino uint64) (*fs.Inode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.dirs[ino]
	return n, ok
}

// errno maps projection-core errors onto kernel error numbers.
// Conflicts have no POSIX expression; they surface as EIO and the
// details go to the log.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, gdrive.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, gdrive.ErrPermissionDenied):
		return syscall.EACCES
	case errors.Is(err, gdrive.ErrConflict):
		log.Printf("fuse: write conflict: %v", err)
		return syscall.EIO
	case errors.Is(err, gdrive.ErrUnsupportedContent):
		return syscall.EINVAL
	case errors.Is(err, gdrive.ErrUnsupportedOperation):
		return syscall.ENOTSUP
	case errors.Is(err, vfs.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, vfs.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	default:
		// Rate limiting and network failures that survived the retry
		// layer land here too.
		return syscall.EIO
	}
}

func inoStr(ino uint64) string {
	return strconv.FormatUint(ino, 10)
}

// fillAttr populates a kernel attr from an inode snapshot: size, remote
// timestamps with the mount time as fallback, the mounting user as
// owner, and any stored chmod/chown/utimens overrides on top. The
// caller sets the type and default permission bits in Mode first.
func (m *mount) fillAttr(info vfs.Info, attr *fuse.Attr) {
	attr.Ino = info.Ino
	attr.Size = uint64(info.Size)
	ts := metadata.FromRemote(info.Node.CreatedTime, info.Node.ModifiedTime, info.Node.ViewedTime)
	ts.ApplyWithFallback(attr, m.v.MountTime())
	attr.Owner = mountOwner

	o, ok := m.v.OverrideFor(info.Ino)
	if !ok {
		return
	}
	if o.Mode != nil {
		attr.Mode = attr.Mode&^uint32(0777) | *o.Mode&0777
	}
	if o.UID != nil {
		attr.Uid = *o.UID
	}
	if o.GID != nil {
		attr.Gid = *o.GID
	}
	if o.Atime != nil {
		attr.Atime = uint64(o.Atime.Unix())
		attr.Atimensec = uint32(o.Atime.Nanosecond())
	}
	if o.Mtime != nil {
		attr.Mtime = uint64(o.Mtime.Unix())
		attr.Mtimensec = uint32(o.Mtime.Nanosecond())
	}
}

// applySetattr records chmod/chown/utimens as local overrides. The
// remote store cannot hold them, so they live in the state file and are
// merged back in at Getattr time.
func (m *mount) applySetattr(ino uint64, in *fuse.SetAttrIn) syscall.Errno {
	if mode, ok := in.GetMode(); ok {
		if err := m.v.SetMode(ino, mode&0777); err != nil {
			return errno(err)
		}
	}

	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		// chown may set just one of the two; keep the other at its
		// current value.
		cur, _ := m.v.OverrideFor(ino)
		if !uok {
			uid = mountOwner.Uid
			if cur.UID != nil {
				uid = *cur.UID
			}
		}
		if !gok {
			gid = mountOwner.Gid
			if cur.GID != nil {
				gid = *cur.GID
			}
		}
		if err := m.v.SetOwner(ino, uid, gid); err != nil {
			return errno(err)
		}
	}

	var atime, mtime *time.Time
	if t, ok := in.GetATime(); ok {
		at := t
		atime = &at
	}
	if t, ok := in.GetMTime(); ok {
		mt := t
		mtime = &mt
	}
	if atime != nil || mtime != nil {
		if err := m.v.SetTimes(ino, atime, mtime); err != nil {
			return errno(err)
		}
	}
	return 0
}

// statfs reports the remote quota through a fixed 512-byte block
// geometry. Unknown or unlimited quotas report a large fixed size so
// tools that precheck free space do not refuse to copy.
func (m *mount) statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	const bsize = 512
	const fallbackBytes = int64(1) << 40

	limit, usage, ok := m.v.Statfs(ctx)
	if !ok || limit <= 0 {
		limit = fallbackBytes
		if usage > limit {
			limit = usage
		}
	}
	free := limit - usage
	if free < 0 {
		free = 0
	}
	out.Bsize = bsize
	out.Frsize = bsize
	out.Blocks = uint64(limit) / bsize
	out.Bfree = uint64(free) / bsize
	out.Bavail = uint64(free) / bsize
	out.NameLen = 255
	return 0
}

// --- SymlinkNode: a mount-local symbolic link ---

type SymlinkNode struct {
	fs.Inode
	m   *mount
	ino uint64
}

var _ = (fs.NodeReadlinker)((*SymlinkNode)(nil))
var _ = (fs.NodeGetattrer)((*SymlinkNode)(nil))

func (s *SymlinkNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := s.m.v.Readlink(s.ino)
	if err != nil {
		return nil, errno(err)
	}
	return []byte(target), 0
}

func (s *SymlinkNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := s.m.v.Stat(s.ino)
	if err != nil {
		return errno(err)
	}
	out.Mode = syscall.S_IFLNK | 0777
	s.m.fillAttr(info, &out.Attr)
	out.Size = uint64(len(info.Target))
	out.SetTimeout(cacheTTLAttr)
	return 0
}

// --- FolderNode: one projected folder ---

type FolderNode struct {
	fs.Inode
	m   *mount
	ino uint64
}

var _ = (fs.NodeLookuper)((*FolderNode)(nil))
var _ = (fs.NodeReaddirer)((*FolderNode)(nil))
var _ = (fs.NodeGetattrer)((*FolderNode)(nil))
var _ = (fs.NodeSetattrer)((*FolderNode)(nil))
var _ = (fs.NodeCreater)((*FolderNode)(nil))
var _ = (fs.NodeMkdirer)((*FolderNode)(nil))
var _ = (fs.NodeRmdirer)((*FolderNode)(nil))
var _ = (fs.NodeUnlinker)((*FolderNode)(nil))
var _ = (fs.NodeRenamer)((*FolderNode)(nil))
var _ = (fs.NodeSymlinker)((*FolderNode)(nil))
var _ = (fs.NodeStatfser)((*FolderNode)(nil))
var _ = (fs.NodeOnAdder)((*FolderNode)(nil))

func (d *FolderNode) OnAdd(ctx context.Context) {
	d.m.registerDir(d.ino, d.EmbeddedInode())
}

// childNode wraps an inode snapshot in the right kernel node type. The
// projection inode number doubles as the kernel stable ino, so go-fuse
// reuses the existing node across repeated traversals and `ls -i` stays
// stable for the lifetime of the mount.
func (d *FolderNode) childNode(ctx context.Context, info vfs.Info) *fs.Inode {
	switch info.Kind {
	case vfs.KindFolder:
		return d.NewInode(ctx, &FolderNode{m: d.m, ino: info.Ino},
			fs.StableAttr{Mode: fuse.S_IFDIR, Ino: info.Ino})
	case vfs.KindSymlink:
		return d.NewInode(ctx, &SymlinkNode{m: d.m, ino: info.Ino},
			fs.StableAttr{Mode: syscall.S_IFLNK, Ino: info.Ino})
	default:
		return d.NewInode(ctx, &FileNode{m: d.m, ino: info.Ino},
			fs.StableAttr{Mode: fuse.S_IFREG, Ino: info.Ino})
	}
}

func (d *FolderNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	defer diag.Track(d.m.diag, "FolderNode", "Lookup", name).Done()
	info, err := d.m.v.Lookup(ctx, d.ino, name)
	if err != nil {
		return nil, errno(err)
	}
	ttl := cacheTTLEntry
	if info.Kind == vfs.KindSymlink {
		ttl = cacheTTLSymlink
	}
	out.SetEntryTimeout(ttl)
	return d.childNode(ctx, info), 0
}

func (d *FolderNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	defer diag.Track(d.m.diag, "FolderNode", "Readdir", inoStr(d.ino)).Done()
	children, err := d.m.v.Listing(ctx, d.ino)
	if err != nil {
		return nil, errno(err)
	}
	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		mode := uint32(fuse.S_IFREG)
		switch c.Kind {
		case vfs.KindFolder:
			mode = fuse.S_IFDIR
		case vfs.KindSymlink:
			mode = syscall.S_IFLNK
		}
		entries = append(entries, fuse.DirEntry{Name: c.Name, Mode: mode, Ino: c.Ino})
	}
	return fs.NewListDirStream(entries), 0
}

func (d *FolderNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := d.m.v.Stat(d.ino)
	if err != nil {
		return errno(err)
	}
	out.Mode = fuse.S_IFDIR | defaultDirMode
	d.m.fillAttr(info, &out.Attr)
	out.SetTimeout(cacheTTLAttr)
	return 0
}

func (d *FolderNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	defer diag.Track(d.m.diag, "FolderNode", "Setattr", inoStr(d.ino)).Done()
	if e := d.m.applySetattr(d.ino, in); e != 0 {
		return e
	}
	return d.Getattr(ctx, f, out)
}

func (d *FolderNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	defer diag.Track(d.m.diag, "FolderNode", "Create", name).Done()
	info, err := d.m.v.Create(ctx, d.ino, name)
	if err != nil {
		return nil, nil, 0, errno(err)
	}
	if err := d.m.v.Open(info.Ino); err != nil {
		return nil, nil, 0, errno(err)
	}
	if mode&0777 != defaultFileMode {
		if err := d.m.v.SetMode(info.Ino, mode&0777); err != nil {
			log.Printf("fuse: failed to record create mode for %s: %v", name, err)
		}
	}
	out.SetEntryTimeout(cacheTTLEntry)
	return d.childNode(ctx, info), nil, 0, 0
}

func (d *FolderNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	defer diag.Track(d.m.diag, "FolderNode", "Mkdir", name).Done()
	info, err := d.m.v.Mkdir(ctx, d.ino, name)
	if err != nil {
		return nil, errno(err)
	}
	if mode&0777 != defaultDirMode {
		if err := d.m.v.SetMode(info.Ino, mode&0777); err != nil {
			log.Printf("fuse: failed to record mkdir mode for %s: %v", name, err)
		}
	}
	out.SetEntryTimeout(cacheTTLEntry)
	return d.childNode(ctx, info), 0
}

func (d *FolderNode) Unlink(ctx context.Context, name string) syscall.Errno {
	defer diag.Track(d.m.diag, "FolderNode", "Unlink", name).Done()
	return errno(d.m.v.Unlink(ctx, d.ino, name))
}

func (d *FolderNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	defer diag.Track(d.m.diag, "FolderNode", "Rmdir", name).Done()
	return errno(d.m.v.Rmdir(ctx, d.ino, name))
}

// folderTarget unwraps a rename destination to its folder node. The
// mount root is a distinct type, so both shapes appear here.
func folderTarget(p fs.InodeEmbedder) (*FolderNode, bool) {
	switch n := p.(type) {
	case *FolderNode:
		return n, true
	case *Root:
		return &n.FolderNode, true
	}
	return nil, false
}

func (d *FolderNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	defer diag.Track(d.m.diag, "FolderNode", "Rename", fmt.Sprintf("%s -> %s", name, newName)).Done()
	if flags&fs.RENAME_EXCHANGE != 0 {
		return syscall.ENOTSUP
	}
	target, ok := folderTarget(newParent)
	if !ok {
		return syscall.EXDEV
	}
	// RENAME_NOREPLACE
	if flags&1 != 0 {
		if _, err := d.m.v.Lookup(ctx, target.ino, newName); err == nil {
			return syscall.EEXIST
		}
	}
	return errno(d.m.v.Rename(ctx, d.ino, name, target.ino, newName))
}

func (d *FolderNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	defer diag.Track(d.m.diag, "FolderNode", "Symlink", name).Done()
	info, err := d.m.v.Symlink(ctx, d.ino, name, target)
	if err != nil {
		return nil, errno(err)
	}
	out.SetEntryTimeout(cacheTTLSymlink)
	return d.childNode(ctx, info), 0
}

func (d *FolderNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	defer diag.Track(d.m.diag, "FolderNode", "Statfs", "").Done()
	return d.m.statfs(ctx, out)
}

// --- Root ---

// Root is the mount's root directory node.
type Root struct {
	FolderNode
}

// NewRoot builds the kernel dispatcher over a projection core. Wire the
// core's invalidation callback to InvalidateEntry so reconciled remote
// changes reach the kernel dcache.
func NewRoot(v *vfs.FS, tracker *diag.Tracker) *Root {
	m := &mount{
		v:    v,
		diag: tracker,
		dirs: make(map[uint64]*fs.Inode),
	}
	return &Root{FolderNode{m: m, ino: vfs.RootIno}}
}

// InvalidateEntry drops one cached kernel dentry. Safe to call for
// folders the kernel has never seen.
func (r *Root) InvalidateEntry(parentIno uint64, name string) {
	n, ok := r.m.dirNode(parentIno)
	if !ok {
		return
	}
	if e := n.NotifyEntry(name); e != 0 && e != syscall.ENOENT {
		log.Printf("fuse: entry invalidation for %q: %v", name, e)
	}
}

// Mount mounts the dispatcher and returns the running server. The
// global timeouts are zero so the per-node cacheTTL tiers take
// precedence.
func Mount(mountpoint string, root *Root, debug bool) (*fuse.Server, error) {
	opts := &fs.Options{}
	opts.Debug = debug
	zero := time.Duration(0)
	opts.EntryTimeout = &zero
	opts.AttrTimeout = &zero
	opts.NegativeTimeout = &zero
	opts.MountOptions.FsName = "gdocsfs"
	opts.MountOptions.Name = "gdocsfs"
	return fs.Mount(mountpoint, root, opts)
}
