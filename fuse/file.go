package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pranavmk98/gDocsFS/fuse/diag"
)

// --- FileNode: one projected file ---
//
// Open and Release count handles in the projection core so content
// buffers stay pinned while any descriptor is live. Read and Write go
// through the buffer; Flush pushes dirty buffers back on close(2) so
// the writer sees upload failures.

type FileNode struct {
	fs.Inode
	m   *mount
	ino uint64
}

var _ = (fs.NodeOpener)((*FileNode)(nil))
var _ = (fs.NodeGetattrer)((*FileNode)(nil))
var _ = (fs.NodeSetattrer)((*FileNode)(nil))
var _ = (fs.NodeReader)((*FileNode)(nil))
var _ = (fs.NodeWriter)((*FileNode)(nil))
var _ = (fs.NodeFlusher)((*FileNode)(nil))
var _ = (fs.NodeFsyncer)((*FileNode)(nil))
var _ = (fs.NodeReleaser)((*FileNode)(nil))
var _ = (fs.NodeAllocater)((*FileNode)(nil))
var _ = (fs.NodeStatfser)((*FileNode)(nil))

func (f *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	defer diag.Track(f.m.diag, "FileNode", "Open", inoStr(f.ino)).Done()
	info, err := f.m.v.Stat(f.ino)
	if err != nil {
		return nil, 0, errno(err)
	}
	if err := f.m.v.Open(f.ino); err != nil {
		return nil, 0, errno(err)
	}
	if flags&syscall.O_TRUNC != 0 {
		if err := f.m.v.Truncate(ctx, f.ino, 0); err != nil {
			f.m.v.Release(ctx, f.ino)
			return nil, 0, errno(err)
		}
	}
	// Native documents materialize through export, so the size the
	// kernel has cached may not match the exported bytes. Direct IO
	// keeps read extents honest for them.
	var fuseFlags uint32
	if info.Node.IsNative() {
		fuseFlags = fuse.FOPEN_DIRECT_IO
	}
	return nil, fuseFlags, 0
}

func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := f.m.v.Stat(f.ino)
	if err != nil {
		return errno(err)
	}
	out.Mode = fuse.S_IFREG | defaultFileMode
	f.m.fillAttr(info, &out.Attr)
	out.SetTimeout(cacheTTLAttr)
	return 0
}

func (f *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	defer diag.Track(f.m.diag, "FileNode", "Setattr", inoStr(f.ino)).Done()
	if size, ok := in.GetSize(); ok {
		if err := f.m.v.Truncate(ctx, f.ino, int64(size)); err != nil {
			return errno(err)
		}
	}
	if e := f.m.applySetattr(f.ino, in); e != 0 {
		return e
	}
	return f.Getattr(ctx, fh, out)
}

func (f *FileNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	defer diag.Track(f.m.diag, "FileNode", "Read", inoStr(f.ino)).Done()
	n, err := f.m.v.Read(ctx, f.ino, dest, off)
	if err != nil {
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (f *FileNode) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	defer diag.Track(f.m.diag, "FileNode", "Write", inoStr(f.ino)).Done()
	n, err := f.m.v.Write(ctx, f.ino, data, off)
	if err != nil {
		return 0, errno(err)
	}
	return uint32(n), 0
}

// Flush runs on every close of a descriptor. A failed upload surfaces
// here so cp and editors see the error instead of losing the write
// silently.
func (f *FileNode) Flush(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	defer diag.Track(f.m.diag, "FileNode", "Flush", inoStr(f.ino)).Done()
	return errno(f.m.v.Flush(ctx, f.ino))
}

func (f *FileNode) Fsync(ctx context.Context, fh fs.FileHandle, flags uint32) syscall.Errno {
	defer diag.Track(f.m.diag, "FileNode", "Fsync", inoStr(f.ino)).Done()
	return errno(f.m.v.Flush(ctx, f.ino))
}

func (f *FileNode) Release(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	defer diag.Track(f.m.diag, "FileNode", "Release", inoStr(f.ino)).Done()
	return errno(f.m.v.Release(ctx, f.ino))
}

// Allocate would need remote preallocation the store cannot express.
func (f *FileNode) Allocate(ctx context.Context, fh fs.FileHandle, off uint64, size uint64, mode uint32) syscall.Errno {
	return syscall.ENOTSUP
}

func (f *FileNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	return f.m.statfs(ctx, out)
}
