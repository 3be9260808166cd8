package vfs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/pranavmk98/gDocsFS/gdrive"
)

// pendingUpload is one in-flight flush: a full snapshot of the buffer
// plus the revision precondition it was taken against. A concurrent
// trash or truncate-to-zero cancels it; a cancelled upload's result is
// discarded, never applied.
type pendingUpload struct {
	data      []byte
	baseRev   string
	gen       uint64
	attempt   int
	cancelled atomic.Bool
}

// inflightTable tracks pending uploads by inode so they can be found
// for cancellation.
type inflightTable struct {
	mu  sync.Mutex
	ops map[uint64]*pendingUpload
}

func (t *inflightTable) put(ino uint64, pu *pendingUpload) {
	t.mu.Lock()
	if t.ops == nil {
		t.ops = make(map[uint64]*pendingUpload)
	}
	t.ops[ino] = pu
	t.mu.Unlock()
}

func (t *inflightTable) drop(ino uint64, pu *pendingUpload) {
	t.mu.Lock()
	if t.ops[ino] == pu {
		delete(t.ops, ino)
	}
	t.mu.Unlock()
}

// cancel marks the inode's pending upload cancelled, if there is one.
func (t *inflightTable) cancel(ino uint64) {
	t.mu.Lock()
	if pu, ok := t.ops[ino]; ok {
		pu.cancelled.Store(true)
	}
	t.mu.Unlock()
}

// Write buffers data at off and marks the inode dirty. Nothing goes to
// the remote store until a flush. Gaps past the current end are
// NUL-filled.
func (fs *FS) Write(ctx context.Context, ino uint64, data []byte, off int64) (int, error) {
	n, ok := fs.arena.get(ino)
	if !ok {
		return 0, gdrive.ErrNotFound
	}
	for {
		buf, err := fs.materialize(ctx, n)
		if err != nil {
			return 0, err
		}
		written, err := buf.writeAt(data, off)
		if err == nil {
			return written, nil
		}
		if !errors.Is(err, errEvicted) {
			return 0, err
		}
	}
}

// Truncate resizes the buffer, NUL-extending growth. Truncation to zero
// cancels any in-flight upload and skips materialization, since the
// prior content is irrelevant.
func (fs *FS) Truncate(ctx context.Context, ino uint64, size int64) error {
	n, ok := fs.arena.get(ino)
	if !ok {
		return gdrive.ErrNotFound
	}
	if size == 0 {
		fs.inflight.cancel(ino)
		n.mu.RLock()
		det := n.detached
		baseRev := n.node.Revision
		n.mu.RUnlock()
		if det != attached {
			return gdrive.ErrNotFound
		}
		buf := &buffer{dirty: true, gen: 1, sourceRev: baseRev}
		for {
			winner := fs.pool.install(ctx, ino, buf)
			if winner != buf {
				if err := winner.truncate(0); err != nil {
					fs.pool.remove(ino)
					continue
				}
			}
			return nil
		}
	}
	for {
		buf, err := fs.materialize(ctx, n)
		if err != nil {
			return err
		}
		err = buf.truncate(size)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errEvicted) {
			return err
		}
	}
}

// Flush uploads the inode's dirty buffer, if any. Success updates the
// metadata cache with the returned node and clears the dirty state; a
// revision conflict keeps the buffer intact and surfaces ErrConflict on
// this and every later flush until it succeeds or the file is
// re-materialized. The final flush of a locally unlinked file is
// discarded silently; one against a remotely trashed file with local
// edits is a conflict.
func (fs *FS) Flush(ctx context.Context, ino uint64) error {
	n, ok := fs.arena.get(ino)
	if !ok {
		return gdrive.ErrNotFound
	}
	buf, ok := fs.pool.peek(ino)
	if !ok {
		return nil
	}
	if _, dirty := buf.snapshotLen(); !dirty {
		return nil
	}
	return fs.flushBuffer(ctx, n, buf)
}

// flushBuffer performs one upload of the buffer's current snapshot.
// Serialized per inode by flushMu; the network call runs with no inode
// or buffer lock held so readers and writers keep moving and a racing
// trash can cancel the pending upload.
func (fs *FS) flushBuffer(ctx context.Context, n *Inode, buf *buffer) error {
	n.flushMu.Lock()
	defer n.flushMu.Unlock()

	data, baseRev, gen, dirty := buf.snapshot()
	if !dirty {
		return nil
	}

	n.mu.RLock()
	id := n.id
	name := n.name
	mime := n.node.MimeType
	parentIno := n.parentIno
	det := n.detached
	n.mu.RUnlock()

	switch det {
	case detachedLocal:
		// Unlinked through this mount while a handle stayed open; the
		// final write goes nowhere.
		buf.complete(gen, baseRev)
		return nil
	case detachedRemote:
		return fmt.Errorf("remote deleted %s with local edits pending: %w", name, gdrive.ErrConflict)
	}

	req := gdrive.UploadRequest{
		ID:           id,
		MimeType:     mime,
		Data:         data,
		BaseRevision: baseRev,
	}
	if id == "" {
		// First flush of a draft: create, then bind the new remote id.
		parent, ok := fs.arena.get(parentIno)
		if !ok {
			return gdrive.ErrNotFound
		}
		parent.mu.RLock()
		req.ParentID = parent.id
		parent.mu.RUnlock()
		req.Name = name
		req.MimeType = ""
		req.BaseRevision = ""
	}

	pu := &pendingUpload{
		data:    req.Data,
		baseRev: req.BaseRevision,
		gen:     gen,
		attempt: buf.bumpFlushAttempts(),
	}
	fs.inflight.put(n.ino, pu)
	defer fs.inflight.drop(n.ino, pu)

	node, err := fs.store.Upload(ctx, req)
	if err != nil {
		if errors.Is(err, gdrive.ErrConflict) {
			buf.markConflict()
			log.Printf("vfs: upload of inode %d conflicted on flush attempt %d, local buffer kept", n.ino, pu.attempt)
		}
		return fmt.Errorf("upload of %s: %w", name, err)
	}
	if pu.cancelled.Load() {
		log.Printf("vfs: upload of inode %d finished after cancellation, result dropped", n.ino)
		return nil
	}

	fs.store.Update(node)
	n.mu.Lock()
	wasDraft := n.id == ""
	if wasDraft {
		n.id = node.ID
	}
	n.node = node
	n.mu.Unlock()
	if wasDraft {
		fs.arena.rebind(n, node.ID)
		if fs.cfg.State != nil {
			if err := fs.cfg.State.Rebind(overrideKey("", n.ino), node.ID); err != nil {
				log.Printf("vfs: failed to rebind overrides for %s: %v", node.ID, err)
			}
		}
	}
	buf.complete(gen, node.Revision)
	return nil
}
