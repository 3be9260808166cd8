package vfs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pranavmk98/gDocsFS/gdrive"
)

// pollTimeout bounds one reconciliation pass of the background loop.
const pollTimeout = 30 * time.Second

// reconciler pulls the remote change stream and merges it into the
// metadata cache, the inode arena and the listings. It runs on a fixed
// interval with an on-demand kick. The change cursor survives remounts
// through the state store when one is configured.
type reconciler struct {
	fs       *FS
	interval time.Duration

	kick     chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	started  bool
	stopOnce sync.Once

	// cursor is the in-memory fallback when no state store persists it.
	mu     sync.Mutex
	cursor string
}

func newReconciler(fs *FS, interval time.Duration) *reconciler {
	return &reconciler{
		fs:       fs,
		interval: interval,
		kick:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *reconciler) start() {
	r.started = true
	go r.loop()
}

func (r *reconciler) stop() {
	if !r.started {
		return
	}
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
}

// kickNow requests an immediate poll. Coalesces when one is pending.
func (r *reconciler) kickNow() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *reconciler) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
		case <-r.kick:
		}
		ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
		if err := r.poll(ctx); err != nil {
			log.Printf("vfs: change poll failed: %v", err)
		}
		cancel()
	}
}

func (r *reconciler) loadCursor() string {
	if st := r.fs.cfg.State; st != nil {
		return st.Cursor()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

func (r *reconciler) saveCursor(cursor string) {
	if cursor == "" {
		return
	}
	if st := r.fs.cfg.State; st != nil {
		if err := st.SetCursor(cursor); err != nil {
			log.Printf("vfs: failed to persist change cursor: %v", err)
		}
		return
	}
	r.mu.Lock()
	r.cursor = cursor
	r.mu.Unlock()
}

// poll runs one reconciliation pass: fetch the delta since the cursor,
// apply every change, advance the cursor. An empty starting cursor just
// primes the stream.
func (r *reconciler) poll(ctx context.Context) error {
	fs := r.fs
	cl, err := fs.store.PollChanges(ctx, r.loadCursor())
	if err != nil {
		return err
	}

	var stale []entryRef
	for _, ch := range cl.Changes {
		stale = fs.applyChange(ch, stale)
	}
	r.saveCursor(cl.NextCursor)

	// Kernel dentry invalidations go through the dispatcher callback on
	// their own goroutine; notifying from here could deadlock against
	// kernel calls already holding locks on these directories.
	if cb := fs.invalidateEntryFn(); cb != nil && len(stale) > 0 {
		go func(refs []entryRef) {
			for _, ref := range refs {
				cb(ref.parentIno, ref.name)
			}
		}(stale)
	}
	return nil
}

// entryRef names one directory entry for kernel cache invalidation.
type entryRef struct {
	parentIno uint64
	name      string
}

// applyChange merges one remote change and appends any kernel entry
// invalidations it caused to stale.
func (fs *FS) applyChange(ch gdrive.Change, stale []entryRef) []entryRef {
	if ch.Removed || (ch.Node != nil && ch.Node.Trashed) {
		return fs.applyRemoval(ch, stale)
	}
	if ch.Node == nil {
		return stale
	}
	return fs.applyUpdate(*ch.Node, stale)
}

// applyRemoval handles a trashed or permanently removed item.
func (fs *FS) applyRemoval(ch gdrive.Change, stale []entryRef) []entryRef {
	fs.store.Invalidate(ch.ID)
	if ch.Node != nil {
		for _, p := range ch.Node.Parents {
			fs.store.InvalidateChildren(p)
		}
	}

	n, ok := fs.arena.byRemoteID(ch.ID)
	if !ok {
		return stale
	}
	n.mu.RLock()
	parentIno := n.parentIno
	name := n.name
	parents := append([]string(nil), n.node.Parents...)
	n.mu.RUnlock()
	for _, p := range parents {
		fs.store.InvalidateChildren(p)
	}

	fs.detach(n, detachedRemote)

	if parent, ok := fs.arena.get(parentIno); ok {
		parent.mu.RLock()
		l := parent.listing
		parent.mu.RUnlock()
		if l != nil {
			l.mu.Lock()
			if l.entries[name] == n.ino {
				delete(l.entries, name)
			}
			l.mu.Unlock()
		}
		fs.staleListing(parentIno)
		stale = append(stale, entryRef{parentIno, name})
	}
	return stale
}

// applyUpdate handles a changed or newly appeared live item.
func (fs *FS) applyUpdate(node gdrive.Node, stale []entryRef) []entryRef {
	fs.store.Update(node)

	n, ok := fs.arena.byRemoteID(node.ID)
	if !ok {
		// Never seen here. If its canonical home is materialized, make
		// that listing re-fetch so the item appears.
		canonID := canonicalParent(node.Parents)
		fs.store.InvalidateChildren(canonID)
		if canon, ok := fs.arena.byRemoteID(canonID); ok {
			fs.staleListing(canon.ino)
			stale = append(stale, entryRef{canon.ino, node.Name})
		}
		return stale
	}

	n.mu.Lock()
	oldNode := n.node
	oldName := n.name
	oldParentIno := n.parentIno
	if n.detached == detachedRemote {
		n.detached = attached // untrashed
	}
	n.node = node
	if oldNode.Name != node.Name {
		n.name = node.Name
	}
	newName := n.name
	n.mu.Unlock()

	// A clean buffer whose source revision fell behind is dropped and
	// re-materialized on next read. Dirty buffers are exempt: local
	// edits win until their flush completes or is abandoned.
	if buf, ok := fs.pool.peek(n.ino); ok {
		buf.mu.Lock()
		invalid := !buf.dirty && buf.sourceRev != "" && buf.sourceRev != node.Revision
		buf.mu.Unlock()
		if invalid {
			fs.pool.remove(n.ino)
		}
	}

	moved := canonicalParent(oldNode.Parents) != canonicalParent(node.Parents)
	renamed := oldName != newName
	if !moved && !renamed {
		return stale
	}

	canonID := canonicalParent(node.Parents)
	fs.store.InvalidateChildren(canonID)
	if len(oldNode.Parents) > 0 {
		fs.store.InvalidateChildren(canonicalParent(oldNode.Parents))
	}

	// Drop the old entry eagerly, then let the canonical listing pick
	// the item up with collision handling on its next rebuild.
	if parent, ok := fs.arena.get(oldParentIno); ok {
		parent.mu.RLock()
		l := parent.listing
		parent.mu.RUnlock()
		if l != nil {
			l.mu.Lock()
			if l.entries[oldName] == n.ino {
				delete(l.entries, oldName)
			}
			l.mu.Unlock()
		}
		fs.staleListing(oldParentIno)
		stale = append(stale, entryRef{oldParentIno, oldName})
	}
	if canon, ok := fs.arena.byRemoteID(canonID); ok {
		n.mu.Lock()
		n.parentIno = canon.ino
		n.mu.Unlock()
		fs.staleListing(canon.ino)
		stale = append(stale, entryRef{canon.ino, newName})
	}
	return stale
}
