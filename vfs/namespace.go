package vfs

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/pranavmk98/gDocsFS/gdrive"
	"github.com/pranavmk98/gDocsFS/state"
)

// Create makes a draft file: it exists only in this mount until its
// first flush uploads it and binds a remote id. The returned inode is
// not yet open; the dispatcher calls Open separately.
func (fs *FS) Create(ctx context.Context, parentIno uint64, name string) (Info, error) {
	parent, ok := fs.arena.get(parentIno)
	if !ok {
		return Info{}, gdrive.ErrNotFound
	}
	l, err := fs.ensureListing(ctx, parent)
	if err != nil {
		return Info{}, err
	}

	l.mu.Lock()
	if _, taken := l.entries[name]; taken {
		l.mu.Unlock()
		return Info{}, fmt.Errorf("%s: %w", name, ErrExists)
	}
	n := fs.arena.newLocal(KindFile, parentIno, name, "")
	l.entries[name] = n.ino
	l.mu.Unlock()

	// The draft starts with an empty dirty buffer so that even an
	// untouched new file is created remotely on close.
	fs.pool.install(ctx, n.ino, &buffer{dirty: true, gen: 1})
	return fs.Stat(n.ino)
}

// Mkdir creates a folder remotely right away; folders have no content
// to buffer, so there is nothing to defer.
func (fs *FS) Mkdir(ctx context.Context, parentIno uint64, name string) (Info, error) {
	parent, ok := fs.arena.get(parentIno)
	if !ok {
		return Info{}, gdrive.ErrNotFound
	}
	l, err := fs.ensureListing(ctx, parent)
	if err != nil {
		return Info{}, err
	}
	l.mu.RLock()
	_, taken := l.entries[name]
	l.mu.RUnlock()
	if taken {
		return Info{}, fmt.Errorf("%s: %w", name, ErrExists)
	}

	parent.mu.RLock()
	parentID := parent.id
	parent.mu.RUnlock()

	node, err := fs.store.Upload(ctx, gdrive.UploadRequest{
		ParentID: parentID,
		Name:     name,
		MimeType: gdrive.MimeTypeFolder,
	})
	if err != nil {
		return Info{}, fmt.Errorf("failed to create folder %s: %w", name, err)
	}

	n := fs.arena.intern(node, parentIno, name)
	fs.placeChild(n, parentIno, name)
	l.mu.Lock()
	l.entries[name] = n.ino
	l.mu.Unlock()
	return fs.Stat(n.ino)
}

// Symlink creates a mount-local symbolic link. The remote store has no
// symlink notion, so links live only until unmount.
func (fs *FS) Symlink(ctx context.Context, parentIno uint64, name, target string) (Info, error) {
	parent, ok := fs.arena.get(parentIno)
	if !ok {
		return Info{}, gdrive.ErrNotFound
	}
	l, err := fs.ensureListing(ctx, parent)
	if err != nil {
		return Info{}, err
	}
	l.mu.Lock()
	if _, taken := l.entries[name]; taken {
		l.mu.Unlock()
		return Info{}, fmt.Errorf("%s: %w", name, ErrExists)
	}
	n := fs.arena.newLocal(KindSymlink, parentIno, name, target)
	l.entries[name] = n.ino
	l.mu.Unlock()
	return fs.Stat(n.ino)
}

// Readlink returns a symlink's target.
func (fs *FS) Readlink(ino uint64) (string, error) {
	n, ok := fs.arena.get(ino)
	if !ok {
		return "", gdrive.ErrNotFound
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.detached != attached {
		return "", gdrive.ErrNotFound
	}
	if n.kind != KindSymlink {
		return "", gdrive.ErrUnsupportedOperation
	}
	return n.target, nil
}

// Unlink removes a file or symlink from its folder. Remote items are
// trashed; drafts and symlinks just disappear. The inode is detached
// but keeps its number, so open handles stay valid until release.
func (fs *FS) Unlink(ctx context.Context, parentIno uint64, name string) error {
	_, child, l, err := fs.childByName(ctx, parentIno, name)
	if err != nil {
		return err
	}

	child.mu.RLock()
	id := child.id
	kind := child.kind
	child.mu.RUnlock()
	if kind == KindFolder {
		return gdrive.ErrUnsupportedOperation
	}

	if id != "" {
		if err := fs.store.Trash(ctx, id); err != nil {
			return fmt.Errorf("failed to trash %s: %w", name, err)
		}
	}
	fs.forgetOverrides(overrideKey(id, child.ino))
	fs.inflight.cancel(child.ino)

	l.mu.Lock()
	if l.entries[name] == child.ino {
		delete(l.entries, name)
	}
	l.mu.Unlock()

	fs.detach(child, detachedLocal)
	return nil
}

// Rmdir removes an empty folder.
func (fs *FS) Rmdir(ctx context.Context, parentIno uint64, name string) error {
	_, child, l, err := fs.childByName(ctx, parentIno, name)
	if err != nil {
		return err
	}

	child.mu.RLock()
	id := child.id
	kind := child.kind
	child.mu.RUnlock()
	if kind != KindFolder {
		return gdrive.ErrUnsupportedOperation
	}

	cl, err := fs.ensureListing(ctx, child)
	if err != nil {
		return err
	}
	cl.mu.RLock()
	n := len(cl.entries)
	cl.mu.RUnlock()
	if n > 0 {
		return fmt.Errorf("%s: %w", name, ErrNotEmpty)
	}

	if err := fs.store.Trash(ctx, id); err != nil {
		return fmt.Errorf("failed to trash folder %s: %w", name, err)
	}
	fs.forgetOverrides(id)

	l.mu.Lock()
	if l.entries[name] == child.ino {
		delete(l.entries, name)
	}
	l.mu.Unlock()

	fs.detach(child, detachedLocal)
	return nil
}

// Rename moves or renames an item. The inode number is preserved, so
// open handles survive. If the destination name exists it is replaced,
// which trashes the replaced remote item. A multi-parent item may end
// up exposed under a canonical parent other than the rename target; the
// placement rule is deterministic and listings reconverge on access.
func (fs *FS) Rename(ctx context.Context, oldParentIno uint64, oldName string, newParentIno uint64, newName string) error {
	oldParent, child, oldL, err := fs.childByName(ctx, oldParentIno, oldName)
	if err != nil {
		return err
	}
	newParent, ok := fs.arena.get(newParentIno)
	if !ok {
		return gdrive.ErrNotFound
	}
	newL, err := fs.ensureListing(ctx, newParent)
	if err != nil {
		return err
	}

	newL.mu.RLock()
	targetIno, replacing := newL.entries[newName]
	newL.mu.RUnlock()
	if replacing && targetIno == child.ino {
		return nil
	}
	if replacing {
		if err := fs.replaceTarget(ctx, targetIno, newName); err != nil {
			return err
		}
	}

	child.mu.RLock()
	id := child.id
	curName := child.name
	parents := append([]string(nil), child.node.Parents...)
	child.mu.RUnlock()
	oldParent.mu.RLock()
	oldParentID := oldParent.id
	oldParent.mu.RUnlock()
	newParent.mu.RLock()
	newParentID := newParent.id
	newParent.mu.RUnlock()

	if id != "" {
		if curName != newName {
			if err := fs.store.Rename(ctx, id, newName); err != nil {
				return fmt.Errorf("failed to rename %s: %w", oldName, err)
			}
		}
		if oldParentIno != newParentIno {
			if err := fs.store.Move(ctx, id, oldParentID, newParentID); err != nil {
				return fmt.Errorf("failed to move %s: %w", oldName, err)
			}
			kept := parents[:0]
			for _, p := range parents {
				if p != oldParentID {
					kept = append(kept, p)
				}
			}
			parents = append(kept, newParentID)
		}
	}

	// Canonical placement after the move. For a multi-parent item the
	// smallest parent id wins, which need not be the rename target.
	placeIno := newParentIno
	if id != "" && len(parents) > 0 {
		canonID := canonicalParent(parents)
		if canonID != newParentID {
			if canon, ok := fs.arena.byRemoteID(canonID); ok {
				placeIno = canon.ino
			}
		}
	}

	first, second := oldL, newL
	if oldParentIno > newParentIno {
		first, second = newL, oldL
	}
	first.mu.Lock()
	if second != first {
		second.mu.Lock()
	}
	if oldL.entries[oldName] == child.ino {
		delete(oldL.entries, oldName)
	}
	if placeIno == newParentIno {
		newL.entries[newName] = child.ino
	}
	if second != first {
		second.mu.Unlock()
	}
	first.mu.Unlock()

	child.mu.Lock()
	child.name = newName
	child.parentIno = placeIno
	if id != "" {
		child.node.Parents = parents
		child.node.Name = newName
	}
	child.mu.Unlock()

	if placeIno != newParentIno {
		fs.staleListing(placeIno)
	}
	return nil
}

// replaceTarget trashes the item a rename is overwriting.
func (fs *FS) replaceTarget(ctx context.Context, targetIno uint64, name string) error {
	target, ok := fs.arena.get(targetIno)
	if !ok {
		return nil
	}
	target.mu.RLock()
	id := target.id
	kind := target.kind
	target.mu.RUnlock()
	if kind == KindFolder {
		// Directory-onto-directory renames would need an emptiness
		// check and recursive semantics the remote store cannot give.
		return gdrive.ErrUnsupportedOperation
	}
	if id != "" {
		if err := fs.store.Trash(ctx, id); err != nil {
			return fmt.Errorf("failed to replace %s: %w", name, err)
		}
	}
	fs.forgetOverrides(overrideKey(id, targetIno))
	fs.inflight.cancel(targetIno)
	fs.detach(target, detachedLocal)
	return nil
}

// childByName resolves one listing entry and returns the parent inode,
// the child inode and the parent's listing.
func (fs *FS) childByName(ctx context.Context, parentIno uint64, name string) (*Inode, *Inode, *listing, error) {
	parent, ok := fs.arena.get(parentIno)
	if !ok {
		return nil, nil, nil, gdrive.ErrNotFound
	}
	l, err := fs.ensureListing(ctx, parent)
	if err != nil {
		return nil, nil, nil, err
	}
	l.mu.RLock()
	ino, ok := l.entries[name]
	l.mu.RUnlock()
	if !ok {
		return nil, nil, nil, fmt.Errorf("%s: %w", name, gdrive.ErrNotFound)
	}
	child, ok := fs.arena.get(ino)
	if !ok {
		return nil, nil, nil, gdrive.ErrNotFound
	}
	return parent, child, l, nil
}

// detach takes an inode out of the namespace. Buffers are dropped when
// no handle remains, except that a remotely trashed dirty buffer stays
// so the conflict can surface at unmount.
func (fs *FS) detach(n *Inode, reason detachReason) {
	n.mu.Lock()
	if n.detached == attached {
		n.detached = reason
	}
	handles := n.handles
	n.mu.Unlock()
	if handles > 0 {
		return
	}
	if reason == detachedRemote {
		if buf, ok := fs.pool.peek(n.ino); ok {
			if _, dirty := buf.snapshotLen(); dirty {
				return
			}
		}
	}
	fs.pool.remove(n.ino)
}

// --- Local attribute overrides ---

// overrideKey identifies an inode in the persistent override store.
// Drafts use a synthetic key rebound to the real id at first flush.
func overrideKey(id string, ino uint64) string {
	if id != "" {
		return id
	}
	return "draft:" + strconv.FormatUint(ino, 10)
}

func (fs *FS) overrideKeyFor(ino uint64) (string, error) {
	n, ok := fs.arena.get(ino)
	if !ok {
		return "", gdrive.ErrNotFound
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return overrideKey(n.id, n.ino), nil
}

// OverrideFor returns the locally stored attribute overrides.
func (fs *FS) OverrideFor(ino uint64) (state.Override, bool) {
	if fs.cfg.State == nil {
		return state.Override{}, false
	}
	key, err := fs.overrideKeyFor(ino)
	if err != nil {
		return state.Override{}, false
	}
	return fs.cfg.State.Override(key)
}

// SetMode records a chmod. Modes are a local fiction; the remote store
// has no notion of them.
func (fs *FS) SetMode(ino uint64, mode uint32) error {
	if fs.cfg.State == nil {
		return nil
	}
	key, err := fs.overrideKeyFor(ino)
	if err != nil {
		return err
	}
	return fs.cfg.State.SetMode(key, mode)
}

// SetOwner records a chown.
func (fs *FS) SetOwner(ino uint64, uid, gid uint32) error {
	if fs.cfg.State == nil {
		return nil
	}
	key, err := fs.overrideKeyFor(ino)
	if err != nil {
		return err
	}
	return fs.cfg.State.SetOwner(key, uid, gid)
}

// SetTimes records a utimens. Nil pointers leave that time untouched.
func (fs *FS) SetTimes(ino uint64, atime, mtime *time.Time) error {
	if fs.cfg.State == nil {
		return nil
	}
	key, err := fs.overrideKeyFor(ino)
	if err != nil {
		return err
	}
	return fs.cfg.State.SetTimes(key, atime, mtime)
}

func (fs *FS) forgetOverrides(id string) {
	if fs.cfg.State == nil {
		return
	}
	if err := fs.cfg.State.Forget(id); err != nil {
		log.Printf("vfs: failed to drop overrides for %s: %v", id, err)
	}
}
