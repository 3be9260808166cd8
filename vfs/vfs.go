// Package vfs is the projection core of the filesystem: it flattens the
// remote store's multi-parent graph into a strict tree, assigns stable
// local inode numbers, materializes file content on demand, buffers
// writes locally and flushes them back with revision preconditions, and
// reconciles remote changes into the local view.
//
// The package is kernel-independent. The fuse package translates kernel
// calls into calls on FS; everything below the FS surface works in terms
// of inode numbers and gdrive types, so the whole core is exercisable in
// tests against an in-memory store.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pranavmk98/gDocsFS/gdrive"
	"github.com/pranavmk98/gDocsFS/state"
)

// RootIno is the inode number of the mount root. Inode numbers are
// assigned monotonically from here and stay stable for the lifetime of
// the mount; they are never reused.
const RootIno uint64 = 1

// Defaults applied by New when the corresponding Config field is zero.
const (
	// defaultMaxBuffers bounds the content buffer pool. Past the bound
	// the least recently used buffer is evicted, flushing first if dirty.
	defaultMaxBuffers = 64

	// defaultListingTTL is how long a populated directory listing is
	// trusted before the next access re-fetches it.
	defaultListingTTL = 30 * time.Second
)

// Namespace errors surfaced by directory operations, mapped by the
// dispatcher onto ENOTEMPTY and EEXIST.
var (
	ErrNotEmpty = errors.New("directory not empty")
	ErrExists   = errors.New("name already exists")
)

// Store is the remote access surface the projection core needs: the
// remote operations plus the cache maintenance hooks invoked after
// successful uploads and during change reconciliation.
// gdrive.CachingStore satisfies it.
type Store interface {
	gdrive.RemoteStore

	// Update writes a node into the metadata cache, replacing any
	// cached copy without a remote round trip.
	Update(node gdrive.Node)

	// Invalidate drops an item's cached metadata.
	Invalidate(itemID string)

	// InvalidateChildren drops a folder's cached listing.
	InvalidateChildren(folderID string)
}

var _ Store = (*gdrive.CachingStore)(nil)

// Config carries the tunables for an FS.
type Config struct {
	// RootID is the remote id of the folder exposed as the mount root.
	// Defaults to "root", which the remote store aliases to the drive root.
	RootID string

	// MaxBuffers bounds how many content buffers are held in memory.
	MaxBuffers int

	// ListingTTL is the freshness window for directory listings.
	ListingTTL time.Duration

	// PollInterval is the change reconciler cadence. Zero disables the
	// poll loop; Poll and Kick still work when called directly.
	PollInterval time.Duration

	// State persists the change cursor and local attribute overrides
	// across mounts. May be nil, in which case neither survives.
	State *state.Store

	// OnInvalidateEntry, when set, is called from the reconciler for
	// every directory entry whose name or target changed remotely, so
	// the kernel's cached dentries can be dropped. Called from a
	// dedicated goroutine, never under internal locks.
	OnInvalidateEntry func(parentIno uint64, name string)
}

// FS is the projection core. One FS serves one mount.
type FS struct {
	store Store
	cfg   Config

	arena *arena
	pool  *bufferPool

	// inflight tracks pending uploads by inode so a concurrent trash or
	// truncate can cancel them.
	inflight inflightTable

	reconciler *reconciler
	mountTime  time.Time

	invalMu      sync.RWMutex
	onInvalidate func(parentIno uint64, name string)
}

// New builds an FS rooted at cfg.RootID and verifies the root exists.
// If cfg.PollInterval is positive the change reconciler starts polling
// immediately; stop it with Close.
func New(ctx context.Context, store Store, cfg Config) (*FS, error) {
	if cfg.RootID == "" {
		cfg.RootID = "root"
	}
	if cfg.MaxBuffers <= 0 {
		cfg.MaxBuffers = defaultMaxBuffers
	}
	if cfg.ListingTTL <= 0 {
		cfg.ListingTTL = defaultListingTTL
	}

	root, err := store.GetMetadata(ctx, cfg.RootID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root folder %q: %w", cfg.RootID, err)
	}

	fs := &FS{
		store:        store,
		cfg:          cfg,
		arena:        newArena(),
		mountTime:    time.Now(),
		onInvalidate: cfg.OnInvalidateEntry,
	}
	fs.pool = newBufferPool(cfg.MaxBuffers, fs.evictBuffer)
	fs.arena.internRoot(root)

	fs.reconciler = newReconciler(fs, cfg.PollInterval)
	if cfg.PollInterval > 0 {
		fs.reconciler.start()
	}
	return fs, nil
}

// Close stops the reconciler, flushes every dirty buffer, and compacts
// the persisted state. The first flush failure is returned but does not
// stop the remaining flushes.
func (fs *FS) Close(ctx context.Context) error {
	fs.reconciler.stop()
	err := fs.FlushAll(ctx)
	if fs.cfg.State != nil {
		if cerr := fs.cfg.State.Compact(); cerr != nil {
			log.Printf("vfs: state compaction failed: %v", cerr)
		}
	}
	return err
}

// FlushAll flushes every dirty buffer, continuing past individual
// failures. Used at unmount and by tests.
func (fs *FS) FlushAll(ctx context.Context) error {
	var firstErr error
	for _, ino := range fs.pool.dirtyInodes() {
		if err := fs.Flush(ctx, ino); err != nil {
			log.Printf("vfs: flush of inode %d failed: %v", ino, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SetOnInvalidateEntry installs the dentry invalidation callback after
// construction. The kernel dispatcher is built on top of an FS, so it
// usually cannot provide the callback in Config.
func (fs *FS) SetOnInvalidateEntry(fn func(parentIno uint64, name string)) {
	fs.invalMu.Lock()
	fs.onInvalidate = fn
	fs.invalMu.Unlock()
}

func (fs *FS) invalidateEntryFn() func(uint64, string) {
	fs.invalMu.RLock()
	defer fs.invalMu.RUnlock()
	return fs.onInvalidate
}

// Kick asks the reconciler for an immediate poll.
func (fs *FS) Kick() {
	fs.reconciler.kickNow()
}

// Poll runs one reconciliation pass synchronously.
func (fs *FS) Poll(ctx context.Context) error {
	return fs.reconciler.poll(ctx)
}

// Statfs reports remote quota for the mount, in bytes. ok is false when
// the remote store could not say.
func (fs *FS) Statfs(ctx context.Context) (limit, usage int64, ok bool) {
	about, err := fs.store.About(ctx)
	if err != nil {
		log.Printf("vfs: statfs: %v", err)
		return 0, 0, false
	}
	return about.Limit, about.Usage, true
}

// MountTime is when this FS was created. Used as the timestamp fallback
// for local-only nodes.
func (fs *FS) MountTime() time.Time {
	return fs.mountTime
}

// State returns the persistent local-state store, or nil.
func (fs *FS) State() *state.Store {
	return fs.cfg.State
}
