package vfs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/pranavmk98/gDocsFS/gdrive"
)

// errEvicted tells a writer its buffer left the pool between lookup and
// mutation; the caller re-fetches from the pool and retries.
var errEvicted = errors.New("buffer evicted")

// buffer holds one file's materialized bytes. All fields are guarded by
// mu; critical sections are memory-only, uploads run on snapshots.
type buffer struct {
	mu        sync.Mutex
	data      []byte
	sourceRev string // revision the bytes were materialized from; "" for drafts
	dirty     bool
	conflict  bool
	evicted   bool
	// gen counts mutations. A flush records the gen it snapshotted and
	// only clears dirty if no write landed in between.
	gen uint64
	// flushAttempts counts uploads tried for the current dirty state.
	flushAttempts int
}

func (b *buffer) readAt(dest []byte, off int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if off >= int64(len(b.data)) {
		return 0
	}
	return copy(dest, b.data[off:])
}

// writeAt patches or extends the buffer, NUL-filling any gap between
// the current end and off.
func (b *buffer) writeAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.evicted {
		return 0, errEvicted
	}
	if need := off + int64(len(p)); need > int64(len(b.data)) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[off:], p)
	b.dirty = true
	b.gen++
	return len(p), nil
}

// truncate shrinks or NUL-extends the buffer to size.
func (b *buffer) truncate(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.evicted {
		return errEvicted
	}
	switch {
	case size < int64(len(b.data)):
		b.data = b.data[:size]
	case size > int64(len(b.data)):
		grown := make([]byte, size)
		copy(grown, b.data)
		b.data = grown
	default:
		return nil
	}
	b.dirty = true
	b.gen++
	return nil
}

// snapshot copies the current state for an upload.
func (b *buffer) snapshot() (data []byte, rev string, gen uint64, dirty bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...), b.sourceRev, b.gen, b.dirty
}

// complete applies a successful flush: the buffer now mirrors newRev.
// Writes that landed after the snapshot keep the buffer dirty.
func (b *buffer) complete(gen uint64, newRev string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sourceRev = newRev
	b.conflict = false
	b.flushAttempts = 0
	if b.gen == gen {
		b.dirty = false
	}
}

// bumpFlushAttempts counts one more upload of the current dirty state.
func (b *buffer) bumpFlushAttempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushAttempts++
	return b.flushAttempts
}

func (b *buffer) markConflict() {
	b.mu.Lock()
	b.conflict = true
	b.mu.Unlock()
}

func (b *buffer) snapshotLen() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data)), b.dirty
}

// bufferPool bounds how many materialized buffers stay in memory, in
// least-recently-used order. Eviction of a dirty buffer flushes it
// first; the flush runs outside the pool lock.
type bufferPool struct {
	mu    sync.Mutex
	limit int
	lru   *simplelru.LRU[uint64, *buffer]
	evict func(ctx context.Context, ino uint64, buf *buffer) bool
}

func newBufferPool(limit int, evict func(ctx context.Context, ino uint64, buf *buffer) bool) *bufferPool {
	// The LRU is sized past the enforced limit so a conflicted victim
	// can be put back without displacing anything silently.
	lru, err := simplelru.NewLRU[uint64, *buffer](2*limit+1, nil)
	if err != nil {
		panic(err)
	}
	return &bufferPool{limit: limit, lru: lru, evict: evict}
}

// get returns the buffer for ino and marks it recently used.
func (p *bufferPool) get(ino uint64) (*buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Get(ino)
}

// peek returns the buffer for ino without touching recency.
func (p *bufferPool) peek(ino uint64) (*buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Peek(ino)
}

// install adds a buffer for ino, evicting past the bound. If a buffer
// for ino already exists the existing one wins and is returned, so
// racing materializations converge on one buffer.
func (p *bufferPool) install(ctx context.Context, ino uint64, buf *buffer) *buffer {
	for attempts := 0; ; attempts++ {
		p.mu.Lock()
		if existing, ok := p.lru.Get(ino); ok {
			p.mu.Unlock()
			return existing
		}
		if p.lru.Len() < p.limit || attempts >= p.limit {
			p.lru.Add(ino, buf)
			p.mu.Unlock()
			return buf
		}
		oldIno, oldBuf, _ := p.lru.GetOldest()
		p.lru.Remove(oldIno)
		p.mu.Unlock()

		if !p.evict(ctx, oldIno, oldBuf) {
			// Victim would not go (dirty flush failed); keep it live
			// as most recently used and pick another.
			p.reinsert(oldIno, oldBuf)
		}
	}
}

// reinsert puts a buffer back after a failed eviction.
func (p *bufferPool) reinsert(ino uint64, buf *buffer) {
	p.mu.Lock()
	p.lru.Add(ino, buf)
	p.mu.Unlock()
}

// remove drops a buffer without flushing. Used by unlink/invalidation.
func (p *bufferPool) remove(ino uint64) {
	p.mu.Lock()
	if buf, ok := p.lru.Peek(ino); ok {
		buf.mu.Lock()
		buf.evicted = true
		buf.mu.Unlock()
		p.lru.Remove(ino)
	}
	p.mu.Unlock()
}

// dirtyInodes lists inodes whose buffers are dirty, oldest first.
func (p *bufferPool) dirtyInodes() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []uint64
	for _, ino := range p.lru.Keys() {
		if buf, ok := p.lru.Peek(ino); ok {
			if _, dirty := buf.snapshotLen(); dirty {
				out = append(out, ino)
			}
		}
	}
	return out
}

// --- Materializer: on-demand content buffers ---

// Read materializes the file's content if needed and copies from it at
// off. A short count at end of file is normal; zero at or past the end.
func (fs *FS) Read(ctx context.Context, ino uint64, dest []byte, off int64) (int, error) {
	n, ok := fs.arena.get(ino)
	if !ok {
		return 0, gdrive.ErrNotFound
	}
	buf, err := fs.materialize(ctx, n)
	if err != nil {
		return 0, err
	}
	return buf.readAt(dest, off), nil
}

// materialize returns a live buffer for the inode, downloading (or
// exporting, for native documents) on first access and whenever a clean
// buffer's source revision fell behind the cached metadata. Dirty
// buffers are never re-materialized; local edits win until flushed.
func (fs *FS) materialize(ctx context.Context, n *Inode) (*buffer, error) {
	n.mu.RLock()
	id := n.id
	det := n.detached
	n.mu.RUnlock()
	if det != attached {
		return nil, gdrive.ErrNotFound
	}

	if buf, ok := fs.pool.get(n.ino); ok {
		if fs.bufferCurrent(n, buf) {
			return buf, nil
		}
		fs.pool.remove(n.ino)
	}

	// Drafts have nothing remote to fetch; they start empty.
	if id == "" {
		return fs.pool.install(ctx, n.ino, &buffer{}), nil
	}

	md, err := fs.store.GetMetadata(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh %s before download: %w", id, err)
	}
	exportMIME := ""
	if md.IsNative() {
		exportMIME, _ = gdrive.ExportFormat(md.MimeType)
	}
	data, err := fs.store.Download(ctx, id, exportMIME)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize %s: %w", id, err)
	}

	n.mu.Lock()
	n.node = md
	n.mu.Unlock()

	buf := &buffer{data: data, sourceRev: md.Revision}
	return fs.pool.install(ctx, n.ino, buf), nil
}

// bufferCurrent reports whether a pooled buffer may serve reads: it is
// dirty (local edits outrank remote state), a draft, or its source
// revision still matches the cached metadata.
func (fs *FS) bufferCurrent(n *Inode, buf *buffer) bool {
	buf.mu.Lock()
	dirty := buf.dirty
	rev := buf.sourceRev
	buf.mu.Unlock()
	if dirty || rev == "" {
		return true
	}
	n.mu.RLock()
	current := n.node.Revision
	n.mu.RUnlock()
	return rev == current
}

// evictBuffer is the pool's eviction hook. Clean buffers are dropped;
// dirty ones are flushed exactly like a close would, conflict policy
// included. Reports false when the buffer must stay (flush failed or a
// write landed mid-flush).
func (fs *FS) evictBuffer(ctx context.Context, ino uint64, buf *buffer) bool {
	if _, dirty := buf.snapshotLen(); dirty {
		n, ok := fs.arena.get(ino)
		if !ok {
			return true
		}
		if err := fs.flushBuffer(ctx, n, buf); err != nil {
			log.Printf("vfs: eviction flush of inode %d failed: %v", ino, err)
			return false
		}
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.dirty {
		return false
	}
	buf.evicted = true
	return true
}
