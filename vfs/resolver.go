package vfs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pranavmk98/gDocsFS/gdrive"
)

// minSuffixLen is the shortest remote-id prefix used to disambiguate
// colliding names within one listing.
const minSuffixLen = 8

// listing is the exposed directory state of one folder inode: a name to
// child-inode map plus a freshness stamp. Guarded by its own lock,
// independent of the folder's inode lock.
type listing struct {
	mu      sync.RWMutex
	entries map[string]uint64
	fetched time.Time
}

// canonicalParent picks the single parent that contributes an item to
// the exposed tree: the lexicographically smallest parent id. Items
// with no parents are reachable only by id, never through a listing.
func canonicalParent(parents []string) string {
	if len(parents) == 0 {
		return ""
	}
	min := parents[0]
	for _, p := range parents[1:] {
		if p < min {
			min = p
		}
	}
	return min
}

// exposedName is one flattened directory entry.
type exposedName struct {
	name string
	node gdrive.Node
}

// flatten derives the exposed entries of one folder from its remote
// children: only items whose canonical parent is this folder appear,
// and name collisions are resolved deterministically. Within a group of
// identically named items the one with the smallest remote id keeps the
// bare name; each other becomes name-<id-prefix>, the prefix being the
// shortest one (at least minSuffixLen) that is unique within the group
// and does not itself collide with another exposed name.
func flatten(folderID string, children []gdrive.Node) []exposedName {
	var kept []gdrive.Node
	for _, c := range children {
		if c.Trashed {
			continue
		}
		if canonicalParent(c.Parents) != folderID {
			continue
		}
		kept = append(kept, c)
	}

	byName := make(map[string][]gdrive.Node)
	for _, c := range kept {
		byName[c.Name] = append(byName[c.Name], c)
	}

	taken := make(map[string]bool, len(kept))
	for name := range byName {
		taken[name] = true
	}

	out := make([]exposedName, 0, len(kept))
	for name, group := range byName {
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		out = append(out, exposedName{name: name, node: group[0]})
		for _, n := range group[1:] {
			alias := suffixedName(name, n.ID, taken)
			taken[alias] = true
			out = append(out, exposedName{name: alias, node: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// suffixedName builds name-<id-prefix>, growing the prefix past
// minSuffixLen until the result is unused. Deterministic for a given
// remote state, so aliases are stable across repeated listings.
func suffixedName(name, id string, taken map[string]bool) string {
	for l := minSuffixLen; ; l++ {
		prefix := id
		if l < len(id) {
			prefix = id[:l]
		}
		alias := name + "-" + prefix
		if !taken[alias] {
			return alias
		}
		if l >= len(id) {
			// Ids are unique, so two items can tie only until the full
			// id is spelled out.
			return alias
		}
	}
}

// ensureListing returns the folder's listing, populating or refreshing
// it from the remote store when missing or past its freshness window.
// The fetch runs without any lock held; concurrent misses are coalesced
// by the store's caching layer.
func (fs *FS) ensureListing(ctx context.Context, folder *Inode) (*listing, error) {
	folder.mu.Lock()
	if folder.kind != KindFolder {
		folder.mu.Unlock()
		return nil, gdrive.ErrNotFound
	}
	if folder.detached != attached {
		folder.mu.Unlock()
		return nil, gdrive.ErrNotFound
	}
	if folder.listing == nil {
		folder.listing = &listing{}
	}
	l := folder.listing
	folderID := folder.id
	folder.mu.Unlock()

	l.mu.RLock()
	fresh := l.entries != nil && time.Since(l.fetched) < fs.cfg.ListingTTL
	l.mu.RUnlock()
	if fresh {
		return l, nil
	}
	if err := fs.rebuildListing(ctx, folder, l, folderID); err != nil {
		return nil, err
	}
	return l, nil
}

// rebuildListing re-fetches a folder's children and installs the
// flattened entries, preserving local-only children (drafts, symlinks)
// that have no remote presence yet.
func (fs *FS) rebuildListing(ctx context.Context, folder *Inode, l *listing, folderID string) error {
	children, err := fs.store.ListChildren(ctx, folderID)
	if err != nil {
		return fmt.Errorf("failed to list folder %s: %w", folderID, err)
	}
	exposed := flatten(folderID, children)

	entries := make(map[string]uint64, len(exposed))
	for _, e := range exposed {
		child := fs.arena.intern(e.node, folder.ino, e.name)
		if fs.isLocallyUnlinked(child) {
			// Trashed here but the remote listing has not caught up.
			continue
		}
		fs.placeChild(child, folder.ino, e.name)
		entries[e.name] = child.ino
	}

	// Local-only children keep their names even against a remote
	// claimant; local state wins until the draft's first flush.
	l.mu.Lock()
	for name, ino := range l.entries {
		if child, ok := fs.arena.get(ino); ok && fs.isLocalOnly(child) {
			entries[name] = ino
		}
	}
	l.entries = entries
	l.fetched = time.Now()
	l.mu.Unlock()
	return nil
}

// isLocallyUnlinked reports whether the inode was unlinked through this
// mount, regardless of what stale remote listings still show.
func (fs *FS) isLocallyUnlinked(n *Inode) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.detached == detachedLocal
}

// placeChild records an inode's canonical placement. Detached state is
// cleared when a listing shows the item live again (an untrash).
func (fs *FS) placeChild(child *Inode, parentIno uint64, name string) {
	child.mu.Lock()
	child.parentIno = parentIno
	child.name = name
	if child.detached == detachedRemote {
		child.detached = attached
	}
	child.mu.Unlock()
}

// isLocalOnly reports whether an inode exists only in this mount:
// a live draft file or symlink.
func (fs *FS) isLocalOnly(n *Inode) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id == "" && n.detached == attached
}

// staleListing marks a folder's listing for re-fetch on next access.
func (fs *FS) staleListing(folderIno uint64) {
	n, ok := fs.arena.get(folderIno)
	if !ok {
		return
	}
	n.mu.RLock()
	l := n.listing
	n.mu.RUnlock()
	if l == nil {
		return
	}
	l.mu.Lock()
	l.fetched = time.Time{}
	l.mu.Unlock()
}

// Lookup resolves one name within a folder.
func (fs *FS) Lookup(ctx context.Context, parentIno uint64, name string) (Info, error) {
	parent, ok := fs.arena.get(parentIno)
	if !ok {
		return Info{}, gdrive.ErrNotFound
	}
	l, err := fs.ensureListing(ctx, parent)
	if err != nil {
		return Info{}, err
	}
	l.mu.RLock()
	ino, ok := l.entries[name]
	l.mu.RUnlock()
	if !ok {
		return Info{}, fmt.Errorf("%s: %w", name, gdrive.ErrNotFound)
	}
	return fs.Stat(ino)
}

// DirEntry is one readdir row.
type DirEntry struct {
	Name string
	Ino  uint64
	Kind Kind
}

// Listing returns a folder's entries, sorted by name.
func (fs *FS) Listing(ctx context.Context, folderIno uint64) ([]DirEntry, error) {
	folder, ok := fs.arena.get(folderIno)
	if !ok {
		return nil, gdrive.ErrNotFound
	}
	l, err := fs.ensureListing(ctx, folder)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	names := make([]string, 0, len(l.entries))
	for name := range l.entries {
		names = append(names, name)
	}
	inos := make(map[string]uint64, len(l.entries))
	for name, ino := range l.entries {
		inos[name] = ino
	}
	l.mu.RUnlock()

	sort.Strings(names)
	out := make([]DirEntry, 0, len(names))
	for _, name := range names {
		ino := inos[name]
		child, ok := fs.arena.get(ino)
		if !ok {
			continue
		}
		child.mu.RLock()
		kind := child.kind
		child.mu.RUnlock()
		out = append(out, DirEntry{Name: name, Ino: ino, Kind: kind})
	}
	return out, nil
}

// Resolve walks an absolute slash-separated path to an inode number.
func (fs *FS) Resolve(ctx context.Context, path string) (uint64, error) {
	ino := RootIno
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		info, err := fs.Lookup(ctx, ino, seg)
		if err != nil {
			return 0, err
		}
		ino = info.Ino
	}
	return ino, nil
}

// PathOf rebuilds an inode's path by walking canonical parents up to
// the root. Best-effort: ok is false for detached or unplaced inodes.
func (fs *FS) PathOf(ino uint64) (string, bool) {
	if ino == RootIno {
		return "/", true
	}
	var parts []string
	for ino != RootIno {
		n, ok := fs.arena.get(ino)
		if !ok {
			return "", false
		}
		n.mu.RLock()
		name := n.name
		parent := n.parentIno
		det := n.detached
		n.mu.RUnlock()
		if det != attached || parent == 0 || name == "" {
			return "", false
		}
		parts = append(parts, name)
		ino = parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/"), true
}
