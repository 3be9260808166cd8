// Package mockdrive provides an in-memory document store for testing.
//
// It implements the full store contract including multi-parent items,
// revision preconditions, trashing, and a change journal for cursor
// polling. Mutators bump revisions atomically, so concurrent-writer
// conflicts behave the way the real backend's version counter does.
//
// Usage:
//
//	s := mockdrive.New(
//		mockdrive.WithFolder("folder-1", "root", "docs"),
//		mockdrive.WithFile("file-1", "folder-1", "notes.txt", "text/plain", []byte("hi")),
//	)
package mockdrive

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pranavmk98/gDocsFS/gdrive"
)

// RootID is the identifier preconfigured stores use for the root folder.
const RootID = "root"

// item is one stored node plus its content bytes.
type item struct {
	node    gdrive.Node
	version int64
	content []byte
}

// Store is an in-memory implementation of gdrive.RemoteStore.
type Store struct {
	mu      sync.Mutex
	items   map[string]*item
	journal []gdrive.Change
	nextID  int64
	quota   int64

	listCalls     int32
	metaCalls     int32
	downloadCalls int32
	uploadCalls   int32
	trashCalls    int32
	moveCalls     int32
	renameCalls   int32
	pollCalls     int32

	// errorHook, if set, runs before every operation and can inject a
	// failure. op is the operation name, id the item involved.
	errorHook func(op, id string) error
}

var _ gdrive.RemoteStore = (*Store)(nil)

// Option configures a mock store.
type Option func(*Store)

// WithFolder registers a folder under the given parent.
func WithFolder(id, parentID, name string) Option {
	return WithNode(gdrive.Node{
		ID:       id,
		Name:     name,
		MimeType: gdrive.MimeTypeFolder,
		Parents:  []string{parentID},
	}, nil)
}

// WithFile registers a file with content under the given parent.
func WithFile(id, parentID, name, mimeType string, content []byte) Option {
	return WithNode(gdrive.Node{
		ID:       id,
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(content)),
		Parents:  []string{parentID},
	}, content)
}

// WithNode registers an arbitrary node, including multi-parent ones.
// An empty revision defaults to "1".
func WithNode(node gdrive.Node, content []byte) Option {
	return func(s *Store) {
		it := &item{node: node, version: 1, content: content}
		if node.Revision != "" {
			if v, err := strconv.ParseInt(node.Revision, 10, 64); err == nil {
				it.version = v
			}
		}
		it.node.Revision = strconv.FormatInt(it.version, 10)
		if it.node.ModifiedTime == "" {
			it.node.ModifiedTime = time.Now().UTC().Format(time.RFC3339)
		}
		s.items[node.ID] = it
	}
}

// WithQuota sets the storage limit reported by About.
func WithQuota(limit int64) Option {
	return func(s *Store) {
		s.quota = limit
	}
}

// New creates a mock store. The root folder exists implicitly; only
// items placed under it need registering.
func New(opts ...Option) *Store {
	s := &Store{
		items: make(map[string]*item),
	}
	WithNode(gdrive.Node{ID: RootID, Name: "", MimeType: gdrive.MimeTypeFolder}, nil)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetErrorHook installs a hook invoked before every operation. A non-nil
// return aborts the operation with that error. Pass nil to clear.
func (s *Store) SetErrorHook(fn func(op, id string) error) {
	s.mu.Lock()
	s.errorHook = fn
	s.mu.Unlock()
}

func (s *Store) hookErr(op, id string) error {
	s.mu.Lock()
	fn := s.errorHook
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(op, id)
}

// UploadCount returns the number of Upload calls made so far.
func (s *Store) UploadCount() int32 { return atomic.LoadInt32(&s.uploadCalls) }

// DownloadCount returns the number of Download calls made so far.
func (s *Store) DownloadCount() int32 { return atomic.LoadInt32(&s.downloadCalls) }

// ListCount returns the number of ListChildren calls made so far.
func (s *Store) ListCount() int32 { return atomic.LoadInt32(&s.listCalls) }

// MetadataCount returns the number of GetMetadata calls made so far.
func (s *Store) MetadataCount() int32 { return atomic.LoadInt32(&s.metaCalls) }

// PollCount returns the number of PollChanges calls made so far.
func (s *Store) PollCount() int32 { return atomic.LoadInt32(&s.pollCalls) }

// ResetCounts zeroes all call counters.
func (s *Store) ResetCounts() {
	atomic.StoreInt32(&s.listCalls, 0)
	atomic.StoreInt32(&s.metaCalls, 0)
	atomic.StoreInt32(&s.downloadCalls, 0)
	atomic.StoreInt32(&s.uploadCalls, 0)
	atomic.StoreInt32(&s.trashCalls, 0)
	atomic.StoreInt32(&s.moveCalls, 0)
	atomic.StoreInt32(&s.renameCalls, 0)
	atomic.StoreInt32(&s.pollCalls, 0)
}

// Node returns a copy of the stored node, for test assertions.
func (s *Store) Node(id string) (gdrive.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return gdrive.Node{}, false
	}
	return copyNode(it.node), true
}

// Content returns a copy of the stored content, for test assertions.
func (s *Store) Content(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil
	}
	return append([]byte(nil), it.content...)
}

func copyNode(n gdrive.Node) gdrive.Node {
	n.Parents = append([]string(nil), n.Parents...)
	return n
}

// touchLocked bumps an item's version and modification time and appends
// the new state to the change journal.
func (s *Store) touchLocked(it *item) {
	it.version++
	it.node.Revision = strconv.FormatInt(it.version, 10)
	it.node.ModifiedTime = time.Now().UTC().Format(time.RFC3339)
	n := copyNode(it.node)
	s.journal = append(s.journal, gdrive.Change{ID: n.ID, Node: &n})
}

func (s *Store) ListChildren(ctx context.Context, folderID string) ([]gdrive.Node, error) {
	atomic.AddInt32(&s.listCalls, 1)
	if err := s.hookErr("list", folderID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[folderID]; !ok {
		return nil, fmt.Errorf("folder %s: %w", folderID, gdrive.ErrNotFound)
	}
	var nodes []gdrive.Node
	for _, it := range s.items {
		if it.node.Trashed {
			continue
		}
		for _, p := range it.node.Parents {
			if p == folderID {
				nodes = append(nodes, copyNode(it.node))
				break
			}
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (s *Store) GetMetadata(ctx context.Context, itemID string) (gdrive.Node, error) {
	atomic.AddInt32(&s.metaCalls, 1)
	if err := s.hookErr("metadata", itemID); err != nil {
		return gdrive.Node{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return gdrive.Node{}, fmt.Errorf("item %s: %w", itemID, gdrive.ErrNotFound)
	}
	return copyNode(it.node), nil
}

func (s *Store) Download(ctx context.Context, itemID, exportMIME string) ([]byte, error) {
	atomic.AddInt32(&s.downloadCalls, 1)
	if err := s.hookErr("download", itemID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok || it.node.Trashed {
		return nil, fmt.Errorf("item %s: %w", itemID, gdrive.ErrNotFound)
	}
	return append([]byte(nil), it.content...), nil
}

func (s *Store) Upload(ctx context.Context, req gdrive.UploadRequest) (gdrive.Node, error) {
	atomic.AddInt32(&s.uploadCalls, 1)
	if err := s.hookErr("upload", req.ID); err != nil {
		return gdrive.Node{}, err
	}

	if mime, importable := gdrive.ExportFormat(req.MimeType); mime != "" && !importable {
		return gdrive.Node{}, fmt.Errorf("cannot import into %s: %w", req.MimeType, gdrive.ErrUnsupportedContent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		s.nextID++
		id := "item-" + strconv.FormatInt(s.nextID, 10)
		it := &item{
			node: gdrive.Node{
				ID:           id,
				Name:         req.Name,
				MimeType:     req.MimeType,
				Size:         int64(len(req.Data)),
				Parents:      []string{req.ParentID},
				CreatedTime:  time.Now().UTC().Format(time.RFC3339),
				ModifiedTime: time.Now().UTC().Format(time.RFC3339),
			},
			version: 1,
			content: append([]byte(nil), req.Data...),
		}
		it.node.Revision = "1"
		s.items[id] = it
		n := copyNode(it.node)
		s.journal = append(s.journal, gdrive.Change{ID: id, Node: &n})
		return copyNode(it.node), nil
	}

	it, ok := s.items[req.ID]
	if !ok || it.node.Trashed {
		return gdrive.Node{}, fmt.Errorf("item %s: %w", req.ID, gdrive.ErrNotFound)
	}
	// The revision check and the write happen under one lock, so two
	// racing writers can never both pass the precondition.
	if req.BaseRevision != "" && it.node.Revision != req.BaseRevision {
		return gdrive.Node{}, fmt.Errorf("upload of %s based on revision %s, remote is at %s: %w",
			req.ID, req.BaseRevision, it.node.Revision, gdrive.ErrConflict)
	}
	it.content = append([]byte(nil), req.Data...)
	it.node.Size = int64(len(req.Data))
	s.touchLocked(it)
	return copyNode(it.node), nil
}

// Delete permanently removes an item and journals a removal change,
// the way the real backend reports emptied trash. Test helper; the
// store contract itself only trashes.
func (s *Store) Delete(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return fmt.Errorf("item %s: %w", itemID, gdrive.ErrNotFound)
	}
	delete(s.items, itemID)
	s.journal = append(s.journal, gdrive.Change{ID: itemID, Removed: true})
	return nil
}

func (s *Store) Trash(ctx context.Context, itemID string) error {
	atomic.AddInt32(&s.trashCalls, 1)
	if err := s.hookErr("trash", itemID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, gdrive.ErrNotFound)
	}
	it.node.Trashed = true
	s.touchLocked(it)
	return nil
}

func (s *Store) Move(ctx context.Context, itemID, fromParent, toParent string) error {
	atomic.AddInt32(&s.moveCalls, 1)
	if err := s.hookErr("move", itemID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok || it.node.Trashed {
		return fmt.Errorf("item %s: %w", itemID, gdrive.ErrNotFound)
	}
	if _, ok := s.items[toParent]; !ok {
		return fmt.Errorf("folder %s: %w", toParent, gdrive.ErrNotFound)
	}
	parents := make([]string, 0, len(it.node.Parents))
	for _, p := range it.node.Parents {
		if p != fromParent {
			parents = append(parents, p)
		}
	}
	it.node.Parents = append(parents, toParent)
	s.touchLocked(it)
	return nil
}

func (s *Store) Rename(ctx context.Context, itemID, newName string) error {
	atomic.AddInt32(&s.renameCalls, 1)
	if err := s.hookErr("rename", itemID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok || it.node.Trashed {
		return fmt.Errorf("item %s: %w", itemID, gdrive.ErrNotFound)
	}
	it.node.Name = newName
	s.touchLocked(it)
	return nil
}

func (s *Store) PollChanges(ctx context.Context, cursor string) (gdrive.ChangeList, error) {
	atomic.AddInt32(&s.pollCalls, 1)
	if err := s.hookErr("poll", cursor); err != nil {
		return gdrive.ChangeList{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cursor == "" {
		return gdrive.ChangeList{NextCursor: strconv.Itoa(len(s.journal))}, nil
	}
	idx, err := strconv.Atoi(cursor)
	if err != nil || idx < 0 || idx > len(s.journal) {
		return gdrive.ChangeList{}, fmt.Errorf("cursor %q: %w", cursor, gdrive.ErrNotFound)
	}
	changes := make([]gdrive.Change, len(s.journal)-idx)
	copy(changes, s.journal[idx:])
	return gdrive.ChangeList{
		Changes:    changes,
		NextCursor: strconv.Itoa(len(s.journal)),
	}, nil
}

func (s *Store) About(ctx context.Context) (gdrive.About, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var usage int64
	for _, it := range s.items {
		usage += int64(len(it.content))
	}
	return gdrive.About{Limit: s.quota, Usage: usage}, nil
}
