// Package state persists the small amount of per-user local state the
// filesystem needs across mounts: the change-stream cursor and attribute
// overrides the remote store has no fields for.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Override records attribute values set locally on one item. The remote
// store has no notion of POSIX permissions, ownership, or explicit
// timestamp writes, so these live only in local state. Nil fields are
// unset and fall through to the defaults.
type Override struct {
	Mode  *uint32    `json:"mode,omitempty"`
	UID   *uint32    `json:"uid,omitempty"`
	GID   *uint32    `json:"gid,omitempty"`
	Atime *time.Time `json:"atime,omitempty"`
	Mtime *time.Time `json:"mtime,omitempty"`
}

// empty reports whether every field is unset.
func (o *Override) empty() bool {
	return o.Mode == nil && o.UID == nil && o.GID == nil && o.Atime == nil && o.Mtime == nil
}

// fileState is the on-disk JSON layout.
type fileState struct {
	// Cursor is the change-stream position to resume polling from.
	Cursor string `json:"cursor,omitempty"`
	// Overrides maps remote item IDs to local attribute overrides.
	Overrides map[string]*Override `json:"overrides,omitempty"`
}

// Store manages local filesystem state, persisted to a JSON file.
type Store struct {
	Path string

	mu        sync.RWMutex
	cursor    string
	overrides map[string]*Override
}

// NewStore creates a new Store. If path is empty, defaults to
// ~/.gdocsfs/state.json.
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, ".gdocsfs", "state.json")
	}
	s := &Store{
		Path:      path,
		overrides: make(map[string]*Override),
	}
	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// Load reads state from disk. Returns os.ErrNotExist if the file doesn't
// exist yet.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return err
	}

	var fs fileState
	if err := json.Unmarshal(data, &fs); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = fs.Cursor
	s.overrides = fs.Overrides
	if s.overrides == nil {
		s.overrides = make(map[string]*Override)
	}
	return nil
}

func (s *Store) saveLocked() error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(fileState{
		Cursor:    s.cursor,
		Overrides: s.overrides,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return os.WriteFile(s.Path, data, 0644)
}

// Cursor returns the persisted change-stream cursor, or "" if none.
func (s *Store) Cursor() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// SetCursor persists a new change-stream cursor.
func (s *Store) SetCursor(cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	return s.saveLocked()
}

// Override returns the overrides for an item, if any.
func (s *Store) Override(id string) (Override, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[id]
	if !ok {
		return Override{}, false
	}
	return *o, true
}

// getOrCreateLocked returns the override entry for an item, creating it
// if needed.
func (s *Store) getOrCreateLocked(id string) *Override {
	o, ok := s.overrides[id]
	if !ok {
		o = &Override{}
		s.overrides[id] = o
	}
	return o
}

// SetMode records a chmod on an item.
func (s *Store) SetMode(id string, mode uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateLocked(id).Mode = &mode
	return s.saveLocked()
}

// SetOwner records a chown on an item.
func (s *Store) SetOwner(id string, uid, gid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.getOrCreateLocked(id)
	o.UID = &uid
	o.GID = &gid
	return s.saveLocked()
}

// SetTimes records explicit timestamp writes on an item. Nil arguments
// leave the corresponding field untouched.
func (s *Store) SetTimes(id string, atime, mtime *time.Time) error {
	if atime == nil && mtime == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.getOrCreateLocked(id)
	if atime != nil {
		t := *atime
		o.Atime = &t
	}
	if mtime != nil {
		t := *mtime
		o.Mtime = &t
	}
	return s.saveLocked()
}

// Rebind moves overrides from one item ID to another. Used when a draft
// item gains its permanent remote ID on first upload.
func (s *Store) Rebind(oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overrides[oldID]
	if !ok {
		return nil
	}
	delete(s.overrides, oldID)
	s.overrides[newID] = o
	return s.saveLocked()
}

// Forget drops the overrides for an item, if any. Called when an item
// is removed remotely or locally.
func (s *Store) Forget(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.overrides[id]; !ok {
		return nil
	}
	delete(s.overrides, id)
	return s.saveLocked()
}

// Compact drops empty override entries and persists. Called on unmount.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.overrides {
		if o.empty() {
			delete(s.overrides, id)
		}
	}
	return s.saveLocked()
}
