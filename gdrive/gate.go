package gdrive

import (
	"context"

	"github.com/marusama/semaphore/v2"
)

// defaultConcurrency is the number of remote calls allowed in flight
// when no explicit limit is configured.
const defaultConcurrency = 8

// GatedStore wraps a RemoteStore and bounds the number of concurrent
// remote calls with a resizable semaphore. Waiting respects the caller's
// context.
type GatedStore struct {
	store RemoteStore
	sem   semaphore.Semaphore
}

var _ RemoteStore = (*GatedStore)(nil)

// NewGatedStore creates a GatedStore wrapping the given store.
// A non-positive limit selects the default.
func NewGatedStore(store RemoteStore, limit int) *GatedStore {
	if limit <= 0 {
		limit = defaultConcurrency
	}
	return &GatedStore{
		store: store,
		sem:   semaphore.New(limit),
	}
}

// SetLimit resizes the concurrency bound. Calls already waiting pick up
// the new limit immediately.
func (g *GatedStore) SetLimit(limit int) {
	if limit > 0 {
		g.sem.SetLimit(limit)
	}
}

func (g *GatedStore) ListChildren(ctx context.Context, folderID string) ([]Node, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.store.ListChildren(ctx, folderID)
}

func (g *GatedStore) GetMetadata(ctx context.Context, itemID string) (Node, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return Node{}, err
	}
	defer g.sem.Release(1)
	return g.store.GetMetadata(ctx, itemID)
}

func (g *GatedStore) Download(ctx context.Context, itemID, exportMIME string) ([]byte, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.store.Download(ctx, itemID, exportMIME)
}

func (g *GatedStore) Upload(ctx context.Context, req UploadRequest) (Node, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return Node{}, err
	}
	defer g.sem.Release(1)
	return g.store.Upload(ctx, req)
}

func (g *GatedStore) Trash(ctx context.Context, itemID string) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return g.store.Trash(ctx, itemID)
}

func (g *GatedStore) Move(ctx context.Context, itemID, fromParent, toParent string) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return g.store.Move(ctx, itemID, fromParent, toParent)
}

func (g *GatedStore) Rename(ctx context.Context, itemID, newName string) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return g.store.Rename(ctx, itemID, newName)
}

func (g *GatedStore) PollChanges(ctx context.Context, cursor string) (ChangeList, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return ChangeList{}, err
	}
	defer g.sem.Release(1)
	return g.store.PollChanges(ctx, cursor)
}

func (g *GatedStore) About(ctx context.Context) (About, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return About{}, err
	}
	defer g.sem.Release(1)
	return g.store.About(ctx)
}
