package gdrive

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// CachingStore wraps a RemoteStore and adds TTL caching for metadata
// reads. Entries are invalidated on writes to the corresponding items.
// A ttl of 0 disables caching entirely.
//
// Uses singleflight to coalesce duplicate requests, preventing thundering
// herd on cache miss without holding locks during network calls.
type CachingStore struct {
	store RemoteStore
	ttl   time.Duration

	// Singleflight for coalescing duplicate requests
	sf singleflight.Group

	meta     *ttlcache.Cache[string, Node]
	children *ttlcache.Cache[string, []Node]
}

var _ RemoteStore = (*CachingStore)(nil)

// NewCachingStore creates a CachingStore wrapping the given store.
// A ttl of 0 disables caching.
func NewCachingStore(store RemoteStore, ttl time.Duration) *CachingStore {
	c := &CachingStore{
		store: store,
		ttl:   ttl,
	}
	if ttl > 0 {
		c.meta = ttlcache.New[string, Node](
			ttlcache.WithTTL[string, Node](ttl),
			ttlcache.WithDisableTouchOnHit[string, Node](),
		)
		c.children = ttlcache.New[string, []Node](
			ttlcache.WithTTL[string, []Node](ttl),
			ttlcache.WithDisableTouchOnHit[string, []Node](),
		)
		go c.meta.Start()
		go c.children.Start()
	}
	return c
}

// Stop shuts down the cache janitors.
func (c *CachingStore) Stop() {
	if c.ttl > 0 {
		c.meta.Stop()
		c.children.Stop()
	}
}

// GetMetadata retrieves item metadata, using cache if available.
func (c *CachingStore) GetMetadata(ctx context.Context, itemID string) (Node, error) {
	// Fast path: check cache
	if c.ttl > 0 {
		if item := c.meta.Get(itemID); item != nil {
			return item.Value(), nil
		}
	}

	// Slow path: use singleflight to coalesce duplicate requests
	// so only one network call is made even if multiple goroutines
	// experience a cache miss simultaneously.
	result, err, _ := c.sf.Do("meta:"+itemID, func() (interface{}, error) {
		node, err := c.store.GetMetadata(ctx, itemID)
		if err != nil {
			return Node{}, err
		}
		if c.ttl > 0 {
			c.meta.Set(itemID, node, ttlcache.DefaultTTL)
		}
		return node, nil
	})

	if err != nil {
		return Node{}, err
	}
	return result.(Node), nil
}

// ListChildren lists a folder, using cache if available.
// The returned slice must not be modified by callers.
func (c *CachingStore) ListChildren(ctx context.Context, folderID string) ([]Node, error) {
	// Fast path: check cache
	if c.ttl > 0 {
		if item := c.children.Get(folderID); item != nil {
			return item.Value(), nil
		}
	}

	// Slow path: use singleflight to coalesce duplicate requests
	result, err, _ := c.sf.Do("children:"+folderID, func() (interface{}, error) {
		nodes, err := c.store.ListChildren(ctx, folderID)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.children.Set(folderID, nodes, ttlcache.DefaultTTL)
			// Listing responses carry full metadata, so seed the
			// per-item cache as well.
			for _, n := range nodes {
				c.meta.Set(n.ID, n, ttlcache.DefaultTTL)
			}
		}
		return nodes, nil
	})

	if err != nil {
		return nil, err
	}
	return result.([]Node), nil
}

// Download is not cached. Content buffers live above this layer.
func (c *CachingStore) Download(ctx context.Context, itemID, exportMIME string) ([]byte, error) {
	return c.store.Download(ctx, itemID, exportMIME)
}

// Upload delegates and refreshes the caches for the written item and
// the listings it appears in.
func (c *CachingStore) Upload(ctx context.Context, req UploadRequest) (Node, error) {
	node, err := c.store.Upload(ctx, req)
	if err != nil {
		return Node{}, err
	}
	if c.ttl > 0 {
		c.meta.Set(node.ID, node, ttlcache.DefaultTTL)
		c.children.Delete(req.ParentID)
		for _, p := range node.Parents {
			c.children.Delete(p)
		}
	}
	return node, nil
}

// Trash delegates and invalidates the item and its parents' listings.
func (c *CachingStore) Trash(ctx context.Context, itemID string) error {
	if err := c.store.Trash(ctx, itemID); err != nil {
		return err
	}
	c.dropItem(itemID)
	return nil
}

// Move delegates and invalidates the item and both listings involved.
func (c *CachingStore) Move(ctx context.Context, itemID, fromParent, toParent string) error {
	if err := c.store.Move(ctx, itemID, fromParent, toParent); err != nil {
		return err
	}
	if c.ttl > 0 {
		c.meta.Delete(itemID)
		c.children.Delete(fromParent)
		c.children.Delete(toParent)
	}
	return nil
}

// Rename delegates and invalidates the item and its parents' listings.
func (c *CachingStore) Rename(ctx context.Context, itemID, newName string) error {
	if err := c.store.Rename(ctx, itemID, newName); err != nil {
		return err
	}
	c.dropItem(itemID)
	return nil
}

// PollChanges is not cached.
func (c *CachingStore) PollChanges(ctx context.Context, cursor string) (ChangeList, error) {
	return c.store.PollChanges(ctx, cursor)
}

// About is not cached.
func (c *CachingStore) About(ctx context.Context) (About, error) {
	return c.store.About(ctx)
}

// dropItem removes an item from the metadata cache along with the
// listings of any parents the cached entry names.
func (c *CachingStore) dropItem(itemID string) {
	if c.ttl <= 0 {
		return
	}
	if item := c.meta.Get(itemID); item != nil {
		for _, p := range item.Value().Parents {
			c.children.Delete(p)
		}
	}
	c.meta.Delete(itemID)
}

// Invalidate removes an item's cached metadata. Used when external
// changes are detected.
func (c *CachingStore) Invalidate(itemID string) {
	if c.ttl > 0 {
		c.meta.Delete(itemID)
	}
}

// InvalidateChildren removes a folder's cached listing.
func (c *CachingStore) InvalidateChildren(folderID string) {
	if c.ttl > 0 {
		c.children.Delete(folderID)
	}
}

// InvalidateAll clears all caches.
func (c *CachingStore) InvalidateAll() {
	if c.ttl > 0 {
		c.meta.DeleteAll()
		c.children.DeleteAll()
	}
}

// Update replaces an item's cached metadata with a fresh copy, typically
// one carried by the change stream.
func (c *CachingStore) Update(node Node) {
	if c.ttl > 0 {
		c.meta.Set(node.ID, node, ttlcache.DefaultTTL)
	}
}
