// Package gdrive talks to the remote document store. It defines the
// RemoteStore interface the filesystem core is written against, the real
// Google Drive implementation, and composable wrappers for caching,
// retries and concurrency limiting.
package gdrive

import "context"

// RemoteStore is the interface between the filesystem core and the
// remote document store. Client implements it against the Drive API;
// CachingStore, RetryingStore and GatedStore wrap any implementation.
type RemoteStore interface {
	// ListChildren returns the non-trashed children of a folder.
	ListChildren(ctx context.Context, folderID string) ([]Node, error)

	// GetMetadata returns the current metadata for one item.
	GetMetadata(ctx context.Context, itemID string) (Node, error)

	// Download returns the item's content. A non-empty exportMIME
	// requests a format conversion for native documents; empty downloads
	// the raw bytes.
	Download(ctx context.Context, itemID, exportMIME string) ([]byte, error)

	// Upload creates or replaces an item as described by the request and
	// returns the resulting node, including its new revision.
	Upload(ctx context.Context, req UploadRequest) (Node, error)

	// Trash moves an item to the remote trash.
	Trash(ctx context.Context, itemID string) error

	// Move reparents an item from one folder to another.
	Move(ctx context.Context, itemID, fromParent, toParent string) error

	// Rename changes an item's display name.
	Rename(ctx context.Context, itemID, newName string) error

	// PollChanges returns the changes since cursor. An empty cursor
	// requests a fresh starting cursor and reports no changes.
	PollChanges(ctx context.Context, cursor string) (ChangeList, error)

	// About reports storage quota.
	About(ctx context.Context) (About, error)
}

// Compile-time interface checks for all store implementations.
var (
	_ RemoteStore = (*Client)(nil)
	_ RemoteStore = (*CachingStore)(nil)
	_ RemoteStore = (*RetryingStore)(nil)
	_ RemoteStore = (*GatedStore)(nil)
)
