package gdrive

import (
	"context"
	"log"
	"time"
)

const (
	// defaultMaxAttempts bounds how often a transient failure is retried
	// before it is surfaced to the caller.
	defaultMaxAttempts = 4

	// defaultBaseDelay is the first backoff interval. Each further
	// attempt doubles it.
	defaultBaseDelay = 500 * time.Millisecond

	// maxBackoff caps the delay between attempts.
	maxBackoff = 30 * time.Second
)

// RetryingStore wraps a RemoteStore and retries transient failures,
// rate limits and network errors, with bounded exponential backoff.
// Permanent errors are returned immediately.
type RetryingStore struct {
	store       RemoteStore
	maxAttempts int
	baseDelay   time.Duration

	// after is time.After, replaceable in tests.
	after func(time.Duration) <-chan time.Time
}

var _ RemoteStore = (*RetryingStore)(nil)

// NewRetryingStore creates a RetryingStore wrapping the given store.
// Non-positive maxAttempts or baseDelay select the defaults.
func NewRetryingStore(store RemoteStore, maxAttempts int, baseDelay time.Duration) *RetryingStore {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &RetryingStore{
		store:       store,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		after:       time.After,
	}
}

// do runs fn with bounded retry on transient errors. The context bounds
// the total retry time: when it cancels, waiting stops and the context
// error is returned.
func (r *RetryingStore) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := r.baseDelay << (attempt - 1)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.after(backoff):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		log.Printf("Transient failure in %s (attempt %d/%d): %v", op, attempt+1, r.maxAttempts, err)
	}
	return lastErr
}

func (r *RetryingStore) ListChildren(ctx context.Context, folderID string) ([]Node, error) {
	var nodes []Node
	err := r.do(ctx, "list", func() error {
		var err error
		nodes, err = r.store.ListChildren(ctx, folderID)
		return err
	})
	return nodes, err
}

func (r *RetryingStore) GetMetadata(ctx context.Context, itemID string) (Node, error) {
	var node Node
	err := r.do(ctx, "metadata", func() error {
		var err error
		node, err = r.store.GetMetadata(ctx, itemID)
		return err
	})
	return node, err
}

func (r *RetryingStore) Download(ctx context.Context, itemID, exportMIME string) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "download", func() error {
		var err error
		data, err = r.store.Download(ctx, itemID, exportMIME)
		return err
	})
	return data, err
}

func (r *RetryingStore) Upload(ctx context.Context, req UploadRequest) (Node, error) {
	var node Node
	err := r.do(ctx, "upload", func() error {
		var err error
		node, err = r.store.Upload(ctx, req)
		return err
	})
	return node, err
}

func (r *RetryingStore) Trash(ctx context.Context, itemID string) error {
	return r.do(ctx, "trash", func() error {
		return r.store.Trash(ctx, itemID)
	})
}

func (r *RetryingStore) Move(ctx context.Context, itemID, fromParent, toParent string) error {
	return r.do(ctx, "move", func() error {
		return r.store.Move(ctx, itemID, fromParent, toParent)
	})
}

func (r *RetryingStore) Rename(ctx context.Context, itemID, newName string) error {
	return r.do(ctx, "rename", func() error {
		return r.store.Rename(ctx, itemID, newName)
	})
}

func (r *RetryingStore) PollChanges(ctx context.Context, cursor string) (ChangeList, error) {
	var list ChangeList
	err := r.do(ctx, "changes", func() error {
		var err error
		list, err = r.store.PollChanges(ctx, cursor)
		return err
	})
	return list, err
}

func (r *RetryingStore) About(ctx context.Context) (About, error) {
	var about About
	err := r.do(ctx, "about", func() error {
		var err error
		about, err = r.store.About(ctx)
		return err
	})
	return about, err
}
