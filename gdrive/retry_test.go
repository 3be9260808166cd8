package gdrive

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// instantAfter replaces time.After so retry waits complete immediately.
func instantAfter(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

// TestRetryingStore_RetriesTransientFailures verifies that rate limits
// are retried and the eventual success is returned.
func TestRetryingStore_RetriesTransientFailures(t *testing.T) {
	fake := &fakeStore{}
	var calls int32
	fake.metaFn = func(ctx context.Context, itemID string) (Node, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return Node{}, ErrRateLimited
		}
		return Node{ID: itemID, Revision: "3"}, nil
	}
	retrying := NewRetryingStore(fake, 4, time.Millisecond)
	retrying.after = instantAfter

	node, err := retrying.GetMetadata(context.Background(), "file-1")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if node.Revision != "3" {
		t.Fatalf("Unexpected node: %+v", node)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("Expected 3 attempts, got %d", calls)
	}
}

// TestRetryingStore_PermanentErrorNotRetried verifies that permanent
// errors are surfaced on the first attempt.
func TestRetryingStore_PermanentErrorNotRetried(t *testing.T) {
	fake := &fakeStore{
		metaFn: func(ctx context.Context, itemID string) (Node, error) {
			return Node{}, ErrNotFound
		},
	}
	retrying := NewRetryingStore(fake, 4, time.Millisecond)
	retrying.after = instantAfter

	_, err := retrying.GetMetadata(context.Background(), "file-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if atomic.LoadInt32(&fake.metaCalls) != 1 {
		t.Fatalf("Expected 1 attempt, got %d", fake.metaCalls)
	}
}

// TestRetryingStore_GivesUpAfterMaxAttempts verifies the retry bound and
// that the last error is returned.
func TestRetryingStore_GivesUpAfterMaxAttempts(t *testing.T) {
	fake := &fakeStore{
		downloadFn: func(ctx context.Context, itemID, exportMIME string) ([]byte, error) {
			return nil, ErrNetworkUnavailable
		},
	}
	retrying := NewRetryingStore(fake, 3, time.Millisecond)
	retrying.after = instantAfter

	_, err := retrying.Download(context.Background(), "file-1", "")
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("Expected ErrNetworkUnavailable, got %v", err)
	}
	if atomic.LoadInt32(&fake.downloadCalls) != 3 {
		t.Fatalf("Expected 3 attempts, got %d", fake.downloadCalls)
	}
}

// TestRetryingStore_UploadRetriesPreserveRequest verifies that a retried
// upload resends the same request and reports the eventual result.
func TestRetryingStore_UploadRetriesPreserveRequest(t *testing.T) {
	var seen []UploadRequest
	fake := &fakeStore{}
	fake.uploadFn = func(ctx context.Context, req UploadRequest) (Node, error) {
		seen = append(seen, req)
		if len(seen) == 1 {
			return Node{}, ErrRateLimited
		}
		return Node{ID: "file-1", Revision: "2"}, nil
	}
	retrying := NewRetryingStore(fake, 4, time.Millisecond)
	retrying.after = instantAfter

	req := UploadRequest{ID: "file-1", Data: []byte("payload"), BaseRevision: "1"}
	node, err := retrying.Upload(context.Background(), req)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if node.Revision != "2" {
		t.Fatalf("Unexpected node: %+v", node)
	}
	if len(seen) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(seen))
	}
	for i, got := range seen {
		if string(got.Data) != "payload" || got.BaseRevision != "1" {
			t.Fatalf("Attempt %d mutated the request: %+v", i+1, got)
		}
	}
}

// TestRetryingStore_ContextCancelStopsRetry verifies that cancellation
// interrupts the backoff wait.
func TestRetryingStore_ContextCancelStopsRetry(t *testing.T) {
	fake := &fakeStore{
		metaFn: func(ctx context.Context, itemID string) (Node, error) {
			return Node{}, ErrRateLimited
		},
	}
	// A long real delay so the cancelled context always wins the select.
	retrying := NewRetryingStore(fake, 4, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := retrying.GetMetadata(ctx, "file-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if atomic.LoadInt32(&fake.metaCalls) != 1 {
		t.Fatalf("Expected 1 attempt before cancellation, got %d", fake.metaCalls)
	}
}
