package gdrive

import (
	"context"
	"sync/atomic"
)

// fakeStore is an in-memory RemoteStore for exercising the wrapping
// layers. Each method counts its calls and dispatches to an optional
// hook; without a hook it returns an empty result.
type fakeStore struct {
	listCalls     int32
	metaCalls     int32
	downloadCalls int32
	uploadCalls   int32
	trashCalls    int32
	moveCalls     int32
	renameCalls   int32
	pollCalls     int32
	aboutCalls    int32

	listFn     func(ctx context.Context, folderID string) ([]Node, error)
	metaFn     func(ctx context.Context, itemID string) (Node, error)
	downloadFn func(ctx context.Context, itemID, exportMIME string) ([]byte, error)
	uploadFn   func(ctx context.Context, req UploadRequest) (Node, error)
	trashFn    func(ctx context.Context, itemID string) error
	moveFn     func(ctx context.Context, itemID, fromParent, toParent string) error
	renameFn   func(ctx context.Context, itemID, newName string) error
	pollFn     func(ctx context.Context, cursor string) (ChangeList, error)
	aboutFn    func(ctx context.Context) (About, error)
}

var _ RemoteStore = (*fakeStore)(nil)

func (f *fakeStore) ListChildren(ctx context.Context, folderID string) ([]Node, error) {
	atomic.AddInt32(&f.listCalls, 1)
	if f.listFn != nil {
		return f.listFn(ctx, folderID)
	}
	return nil, nil
}

func (f *fakeStore) GetMetadata(ctx context.Context, itemID string) (Node, error) {
	atomic.AddInt32(&f.metaCalls, 1)
	if f.metaFn != nil {
		return f.metaFn(ctx, itemID)
	}
	return Node{ID: itemID}, nil
}

func (f *fakeStore) Download(ctx context.Context, itemID, exportMIME string) ([]byte, error) {
	atomic.AddInt32(&f.downloadCalls, 1)
	if f.downloadFn != nil {
		return f.downloadFn(ctx, itemID, exportMIME)
	}
	return nil, nil
}

func (f *fakeStore) Upload(ctx context.Context, req UploadRequest) (Node, error) {
	atomic.AddInt32(&f.uploadCalls, 1)
	if f.uploadFn != nil {
		return f.uploadFn(ctx, req)
	}
	return Node{ID: req.ID, Name: req.Name, Parents: []string{req.ParentID}}, nil
}

func (f *fakeStore) Trash(ctx context.Context, itemID string) error {
	atomic.AddInt32(&f.trashCalls, 1)
	if f.trashFn != nil {
		return f.trashFn(ctx, itemID)
	}
	return nil
}

func (f *fakeStore) Move(ctx context.Context, itemID, fromParent, toParent string) error {
	atomic.AddInt32(&f.moveCalls, 1)
	if f.moveFn != nil {
		return f.moveFn(ctx, itemID, fromParent, toParent)
	}
	return nil
}

func (f *fakeStore) Rename(ctx context.Context, itemID, newName string) error {
	atomic.AddInt32(&f.renameCalls, 1)
	if f.renameFn != nil {
		return f.renameFn(ctx, itemID, newName)
	}
	return nil
}

func (f *fakeStore) PollChanges(ctx context.Context, cursor string) (ChangeList, error) {
	atomic.AddInt32(&f.pollCalls, 1)
	if f.pollFn != nil {
		return f.pollFn(ctx, cursor)
	}
	return ChangeList{NextCursor: cursor}, nil
}

func (f *fakeStore) About(ctx context.Context) (About, error) {
	atomic.AddInt32(&f.aboutCalls, 1)
	if f.aboutFn != nil {
		return f.aboutFn(ctx)
	}
	return About{}, nil
}
