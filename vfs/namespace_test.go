package vfs

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/pranavmk98/gDocsFS/gdrive"
	"github.com/pranavmk98/gDocsFS/mockdrive"
)

func TestMkdirCreatesFolderRemotely(t *testing.T) {
	fs, mock := newTestFS(t)

	info, err := fs.Mkdir(context.Background(), RootIno, "projects")
	if err != nil {
		t.Fatal(err)
	}
	if info.Kind != KindFolder || info.ID == "" {
		t.Fatalf("mkdir returned %+v", info)
	}
	node, ok := mock.Node(info.ID)
	if !ok || node.Name != "projects" || !node.IsFolder() {
		t.Errorf("remote folder = %+v, %v", node, ok)
	}
	if mustResolve(t, fs, "/projects") != info.Ino {
		t.Error("mkdir result not resolvable")
	}

	if _, err := fs.Mkdir(context.Background(), RootIno, "projects"); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestCreateExistingNameFails(t *testing.T) {
	fs, _ := newTestFS(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", nil),
	)
	mustResolve(t, fs, "/a.txt")
	if _, err := fs.Create(context.Background(), RootIno, "a.txt"); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestUnlinkTrashesAndDetaches(t *testing.T) {
	fs, mock := newTestFS(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", []byte("x")),
	)
	ino := mustResolve(t, fs, "/a.txt")

	if err := fs.Unlink(context.Background(), RootIno, "a.txt"); err != nil {
		t.Fatal(err)
	}
	node, _ := mock.Node("file-1")
	if !node.Trashed {
		t.Error("expected remote trash")
	}
	if _, err := fs.Resolve(context.Background(), "/a.txt"); !errors.Is(err, gdrive.ErrNotFound) {
		t.Errorf("old path resolved: %v", err)
	}
	if err := fs.Open(ino); !errors.Is(err, gdrive.ErrNotFound) {
		t.Errorf("open of detached inode: %v", err)
	}
}

func TestUnlinkFolderRejected(t *testing.T) {
	fs, _ := newTestFS(t,
		mockdrive.WithFolder("folder-1", mockdrive.RootID, "docs"),
	)
	mustResolve(t, fs, "/docs")
	if err := fs.Unlink(context.Background(), RootIno, "docs"); !errors.Is(err, gdrive.ErrUnsupportedOperation) {
		t.Errorf("expected ErrUnsupportedOperation, got %v", err)
	}
}

func TestRenamePreservesInodeAndHandles(t *testing.T) {
	fs, mock := newTestFS(t,
		mockdrive.WithFolder("folder-1", mockdrive.RootID, "docs"),
		mockdrive.WithFile("file-1", "folder-1", "a.txt", "text/plain", []byte("content")),
	)
	docs := mustResolve(t, fs, "/docs")
	ino := mustResolve(t, fs, "/docs/a.txt")
	if err := fs.Open(ino); err != nil {
		t.Fatal(err)
	}

	if err := fs.Rename(context.Background(), docs, "a.txt", docs, "b.txt"); err != nil {
		t.Fatal(err)
	}

	if _, err := fs.Resolve(context.Background(), "/docs/a.txt"); !errors.Is(err, gdrive.ErrNotFound) {
		t.Errorf("old path still resolves: %v", err)
	}
	if got := mustResolve(t, fs, "/docs/b.txt"); got != ino {
		t.Errorf("inode changed on rename: %d then %d", ino, got)
	}
	node, _ := mock.Node("file-1")
	if node.Name != "b.txt" {
		t.Errorf("remote name = %q", node.Name)
	}

	// The open handle keeps working.
	if got := readAll(t, fs, ino); !bytes.Equal(got, []byte("content")) {
		t.Errorf("read through old handle = %q", got)
	}
	if err := fs.Release(context.Background(), ino); err != nil {
		t.Fatal(err)
	}
}

func TestRenameAcrossFolders(t *testing.T) {
	fs, mock := newTestFS(t,
		mockdrive.WithFolder("folder-1", mockdrive.RootID, "docs"),
		mockdrive.WithFolder("folder-2", mockdrive.RootID, "archive"),
		mockdrive.WithFile("file-1", "folder-1", "a.txt", "text/plain", []byte("x")),
	)
	docs := mustResolve(t, fs, "/docs")
	archive := mustResolve(t, fs, "/archive")
	ino := mustResolve(t, fs, "/docs/a.txt")

	if err := fs.Rename(context.Background(), docs, "a.txt", archive, "moved.txt"); err != nil {
		t.Fatal(err)
	}

	if got := mustResolve(t, fs, "/archive/moved.txt"); got != ino {
		t.Errorf("inode changed: %d then %d", ino, got)
	}
	if got := listingNames(t, fs, docs); len(got) != 0 {
		t.Errorf("source listing still has %v", got)
	}
	node, _ := mock.Node("file-1")
	if node.Name != "moved.txt" || !reflect.DeepEqual(node.Parents, []string{"folder-2"}) {
		t.Errorf("remote node = %+v", node)
	}
	if path, ok := fs.PathOf(ino); !ok || path != "/archive/moved.txt" {
		t.Errorf("PathOf = %q, %v", path, ok)
	}
}

func TestRenameReplacesTarget(t *testing.T) {
	fs, mock := newTestFS(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", []byte("winner")),
		mockdrive.WithFile("file-2", mockdrive.RootID, "b.txt", "text/plain", []byte("loser")),
	)
	mustResolve(t, fs, "/b.txt")

	if err := fs.Rename(context.Background(), RootIno, "a.txt", RootIno, "b.txt"); err != nil {
		t.Fatal(err)
	}

	replaced, _ := mock.Node("file-2")
	if !replaced.Trashed {
		t.Error("expected replaced target trashed")
	}
	ino := mustResolve(t, fs, "/b.txt")
	info, _ := fs.Stat(ino)
	if info.ID != "file-1" {
		t.Errorf("b.txt bound to %s", info.ID)
	}
	if got := listingNames(t, fs, RootIno); !reflect.DeepEqual(got, []string{"b.txt"}) {
		t.Errorf("listing = %v", got)
	}
}

func TestRenameOntoSelfIsNoop(t *testing.T) {
	fs, mock := newTestFS(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", nil),
	)
	mustResolve(t, fs, "/a.txt")
	if err := fs.Rename(context.Background(), RootIno, "a.txt", RootIno, "a.txt"); err != nil {
		t.Fatal(err)
	}
	node, _ := mock.Node("file-1")
	if node.Trashed || node.Name != "a.txt" {
		t.Errorf("self-rename changed node: %+v", node)
	}
}

func TestRmdir(t *testing.T) {
	fs, mock := newTestFS(t,
		mockdrive.WithFolder("folder-1", mockdrive.RootID, "empty"),
		mockdrive.WithFolder("folder-2", mockdrive.RootID, "full"),
		mockdrive.WithFile("file-1", "folder-2", "a.txt", "text/plain", nil),
	)

	if err := fs.Rmdir(context.Background(), RootIno, "full"); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("expected ErrNotEmpty, got %v", err)
	}
	if err := fs.Rmdir(context.Background(), RootIno, "empty"); err != nil {
		t.Fatal(err)
	}
	node, _ := mock.Node("folder-1")
	if !node.Trashed {
		t.Error("expected folder trashed")
	}
	if _, err := fs.Resolve(context.Background(), "/empty"); !errors.Is(err, gdrive.ErrNotFound) {
		t.Errorf("removed folder resolves: %v", err)
	}
}

func TestRmdirOfFileRejected(t *testing.T) {
	fs, _ := newTestFS(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", nil),
	)
	if err := fs.Rmdir(context.Background(), RootIno, "a.txt"); !errors.Is(err, gdrive.ErrUnsupportedOperation) {
		t.Errorf("expected ErrUnsupportedOperation, got %v", err)
	}
}

func TestSymlinkRoundTrip(t *testing.T) {
	fs, mock := newTestFS(t,
		mockdrive.WithFolder("folder-1", mockdrive.RootID, "docs"),
	)

	info, err := fs.Symlink(context.Background(), RootIno, "shortcut", "/docs")
	if err != nil {
		t.Fatal(err)
	}
	if info.Kind != KindSymlink {
		t.Fatalf("symlink info = %+v", info)
	}
	target, err := fs.Readlink(info.Ino)
	if err != nil || target != "/docs" {
		t.Fatalf("readlink = %q, %v", target, err)
	}

	// Purely local: no remote traffic, survives a listing rebuild.
	if got := mock.UploadCount(); got != 0 {
		t.Errorf("symlink uploaded %d times", got)
	}
	fs.staleListing(RootIno)
	got := listingNames(t, fs, RootIno)
	if !reflect.DeepEqual(got, []string{"docs", "shortcut"}) {
		t.Errorf("listing = %v", got)
	}

	if err := fs.Unlink(context.Background(), RootIno, "shortcut"); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Readlink(info.Ino); !errors.Is(err, gdrive.ErrNotFound) {
		t.Errorf("readlink of removed symlink: %v", err)
	}
}

func TestReadlinkOnFileFails(t *testing.T) {
	fs, _ := newTestFS(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", nil),
	)
	ino := mustResolve(t, fs, "/a.txt")
	if _, err := fs.Readlink(ino); !errors.Is(err, gdrive.ErrUnsupportedOperation) {
		t.Errorf("expected ErrUnsupportedOperation, got %v", err)
	}
}

func TestAttributeOverrides(t *testing.T) {
	fs, _ := newTestFS(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", nil),
	)
	ino := mustResolve(t, fs, "/a.txt")

	if _, ok := fs.OverrideFor(ino); ok {
		t.Fatal("expected no override initially")
	}
	if err := fs.SetMode(ino, 0640); err != nil {
		t.Fatal(err)
	}
	if err := fs.SetOwner(ino, 1000, 1000); err != nil {
		t.Fatal(err)
	}
	o, ok := fs.OverrideFor(ino)
	if !ok || o.Mode == nil || *o.Mode != 0640 || o.UID == nil || *o.UID != 1000 {
		t.Errorf("override = %+v, %v", o, ok)
	}

	// Unlink drops the stored override.
	if err := fs.Unlink(context.Background(), RootIno, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if _, ok := fs.State().Override("file-1"); ok {
		t.Error("override survived unlink")
	}
}
