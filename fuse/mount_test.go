package fuse

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/pranavmk98/gDocsFS/fuse/diag"
	"github.com/pranavmk98/gDocsFS/gdrive"
	"github.com/pranavmk98/gDocsFS/mockdrive"
	"github.com/pranavmk98/gDocsFS/state"
	"github.com/pranavmk98/gDocsFS/vfs"
)

func requireFUSE(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("/dev/fuse not available, skipping mount test")
	}
	if _, err := exec.LookPath("fusermount"); err != nil {
		if _, err := exec.LookPath("fusermount3"); err != nil {
			t.Skip("fusermount not found, skipping mount test")
		}
	}
}

// mountForTest brings up a real kernel mount over the in-memory store
// and tears it down with the test.
func mountForTest(t *testing.T, opts ...mockdrive.Option) (string, *mockdrive.Store, *vfs.FS) {
	t.Helper()
	requireFUSE(t)

	ctx := context.Background()
	mock := mockdrive.New(opts...)
	caching := gdrive.NewCachingStore(mock, time.Minute)
	t.Cleanup(caching.Stop)
	st, err := state.NewStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	v, err := vfs.New(ctx, caching, vfs.Config{
		RootID:     mockdrive.RootID,
		MaxBuffers: 8,
		ListingTTL: time.Minute,
		State:      st,
	})
	if err != nil {
		t.Fatalf("vfs.New: %v", err)
	}

	root := NewRoot(v, diag.NewTracker())
	mnt := t.TempDir()
	server, err := Mount(mnt, root, false)
	if err != nil {
		v.Close(ctx)
		t.Skipf("mount failed: %v", err)
	}
	v.SetOnInvalidateEntry(root.InvalidateEntry)
	t.Cleanup(func() {
		server.Unmount()
		v.Close(ctx)
	})
	return mnt, mock, v
}

func TestMountReadTree(t *testing.T) {
	mnt, _, _ := mountForTest(t,
		mockdrive.WithFolder("folder-1", mockdrive.RootID, "docs"),
		mockdrive.WithFile("file-1", "folder-1", "notes.txt", "text/plain", []byte("remote bytes")),
		mockdrive.WithFile("file-2", mockdrive.RootID, "top.txt", "text/plain", []byte("top")))

	entries, err := os.ReadDir(mnt)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = e.IsDir()
	}
	if isDir, ok := names["docs"]; !ok || !isDir {
		t.Errorf("docs missing or not a dir: %v", names)
	}
	if isDir, ok := names["top.txt"]; !ok || isDir {
		t.Errorf("top.txt missing or a dir: %v", names)
	}

	data, err := os.ReadFile(filepath.Join(mnt, "docs", "notes.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, []byte("remote bytes")) {
		t.Errorf("content = %q", data)
	}
}

func TestMountWriteRoundTrip(t *testing.T) {
	mnt, mock, _ := mountForTest(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", []byte("old")))

	path := filepath.Join(mnt, "a.txt")
	if err := os.WriteFile(path, []byte("new content"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// Close flushed synchronously; the store already has the bytes.
	if got := mock.Content("file-1"); !bytes.Equal(got, []byte("new content")) {
		t.Errorf("remote content = %q", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, []byte("new content")) {
		t.Errorf("read back = %q", data)
	}
}

func TestMountNamespaceOps(t *testing.T) {
	mnt, _, _ := mountForTest(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", []byte("a")))

	// Inode numbers survive a rename.
	before, err := os.Stat(filepath.Join(mnt, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(filepath.Join(mnt, "a.txt"), filepath.Join(mnt, "b.txt")); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	after, err := os.Stat(filepath.Join(mnt, "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if before.Sys().(*syscall.Stat_t).Ino != after.Sys().(*syscall.Stat_t).Ino {
		t.Error("rename changed the inode number")
	}

	if err := os.Mkdir(filepath.Join(mnt, "sub"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.Rename(filepath.Join(mnt, "b.txt"), filepath.Join(mnt, "sub", "b.txt")); err != nil {
		t.Fatalf("Rename into sub: %v", err)
	}

	if err := os.Symlink("sub/b.txt", filepath.Join(mnt, "link")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	target, err := os.Readlink(filepath.Join(mnt, "link"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "sub/b.txt" {
		t.Errorf("readlink = %q", target)
	}

	if err := os.Remove(filepath.Join(mnt, "link")); err != nil {
		t.Fatalf("Remove link: %v", err)
	}
	if err := os.Remove(filepath.Join(mnt, "sub", "b.txt")); err != nil {
		t.Fatalf("Remove file: %v", err)
	}
	if err := os.Remove(filepath.Join(mnt, "sub")); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
}

func TestMountSeesReconciledRemoteChange(t *testing.T) {
	mnt, mock, v := mountForTest(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", []byte("old")))
	ctx := context.Background()

	path := filepath.Join(mnt, "a.txt")
	if _, err := os.ReadFile(path); err != nil {
		t.Fatal(err)
	}
	// Prime the change cursor so the edit below is picked up.
	if err := v.Poll(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := mock.Upload(ctx, gdrive.UploadRequest{
		ID:   "file-1",
		Data: []byte("remote edit"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := v.Poll(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(path)
		if err == nil && bytes.Equal(data, []byte("remote edit")) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("mount never showed the remote edit, last read %q err %v", data, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
