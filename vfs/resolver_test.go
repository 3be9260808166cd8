package vfs

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/pranavmk98/gDocsFS/gdrive"
	"github.com/pranavmk98/gDocsFS/mockdrive"
)

func TestResolveWalksPath(t *testing.T) {
	fs, _ := newTestFS(t,
		mockdrive.WithFolder("folder-1", mockdrive.RootID, "docs"),
		mockdrive.WithFolder("folder-2", "folder-1", "work"),
		mockdrive.WithFile("file-1", "folder-2", "notes.txt", "text/plain", []byte("hi")),
	)

	ino := mustResolve(t, fs, "/docs/work/notes.txt")
	info, err := fs.Stat(ino)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "notes.txt" || info.Kind != KindFile {
		t.Errorf("unexpected stat %+v", info)
	}

	if _, err := fs.Resolve(context.Background(), "/docs/missing"); !errors.Is(err, gdrive.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveSameInoTwice(t *testing.T) {
	fs, _ := newTestFS(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", nil),
	)
	first := mustResolve(t, fs, "/a.txt")
	second := mustResolve(t, fs, "/a.txt")
	if first != second {
		t.Errorf("inode changed between resolves: %d then %d", first, second)
	}
}

func TestCanonicalParentSingleListing(t *testing.T) {
	// One item under two folders; only the lexicographically smaller
	// parent id exposes it.
	fs, _ := newTestFS(t,
		mockdrive.WithFolder("folder-a", mockdrive.RootID, "alpha"),
		mockdrive.WithFolder("folder-b", mockdrive.RootID, "beta"),
		mockdrive.WithNode(gdrive.Node{
			ID:       "file-1",
			Name:     "shared.txt",
			MimeType: "text/plain",
			Parents:  []string{"folder-b", "folder-a"},
		}, []byte("x")),
	)

	alpha := mustResolve(t, fs, "/alpha")
	beta := mustResolve(t, fs, "/beta")

	if got := listingNames(t, fs, alpha); !reflect.DeepEqual(got, []string{"shared.txt"}) {
		t.Errorf("alpha listing = %v", got)
	}
	if got := listingNames(t, fs, beta); len(got) != 0 {
		t.Errorf("beta listing should omit the shared item, got %v", got)
	}
}

func TestCanonicalParentPure(t *testing.T) {
	tests := []struct {
		parents []string
		want    string
	}{
		{nil, ""},
		{[]string{"b"}, "b"},
		{[]string{"b", "a", "c"}, "a"},
		{[]string{"z", "z"}, "z"},
	}
	for _, tt := range tests {
		if got := canonicalParent(tt.parents); got != tt.want {
			t.Errorf("canonicalParent(%v) = %q, want %q", tt.parents, got, tt.want)
		}
	}
}

func TestCollisionSuffixes(t *testing.T) {
	fs, _ := newTestFS(t,
		mockdrive.WithFile("id-aaaaaaaa", mockdrive.RootID, "report", "text/plain", []byte("first")),
		mockdrive.WithFile("id-bbbbbbbb", mockdrive.RootID, "report", "text/plain", []byte("second")),
	)

	want := []string{"report", "report-id-bbbbb"}
	got := listingNames(t, fs, RootIno)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("listing = %v, want %v", got, want)
	}

	// The smaller id owns the bare name.
	bare := mustResolve(t, fs, "/report")
	info, _ := fs.Stat(bare)
	if info.ID != "id-aaaaaaaa" {
		t.Errorf("bare name bound to %s", info.ID)
	}

	// Stable across repeated listings.
	fs.staleListing(RootIno)
	again := listingNames(t, fs, RootIno)
	if !reflect.DeepEqual(again, want) {
		t.Errorf("second listing = %v, want %v", again, want)
	}
}

func TestSuffixedNameGrowsPastCollision(t *testing.T) {
	taken := map[string]bool{
		"report":           true,
		"report-aaaaaaaa":  true,
		"report-aaaaaaaab": true,
	}
	got := suffixedName("report", "aaaaaaaabbcc", taken)
	if got != "report-aaaaaaaabb" {
		t.Errorf("suffixedName = %q", got)
	}
}

func TestFlattenSkipsTrashed(t *testing.T) {
	children := []gdrive.Node{
		{ID: "a", Name: "live", Parents: []string{"p"}},
		{ID: "b", Name: "gone", Parents: []string{"p"}, Trashed: true},
		{ID: "c", Name: "elsewhere", Parents: []string{"o", "p"}},
	}
	out := flatten("p", children)
	var names []string
	for _, e := range out {
		names = append(names, e.name)
	}
	sort.Strings(names)
	if !reflect.DeepEqual(names, []string{"live"}) {
		t.Errorf("flatten kept %v", names)
	}
}

func TestListingServedWithinFreshnessWindow(t *testing.T) {
	fs, mock := newTestFS(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", nil),
	)
	listingNames(t, fs, RootIno)
	listingNames(t, fs, RootIno)
	mustResolve(t, fs, "/a.txt")
	if got := mock.ListCount(); got != 1 {
		t.Errorf("expected one remote listing, got %d", got)
	}
}

func TestPathOf(t *testing.T) {
	fs, _ := newTestFS(t,
		mockdrive.WithFolder("folder-1", mockdrive.RootID, "docs"),
		mockdrive.WithFile("file-1", "folder-1", "a.txt", "text/plain", nil),
	)
	ino := mustResolve(t, fs, "/docs/a.txt")

	path, ok := fs.PathOf(ino)
	if !ok || path != "/docs/a.txt" {
		t.Errorf("PathOf = %q, %v", path, ok)
	}
	if path, ok := fs.PathOf(RootIno); !ok || path != "/" {
		t.Errorf("PathOf(root) = %q, %v", path, ok)
	}
	if _, ok := fs.PathOf(9999); ok {
		t.Error("expected no path for unknown inode")
	}
}

func TestLookupOnFileFails(t *testing.T) {
	fs, _ := newTestFS(t,
		mockdrive.WithFile("file-1", mockdrive.RootID, "a.txt", "text/plain", nil),
	)
	ino := mustResolve(t, fs, "/a.txt")
	if _, err := fs.Lookup(context.Background(), ino, "child"); !errors.Is(err, gdrive.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
