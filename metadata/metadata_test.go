package metadata

import (
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
)

func mustParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFromRemote(t *testing.T) {
	tests := []struct {
		name     string
		created  string
		modified string
		viewed   string
		wantZero bool
		checkFn  func(t *testing.T, ts Timestamps)
	}{
		{
			name:     "all fields empty",
			wantZero: true,
		},
		{
			name:    "created only seeds everything",
			created: "2024-01-15T10:30:00Z",
			checkFn: func(t *testing.T, ts Timestamps) {
				expected := mustParseTime("2024-01-15T10:30:00Z")
				if !ts.Ctime.Equal(expected) {
					t.Errorf("Ctime = %v, want %v", ts.Ctime, expected)
				}
				if !ts.Mtime.Equal(expected) {
					t.Errorf("Mtime = %v, want %v", ts.Mtime, expected)
				}
				if !ts.Atime.Equal(expected) {
					t.Errorf("Atime = %v, want %v", ts.Atime, expected)
				}
			},
		},
		{
			name:     "modified overrides mtime only",
			created:  "2024-01-15T10:30:00Z",
			modified: "2024-01-16T14:20:00Z",
			checkFn: func(t *testing.T, ts Timestamps) {
				created := mustParseTime("2024-01-15T10:30:00Z")
				modified := mustParseTime("2024-01-16T14:20:00Z")
				if !ts.Ctime.Equal(created) {
					t.Errorf("Ctime = %v, want %v", ts.Ctime, created)
				}
				if !ts.Mtime.Equal(modified) {
					t.Errorf("Mtime = %v, want %v", ts.Mtime, modified)
				}
				if !ts.Atime.Equal(created) {
					t.Errorf("Atime = %v, want %v", ts.Atime, created)
				}
			},
		},
		{
			name:     "viewed overrides atime only",
			created:  "2024-01-15T10:30:00Z",
			modified: "2024-01-16T14:20:00Z",
			viewed:   "2024-01-17T09:00:00Z",
			checkFn: func(t *testing.T, ts Timestamps) {
				viewed := mustParseTime("2024-01-17T09:00:00Z")
				if !ts.Atime.Equal(viewed) {
					t.Errorf("Atime = %v, want %v", ts.Atime, viewed)
				}
				if !ts.Mtime.Equal(mustParseTime("2024-01-16T14:20:00Z")) {
					t.Errorf("Mtime = %v", ts.Mtime)
				}
			},
		},
		{
			name:     "fractional seconds parse",
			modified: "2024-01-16T14:20:00.123Z",
			checkFn: func(t *testing.T, ts Timestamps) {
				if ts.Mtime.Nanosecond() != 123000000 {
					t.Errorf("Mtime nanoseconds = %d, want 123000000", ts.Mtime.Nanosecond())
				}
				if !ts.Ctime.IsZero() {
					t.Errorf("Ctime should stay zero without created time, got %v", ts.Ctime)
				}
			},
		},
		{
			name:     "garbage fields skipped",
			created:  "not a timestamp",
			modified: "2024-01-16T14:20:00Z",
			checkFn: func(t *testing.T, ts Timestamps) {
				if !ts.Ctime.IsZero() {
					t.Errorf("Ctime should be zero for unparseable created time")
				}
				if ts.Mtime.IsZero() {
					t.Errorf("Mtime should still parse")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := FromRemote(tt.created, tt.modified, tt.viewed)
			if tt.wantZero {
				if !ts.IsZero() {
					t.Errorf("expected zero timestamps, got %+v", ts)
				}
				return
			}
			if tt.checkFn != nil {
				tt.checkFn(t, ts)
			}
		})
	}
}

func TestApplySkipsZero(t *testing.T) {
	var attr fuse.Attr
	attr.Mtime = 12345

	ts := Timestamps{Atime: mustParseTime("2024-01-17T09:00:00Z")}
	ts.Apply(&attr)

	if attr.Mtime != 12345 {
		t.Errorf("Apply overwrote mtime with zero value: %d", attr.Mtime)
	}
	if attr.Atime != uint64(ts.Atime.Unix()) {
		t.Errorf("Atime = %d, want %d", attr.Atime, ts.Atime.Unix())
	}
}

func TestApplyWithFallback(t *testing.T) {
	fallback := mustParseTime("2024-02-01T00:00:00Z")
	modified := mustParseTime("2024-01-16T14:20:00Z")

	var attr fuse.Attr
	ts := Timestamps{Mtime: modified}
	ts.ApplyWithFallback(&attr, fallback)

	if attr.Mtime != uint64(modified.Unix()) {
		t.Errorf("Mtime = %d, want %d", attr.Mtime, modified.Unix())
	}
	if attr.Ctime != uint64(fallback.Unix()) {
		t.Errorf("Ctime = %d, want fallback %d", attr.Ctime, fallback.Unix())
	}
	if attr.Atime != uint64(fallback.Unix()) {
		t.Errorf("Atime = %d, want fallback %d", attr.Atime, fallback.Unix())
	}
}
