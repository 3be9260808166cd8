// Package metadata maps remote timestamp metadata onto filesystem stat
// attributes.
//
// The remote store reports RFC3339 strings for creation, modification,
// and last-view times. These become ctime, mtime, and atime when items
// are presented as files and directories:
//
//	ts := metadata.FromRemote(n.CreatedTime, n.ModifiedTime, n.ViewedTime)
//	ts.ApplyWithFallback(&out.Attr, mountTime)
package metadata

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// Timestamps holds resolved filesystem timestamps.
type Timestamps struct {
	Ctime time.Time
	Mtime time.Time
	Atime time.Time
}

// IsZero returns true if all timestamps are zero.
func (t Timestamps) IsZero() bool {
	return t.Ctime.IsZero() && t.Mtime.IsZero() && t.Atime.IsZero()
}

// Apply sets the timestamps on a fuse.Attr struct.
// Only non-zero timestamps are applied.
func (t Timestamps) Apply(attr *fuse.Attr) {
	if !t.Ctime.IsZero() {
		attr.Ctime = uint64(t.Ctime.Unix())
		attr.Ctimensec = uint32(t.Ctime.Nanosecond())
	}
	if !t.Mtime.IsZero() {
		attr.Mtime = uint64(t.Mtime.Unix())
		attr.Mtimensec = uint32(t.Mtime.Nanosecond())
	}
	if !t.Atime.IsZero() {
		attr.Atime = uint64(t.Atime.Unix())
		attr.Atimensec = uint32(t.Atime.Nanosecond())
	}
}

// ApplyWithFallback sets the timestamps on a fuse.Attr struct, using a
// fallback time for any timestamp that is zero.
func (t Timestamps) ApplyWithFallback(attr *fuse.Attr, fallback time.Time) {
	ctime := t.Ctime
	if ctime.IsZero() {
		ctime = fallback
	}
	attr.Ctime = uint64(ctime.Unix())
	attr.Ctimensec = uint32(ctime.Nanosecond())

	mtime := t.Mtime
	if mtime.IsZero() {
		mtime = fallback
	}
	attr.Mtime = uint64(mtime.Unix())
	attr.Mtimensec = uint32(mtime.Nanosecond())

	atime := t.Atime
	if atime.IsZero() {
		atime = fallback
	}
	attr.Atime = uint64(atime.Unix())
	attr.Atimensec = uint32(atime.Nanosecond())
}

// FromRemote derives timestamps from the remote RFC3339 fields. The
// creation time seeds all three attributes, then the modification time
// overrides mtime and the last-view time overrides atime, so items that
// were never modified or viewed still stat cleanly. Unparseable or empty
// fields are skipped.
func FromRemote(createdTime, modifiedTime, viewedTime string) Timestamps {
	var ts Timestamps
	if t, ok := parseRFC3339(createdTime); ok {
		ts.Ctime = t
		ts.Mtime = t
		ts.Atime = t
	}
	if t, ok := parseRFC3339(modifiedTime); ok {
		ts.Mtime = t
	}
	if t, ok := parseRFC3339(viewedTime); ok {
		ts.Atime = t
	}
	return ts
}

func parseRFC3339(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
