// Package diag tracks in-flight kernel operations so a hung mount can
// be diagnosed from outside. Calls into the remote store can stall for
// a long time behind retries and rate limiting; the tracker shows which
// operation is stuck, on which node, and for how long.
package diag

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Op is a single in-flight kernel operation.
type Op struct {
	ID      uint64
	Node    string // dispatcher node type, e.g. "FolderNode"
	Method  string // kernel method, e.g. "Lookup", "Flush"
	Detail  string // free-form, typically an entry name or inode number
	Phase   string // current sub-step, e.g. "export download"
	Started time.Time
}

// OpHandle annotates one in-flight operation. SetPhase records the
// current sub-step; Done removes the operation from the tracker.
type OpHandle struct {
	tracker *Tracker
	id      uint64
}

// SetPhase updates the phase annotation for this operation.
func (h *OpHandle) SetPhase(phase string) {
	if h.tracker == nil {
		return
	}
	h.tracker.mu.Lock()
	if op, ok := h.tracker.ops[h.id]; ok {
		op.Phase = phase
		h.tracker.ops[h.id] = op
	}
	h.tracker.mu.Unlock()
}

// Done marks the operation complete and removes it from the tracker.
func (h *OpHandle) Done() {
	if h.tracker == nil {
		return
	}
	h.tracker.mu.Lock()
	delete(h.tracker.ops, h.id)
	h.tracker.mu.Unlock()
}

// Tracker records in-flight kernel operations.
type Tracker struct {
	nextID atomic.Uint64
	mu     sync.Mutex
	ops    map[uint64]Op
}

// NewTracker creates an empty operation tracker.
func NewTracker() *Tracker {
	return &Tracker{
		ops: make(map[uint64]Op),
	}
}

// Track records the start of an operation. Call Done on the returned
// handle when the operation completes.
func (t *Tracker) Track(node, method, detail string) *OpHandle {
	id := t.nextID.Add(1)
	op := Op{
		ID:      id,
		Node:    node,
		Method:  method,
		Detail:  detail,
		Started: time.Now(),
	}
	t.mu.Lock()
	t.ops[id] = op
	t.mu.Unlock()
	return &OpHandle{tracker: t, id: id}
}

// InFlight returns a snapshot of in-flight operations, oldest first.
func (t *Tracker) InFlight() []Op {
	t.mu.Lock()
	ops := make([]Op, 0, len(t.ops))
	for _, op := range t.ops {
		ops = append(ops, op)
	}
	t.mu.Unlock()
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Started.Equal(ops[j].Started) {
			return ops[i].ID < ops[j].ID
		}
		return ops[i].Started.Before(ops[j].Started)
	})
	return ops
}

// Stalled returns in-flight operations older than olderThan.
func (t *Tracker) Stalled(olderThan time.Duration) []Op {
	cutoff := time.Now().Add(-olderThan)
	var stalled []Op
	for _, op := range t.InFlight() {
		if op.Started.Before(cutoff) {
			stalled = append(stalled, op)
		}
	}
	return stalled
}

// stallWarn is the age past which Dump flags an operation. A kernel
// call outstanding this long usually means the remote store is wedged
// or a retry loop is still backing off.
const stallWarn = 30 * time.Second

// Dump returns a human-readable multi-line summary of in-flight
// operations.
func (t *Tracker) Dump() string {
	ops := t.InFlight()
	if len(ops) == 0 {
		return "no in-flight operations\n"
	}
	now := time.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "%d in-flight operation(s):\n", len(ops))
	for _, op := range ops {
		elapsed := now.Sub(op.Started).Truncate(time.Millisecond)
		fmt.Fprintf(&b, "  [%d] %s.%s", op.ID, op.Node, op.Method)
		if op.Detail != "" {
			fmt.Fprintf(&b, " %s", op.Detail)
		}
		if op.Phase != "" {
			fmt.Fprintf(&b, " [%s]", op.Phase)
		}
		fmt.Fprintf(&b, " (%s)", elapsed)
		if elapsed >= stallWarn {
			fmt.Fprint(&b, " STALLED")
		}
		fmt.Fprint(&b, "\n")
	}
	return b.String()
}

// Handler serves the tracker over HTTP. Plain text by default, a JSON
// array with ?json, and full goroutine stacks with ?stacks for hangs
// that are below the dispatcher rather than in it.
func (t *Tracker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, wantStacks := r.URL.Query()["stacks"]; wantStacks {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			fmt.Fprint(w, GoroutineStacks())
			return
		}
		if _, wantJSON := r.URL.Query()["json"]; wantJSON {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(t.InFlight()); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, t.Dump())
	})
}

// Track is a nil-safe package-level helper: a nil tracker yields a
// no-op handle, so call sites skip the nil check.
func Track(t *Tracker, node, method, detail string) *OpHandle {
	if t == nil {
		return &OpHandle{}
	}
	return t.Track(node, method, detail)
}

// maxGoroutineStackSize caps the goroutine stack dump.
const maxGoroutineStackSize = 64 * 1024

// GoroutineStacks returns the stack traces of all goroutines, truncated
// to 64KB. Useful when a hang sits in go-fuse internals or the kernel
// driver rather than in a tracked method.
func GoroutineStacks() string {
	buf := make([]byte, maxGoroutineStackSize)
	n := runtime.Stack(buf, true)
	s := string(buf[:n])
	if n >= maxGoroutineStackSize {
		s += "\n... truncated at 64KB ...\n"
	}
	return s
}
