// Package feed supplies the collaborators the recording core is abstracted
// from: reference-counted handles for the files backing faulted mappings, a
// resolver that turns handles back into paths, and an event feed that
// drives the recorder from a replayed fault stream.
package feed

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"smra_exporter/internal/smra"
)

// FileHandle is a reference-counted handle to one backing file, identified
// by path. The handle table holds the baseline reference; every fault
// record holding the handle adds one more. Releasing below the baseline is
// a refcount underflow and panics, that is a double-release bug and not a
// recoverable condition.
type FileHandle struct {
	path string
	refs atomic.Int64
}

// Retain adds one reference.
func (h *FileHandle) Retain() { h.refs.Add(1) }

// Release drops one reference.
func (h *FileHandle) Release() {
	if h.refs.Add(-1) < 0 {
		panic(fmt.Sprintf("feed: refcount underflow on handle for %q", h.path))
	}
}

// Refs returns the current reference count, baseline excluded.
func (h *FileHandle) Refs() int64 { return h.refs.Load() }

// Path returns the backing path the handle was interned under.
func (h *FileHandle) Path() string { return h.path }

// HandleTable interns one FileHandle per backing path, so repeated faults
// against the same file share a handle the way repeated faults against the
// same mapping share a struct file.
type HandleTable struct {
	mu      sync.Mutex
	handles map[string]*FileHandle
}

// NewHandleTable returns an empty table.
func NewHandleTable() *HandleTable {
	return &HandleTable{handles: make(map[string]*FileHandle)}
}

// Get returns the handle for path, creating it on first use. The table's
// own reference is the baseline and is not counted in Refs.
func (t *HandleTable) Get(path string) *FileHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[path]
	if !ok {
		h = &FileHandle{path: path}
		t.handles[path] = h
	}
	return h
}

// Len returns the number of interned handles.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// OutstandingRefs sums the extra references held on all interned handles.
// Zero means every recorded reference has been released.
func (t *HandleTable) OutstandingRefs() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for _, h := range t.handles {
		n += h.refs.Load()
	}
	return n
}

// PathResolver resolves FileHandles minted by a HandleTable into readable
// paths for post-processing. Resolution stats the backing path to tag
// records whose file has been removed since the fault was captured, and
// truncates paths longer than smra.MaxPathLen rather than failing.
type PathResolver struct {
	// Stat is swappable for tests; defaults to os.Stat.
	Stat func(name string) (os.FileInfo, error)
}

// NewPathResolver returns a resolver backed by the local filesystem.
func NewPathResolver() *PathResolver {
	return &PathResolver{Stat: os.Stat}
}

// Resolve implements smra.Resolver.
func (r *PathResolver) Resolve(h smra.Handle) (smra.ResolvedPath, error) {
	fh, ok := h.(*FileHandle)
	if !ok {
		return smra.ResolvedPath{}, fmt.Errorf("feed: cannot resolve foreign handle type %T", h)
	}

	rp := smra.ResolvedPath{Path: fh.path}
	if len(rp.Path) > smra.MaxPathLen {
		// Back off to a rune boundary so truncation never leaves a split
		// multi-byte character in the output.
		cut := smra.MaxPathLen
		for cut > 0 && !utf8.RuneStart(rp.Path[cut]) {
			cut--
		}
		rp.Path = rp.Path[:cut]
		rp.Truncated = true
	}

	// Synthetic paths (no leading slash) are not expected on disk, skip
	// the deleted check for them.
	if strings.HasPrefix(fh.path, "/") {
		if _, err := r.Stat(fh.path); err != nil {
			if os.IsNotExist(err) {
				rp.Deleted = true
			} else {
				return smra.ResolvedPath{}, fmt.Errorf("feed: stat %q: %w", fh.path, err)
			}
		}
	}
	return rp, nil
}
