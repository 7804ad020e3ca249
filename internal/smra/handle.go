package smra

// MaxPathLen is the longest resolved path the post-processor will return.
// Longer paths are truncated and flagged, not rejected.
const MaxPathLen = 256

// Handle is an opaque, reference-counted reference to the file backing a
// faulted mapping. The fault-event source shares handles with the recorder:
// each recorded fault takes one additional reference via Retain so the
// backing resource stays alive while the record sits in a buffer, and that
// reference is released exactly once when the owning buffer is reset or the
// session is torn down. Implementations should treat a Release without a
// matching Retain as a bug (refcount underflow).
type Handle interface {
	Retain()
	Release()
}

// ResolvedPath is the human-readable identity of a handle's backing file.
type ResolvedPath struct {
	// Path is the resolved path, at most MaxPathLen bytes.
	Path string

	// Deleted is set when the backing file has been removed or unlinked
	// since the fault was recorded. The path is still reported.
	Deleted bool

	// Truncated is set when the full path exceeded MaxPathLen.
	Truncated bool
}

// Resolver turns a recorded handle back into a readable path during
// post-processing. Resolve runs outside every recorder lock, so it is free
// to block, allocate, and touch the filesystem. A returned error aborts the
// whole post-processing batch.
type Resolver interface {
	Resolve(h Handle) (ResolvedPath, error)
}
