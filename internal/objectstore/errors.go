package objectstore

import "errors"

// Sentinel errors for the object store, matching the taxonomy of
// failures this package can produce. CAS-style failures are not part of
// this package; see internal/refs for those.
var (
	// ErrObjectNotFound is returned by GetRaw, GetRawRange and
	// GetObjectSize when the requested id has no row.
	ErrObjectNotFound = errors.New("objectstore: object not found")

	// ErrChunkCorrupt is returned, when chunk verification is enabled
	// via Store.SetVerifyChunks, if a chunk's decompressed bytes do not
	// hash to the chunk's own stored key. Reassembled objects are not
	// re-hashed against their id.
	ErrChunkCorrupt = errors.New("objectstore: chunk content hash mismatch")
)
