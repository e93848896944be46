// Package obslog provides the structured logging conventions shared by
// the object store, reference container and repository façade: a
// zerolog.Logger configured consistently, plus small field helpers so
// call sites read uniformly across packages.
package obslog

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/prn-tf/gitobjdb/internal/domain"
)

// New returns a console-friendly zerolog.Logger at the given level
// ("debug", "info", "warn", "error"; anything else falls back to info).
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// WithObjectID attaches an object id as a hex-string field.
func WithObjectID(e *zerolog.Event, id domain.ObjectID) *zerolog.Event {
	return e.Str("object_id", id.String())
}

// WithChunkHash attaches a chunk content hash as a hex-string field.
func WithChunkHash(e *zerolog.Event, h domain.ChunkHash) *zerolog.Event {
	return e.Str("chunk_hash", h.String())
}

// WithOperation tags the logical operation a log line belongs to, e.g.
// "insert", "get_raw", "set_if_equals".
func WithOperation(e *zerolog.Event, op string) *zerolog.Event {
	return e.Str("op", op)
}
