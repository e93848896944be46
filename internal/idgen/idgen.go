// Package idgen names temporary resources, such as pack-ingest spool
// files, with collision-resistant identifiers.
package idgen

import "github.com/google/uuid"

// SpoolName returns a filename-safe identifier suitable for a pack
// ingestion spool file.
func SpoolName() string {
	return "pack-spool-" + uuid.NewString()
}
