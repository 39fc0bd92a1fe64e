// Package source defines the input source contract the ingestion
// pipeline consumes, plus the bundled filesystem and in-memory
// implementations. A source yields a finite, ordered sequence of raw
// object handles; ordering within a source is the source's own
// responsibility and must be stable across runs for conflict
// resolution to be deterministic.
package source

import (
	"context"
	"io"
)

// Object is a raw data object handle. Header returns the bytes needed
// for descriptor extraction; Content returns the full payload for the
// downstream conversion stage. For DICOM files both typically read the
// same file - extraction simply stops materializing at the pixel data.
type Object interface {
	// Name is the source-local identifier of the object, used in audit
	// trails and error records.
	Name() string
	Header() (io.ReadCloser, error)
	Content() (io.ReadCloser, error)
}

// Source produces raw object handles in its own deterministic order.
type Source interface {
	// Name identifies the source in logs and descriptor audit fields.
	Name() string
	// Stable reports whether the source's ordering is reproducible
	// across repeated runs.
	Stable() bool
	// Next returns the next object, or io.EOF when the source is
	// exhausted.
	Next(ctx context.Context) (Object, error)
}
