// Package extract reads the structural metadata subset of a raw data
// object - identifiers, object type, ordering hint, cross-object
// references - into an ObjectDescriptor, without materializing the
// payload.
package extract

import (
	"context"
	"fmt"

	"github.com/suyashkumar/dicom"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
	"github.com/ShuchaoPangUNSW/pydicer/internal/source"
)

// ExtractionError reports an object whose header could not be read or
// did not carry the identifiers the hierarchy needs. The object is
// excluded from the hierarchy and quarantined via a parse-error record;
// it is not retried.
type ExtractionError struct {
	Object string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Object, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor produces one descriptor per raw object handle.
type Extractor interface {
	Extract(ctx context.Context, obj source.Object) (*hierarchy.ObjectDescriptor, error)
}

// DICOMExtractor extracts descriptors from DICOM-encoded objects. Pixel
// data is skipped during parsing, so only header bytes are ever held.
type DICOMExtractor struct{}

// NewDICOMExtractor returns a ready extractor.
func NewDICOMExtractor() *DICOMExtractor { return &DICOMExtractor{} }

// Extract parses the object's header and builds its descriptor.
func (x *DICOMExtractor) Extract(ctx context.Context, obj source.Object) (*hierarchy.ObjectDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := obj.Header()
	if err != nil {
		return nil, &ExtractionError{Object: obj.Name(), Err: err}
	}
	defer func() { _ = r.Close() }()

	ds, err := dicom.ParseUntilEOF(r, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, &ExtractionError{Object: obj.Name(), Err: err}
	}

	desc, err := FromDataset(ds, obj.Name())
	if err != nil {
		return nil, &ExtractionError{Object: obj.Name(), Err: err}
	}
	return desc, nil
}
