package extract

import (
	"context"
	"fmt"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
	"github.com/ShuchaoPangUNSW/pydicer/internal/source"
)

// StaticExtractor maps object names to pre-built descriptors. It backs
// synthetic input sources (the test-fixture source category), where the
// structural metadata is authored directly instead of being parsed out
// of DICOM bytes.
type StaticExtractor struct {
	descriptors map[string]*hierarchy.ObjectDescriptor
}

// NewStaticExtractor builds an extractor over the given descriptors,
// keyed by their Source field.
func NewStaticExtractor(descs ...*hierarchy.ObjectDescriptor) *StaticExtractor {
	m := make(map[string]*hierarchy.ObjectDescriptor, len(descs))
	for _, d := range descs {
		m[d.Source] = d
	}
	return &StaticExtractor{descriptors: m}
}

// Extract looks the object up by name. Unknown objects fail with an
// ExtractionError, mirroring an unreadable header.
func (x *StaticExtractor) Extract(ctx context.Context, obj source.Object) (*hierarchy.ObjectDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := x.descriptors[obj.Name()]
	if !ok {
		return nil, &ExtractionError{Object: obj.Name(), Err: fmt.Errorf("no descriptor registered")}
	}
	if err := d.Validate(); err != nil {
		return nil, &ExtractionError{Object: obj.Name(), Err: err}
	}
	return d, nil
}
