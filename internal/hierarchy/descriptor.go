package hierarchy

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"
)

// ReferenceField is one unresolved cross-object reference carried by a
// descriptor: the series identifier it points at and the object type the
// target is expected to have.
type ReferenceField struct {
	TargetID   string
	TargetType ObjectType
}

// ObjectDescriptor is the immutable structural summary of one raw data
// object, extracted from its header without touching the payload. It is
// owned by the pipeline until absorbed into the index and never mutated
// afterwards; a correction is a new descriptor.
type ObjectDescriptor struct {
	InstanceID string
	SeriesID   string
	StudyID    string
	PatientID  string
	Type       ObjectType

	// Ordinal is the slice-position hint used to order instances within
	// a series. Instances with equal ordinals fall back to lexical
	// InstanceID order.
	Ordinal float64

	// FrameOfReference is the spatial-coordinate identity token shared
	// by series describing the same physical geometry. May be empty.
	FrameOfReference string

	References []ReferenceField

	// ContentHash summarizes the extracted header content. Two
	// descriptors for the same instance with equal hashes are the same
	// object seen twice; different hashes are a conflict.
	ContentHash uint64

	// Source names the input source and source-local handle the object
	// came from, for audit trails.
	Source string
}

// Validate reports whether the descriptor carries the identifiers the
// sorter needs to place it in the hierarchy.
func (d *ObjectDescriptor) Validate() error {
	switch {
	case d.InstanceID == "":
		return fmt.Errorf("descriptor from %s: missing instance identifier", d.Source)
	case d.SeriesID == "":
		return fmt.Errorf("descriptor %s: missing series identifier", d.InstanceID)
	case d.StudyID == "":
		return fmt.Errorf("descriptor %s: missing study identifier", d.InstanceID)
	case d.PatientID == "":
		return fmt.Errorf("descriptor %s: missing patient identifier", d.InstanceID)
	}
	return nil
}

// hashedHeader is the subset of header fields that participate in the
// content hash. Source is excluded so that the same object arriving via
// two sources hashes identically.
type hashedHeader struct {
	InstanceID       string
	SeriesID         string
	StudyID          string
	PatientID        string
	Type             string
	Ordinal          float64
	FrameOfReference string
	References       []ReferenceField
	Extra            map[string]string
}

// HashHeader computes the content hash for a descriptor from its
// structural fields plus any extra header attributes the extractor
// chose to fold in.
func HashHeader(d *ObjectDescriptor, extra map[string]string) (uint64, error) {
	h, err := hashstructure.Hash(hashedHeader{
		InstanceID:       d.InstanceID,
		SeriesID:         d.SeriesID,
		StudyID:          d.StudyID,
		PatientID:        d.PatientID,
		Type:             d.Type.String(),
		Ordinal:          d.Ordinal,
		FrameOfReference: d.FrameOfReference,
		References:       d.References,
		Extra:            extra,
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("hash header for %s: %w", d.InstanceID, err)
	}
	return h, nil
}

// ShadowID returns the suffixed identifier under which a
// content-conflicting duplicate of an instance is retained for audit.
// The suffix is derived from the content hash so repeated ingestion of
// the same conflicting object maps to the same shadow entry.
func ShadowID(instanceID string, contentHash uint64) string {
	return fmt.Sprintf("%s~%016x", instanceID, contentHash)
}
