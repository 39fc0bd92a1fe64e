// Package hierarchy defines the data model for the curated imaging index:
// object descriptors extracted from raw data objects, the
// patient/study/series nodes they are sorted into, the typed reference
// edges between series, and the error records produced while resolving
// inconsistencies.
package hierarchy

import (
	"fmt"
	"strings"
)

// ObjectType classifies a data object by its role in the hierarchy.
// The set is closed: the reference-resolution policy is exhaustive over
// these variants, so adding a type means extending that policy too.
type ObjectType int

const (
	ObjectImage ObjectType = iota
	ObjectStructureSet
	ObjectPlan
	ObjectDose
	ObjectOther
)

// String returns the canonical name of the object type.
func (t ObjectType) String() string {
	switch t {
	case ObjectImage:
		return "IMAGE"
	case ObjectStructureSet:
		return "STRUCTURE_SET"
	case ObjectPlan:
		return "PLAN"
	case ObjectDose:
		return "DOSE"
	default:
		return "OTHER"
	}
}

// ParseObjectType parses a canonical object type name.
func ParseObjectType(s string) (ObjectType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IMAGE":
		return ObjectImage, nil
	case "STRUCTURE_SET":
		return ObjectStructureSet, nil
	case "PLAN":
		return ObjectPlan, nil
	case "DOSE":
		return ObjectDose, nil
	case "OTHER":
		return ObjectOther, nil
	default:
		return ObjectOther, fmt.Errorf("invalid object type: %s (valid: IMAGE, STRUCTURE_SET, PLAN, DOSE, OTHER)", s)
	}
}

// ObjectTypeForModality maps a DICOM modality string to an object type.
// Imaging modalities collapse to ObjectImage; the radiotherapy objects
// keep their own variants because they carry cross-series references.
func ObjectTypeForModality(modality string) ObjectType {
	switch strings.ToUpper(strings.TrimSpace(modality)) {
	case "CT", "MR", "PT", "US", "CR", "DX", "MG", "NM", "XA":
		return ObjectImage
	case "RTSTRUCT":
		return ObjectStructureSet
	case "RTPLAN":
		return ObjectPlan
	case "RTDOSE":
		return ObjectDose
	default:
		return ObjectOther
	}
}

// RefKind is the type of a directed reference edge between two series.
type RefKind int

const (
	RefImage RefKind = iota
	RefStructure
	RefPlan
)

// String returns the canonical name of the reference kind.
func (k RefKind) String() string {
	switch k {
	case RefStructure:
		return "REFERENCES_STRUCTURE"
	case RefPlan:
		return "REFERENCES_PLAN"
	default:
		return "REFERENCES_IMAGE"
	}
}

// ParseRefKind parses a canonical reference kind name.
func ParseRefKind(s string) (RefKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REFERENCES_IMAGE":
		return RefImage, nil
	case "REFERENCES_STRUCTURE":
		return RefStructure, nil
	case "REFERENCES_PLAN":
		return RefPlan, nil
	default:
		return RefImage, fmt.Errorf("invalid reference kind: %s", s)
	}
}

// ExpectedRefKind returns the edge kind produced when an object of the
// given type references a target of the given type.
func ExpectedRefKind(target ObjectType) RefKind {
	switch target {
	case ObjectStructureSet:
		return RefStructure
	case ObjectPlan:
		return RefPlan
	default:
		return RefImage
	}
}
