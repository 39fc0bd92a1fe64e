package hierarchy

import (
	"fmt"
	"strings"
)

// ErrorKind classifies an anomaly detected during ingestion.
type ErrorKind int

const (
	// ErrParse marks an object whose header could not be read; the
	// object is excluded from the hierarchy.
	ErrParse ErrorKind = iota
	// ErrDuplicateIdentifier marks a second descriptor claiming an
	// already-indexed instance identifier with different content.
	ErrDuplicateIdentifier
	// ErrHierarchyConflict marks a descriptor whose declared parentage
	// contradicts the recorded parentage of the same child identifier.
	ErrHierarchyConflict
	// ErrDanglingReference marks a reference whose target never
	// appeared before the end of ingestion.
	ErrDanglingReference
)

// String returns the canonical name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrDuplicateIdentifier:
		return "DUPLICATE_IDENTIFIER"
	case ErrHierarchyConflict:
		return "HIERARCHY_CONFLICT"
	case ErrDanglingReference:
		return "DANGLING_REFERENCE"
	default:
		return "PARSE_ERROR"
	}
}

// ParseErrorKind parses a canonical error kind name.
func ParseErrorKind(s string) (ErrorKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PARSE_ERROR":
		return ErrParse, nil
	case "DUPLICATE_IDENTIFIER":
		return ErrDuplicateIdentifier, nil
	case "HIERARCHY_CONFLICT":
		return ErrHierarchyConflict, nil
	case "DANGLING_REFERENCE":
		return ErrDanglingReference, nil
	default:
		return ErrParse, fmt.Errorf("invalid error kind: %s", s)
	}
}

// ResolutionStatus is the outcome the resolver assigned to an anomaly.
type ResolutionStatus int

const (
	Unresolved ResolutionStatus = iota
	AutoResolved
	Quarantined
)

// String returns the canonical name of the resolution status.
func (s ResolutionStatus) String() string {
	switch s {
	case AutoResolved:
		return "AUTO_RESOLVED"
	case Quarantined:
		return "QUARANTINED"
	default:
		return "UNRESOLVED"
	}
}

// ParseResolutionStatus parses a canonical resolution status name.
func ParseResolutionStatus(s string) (ResolutionStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UNRESOLVED":
		return Unresolved, nil
	case "AUTO_RESOLVED":
		return AutoResolved, nil
	case "QUARANTINED":
		return Quarantined, nil
	default:
		return Unresolved, fmt.Errorf("invalid resolution status: %s", s)
	}
}

// ErrorRecord is one entry in the permanent error log attached to the
// index. Records are retained forever, resolved or not, so downstream
// curation can make per-series inclusion decisions.
type ErrorRecord struct {
	Kind       ErrorKind
	SubjectIDs []string
	Detail     string
	Status     ResolutionStatus
}

// ID returns the deterministic identity of the record. Re-detecting the
// same anomaly on a later run maps to the same record, which keeps the
// error log free of duplicates.
func (r ErrorRecord) ID() string {
	return r.Kind.String() + "|" + strings.Join(r.SubjectIDs, ",") + "|" + r.Detail
}

// Mentions reports whether the record names the given identifier as a
// subject.
func (r ErrorRecord) Mentions(id string) bool {
	for _, s := range r.SubjectIDs {
		if s == id {
			return true
		}
	}
	return false
}
