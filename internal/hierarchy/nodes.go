package hierarchy

import "sort"

// PatientNode is the root hierarchy node for one patient.
type PatientNode struct {
	PatientID string
	StudyIDs  []string
}

// StudyNode groups the series acquired in one study for one patient.
type StudyNode struct {
	StudyID   string
	PatientID string
	SeriesIDs []string
}

// InstanceEntry is one instance recorded under a series, carrying the
// ordering hint and content hash needed for duplicate detection.
type InstanceEntry struct {
	InstanceID  string
	SeriesID    string
	Ordinal     float64
	ContentHash uint64

	// Shadow is set on quarantined duplicates retained under a shadow
	// identifier; shadow entries never appear in the ordered instance
	// sequence of their series.
	Shadow bool

	// ShadowOf names the primary instance a shadow entry duplicates.
	ShadowOf string

	Source string
}

// SeriesNode is the smallest grouping unit of the hierarchy: one
// acquisition, structure set, plan or dose object collection.
type SeriesNode struct {
	SeriesID         string
	StudyID          string
	Type             ObjectType
	FrameOfReference string

	// Instances is the ordered instance sequence: primary key ordinal
	// hint, tie-break lexical instance id. Maintained sorted on insert.
	Instances []InstanceEntry
}

// InsertInstance places e into the ordered instance sequence, keeping
// the (ordinal, instance id) order regardless of arrival order.
func (s *SeriesNode) InsertInstance(e InstanceEntry) {
	at := sort.Search(len(s.Instances), func(i int) bool {
		in := s.Instances[i]
		if in.Ordinal != e.Ordinal {
			return in.Ordinal > e.Ordinal
		}
		return in.InstanceID >= e.InstanceID
	})
	s.Instances = append(s.Instances, InstanceEntry{})
	copy(s.Instances[at+1:], s.Instances[at:])
	s.Instances[at] = e
}

// InstanceIDs returns the instance identifiers in sequence order.
func (s *SeriesNode) InstanceIDs() []string {
	ids := make([]string, len(s.Instances))
	for i, in := range s.Instances {
		ids[i] = in.InstanceID
	}
	return ids
}

// ReferenceEdge is a directed, typed relation between two series.
// Duplicate identical edges are idempotent; the same pair may be linked
// by multiple edges of different kinds.
type ReferenceEdge struct {
	SourceSeriesID string
	TargetSeriesID string
	Kind           RefKind

	// Dangling marks an edge whose target never materialized during
	// ingestion. The edge is recorded anyway so the reference cannot
	// silently vanish.
	Dangling bool
}

// ID returns the deterministic identity of the edge, which is what
// makes AddEdge idempotent.
func (e ReferenceEdge) ID() string {
	return e.SourceSeriesID + "|" + e.TargetSeriesID + "|" + e.Kind.String()
}
