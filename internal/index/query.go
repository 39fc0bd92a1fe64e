package index

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ShuchaoPangUNSW/pydicer/internal/hierarchy"
)

// Read-side traversal. Child id sets and instance sequences are
// assembled from the child tables at query time, sorted so results are
// stable regardless of ingestion interleaving.

// Patients returns every patient node, ordered by patient id.
func (tx *Tx) Patients() ([]hierarchy.PatientNode, error) {
	it, err := tx.txn.Get("patient", "id")
	if err != nil {
		return nil, fmt.Errorf("scan patients: %w", err)
	}
	var out []hierarchy.PatientNode
	for raw := it.Next(); raw != nil; raw = it.Next() {
		p, err := tx.Patient(raw.(*patientRow).PatientID)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatientID < out[j].PatientID })
	return out, nil
}

// Patient assembles one patient node with its study id set.
func (tx *Tx) Patient(patientID string) (*hierarchy.PatientNode, error) {
	raw, err := tx.txn.First("patient", "id", patientID)
	if err != nil {
		return nil, fmt.Errorf("lookup patient %s: %w", patientID, err)
	}
	if raw == nil {
		return nil, nil
	}
	it, err := tx.txn.Get("study", "patient", patientID)
	if err != nil {
		return nil, fmt.Errorf("scan studies of %s: %w", patientID, err)
	}
	node := &hierarchy.PatientNode{PatientID: patientID}
	for s := it.Next(); s != nil; s = it.Next() {
		node.StudyIDs = append(node.StudyIDs, s.(*studyRow).StudyID)
	}
	sort.Strings(node.StudyIDs)
	return node, nil
}

// Study assembles one study node with its series id set.
func (tx *Tx) Study(studyID string) (*hierarchy.StudyNode, error) {
	raw, err := tx.txn.First("study", "id", studyID)
	if err != nil {
		return nil, fmt.Errorf("lookup study %s: %w", studyID, err)
	}
	if raw == nil {
		return nil, nil
	}
	row := raw.(*studyRow)
	it, err := tx.txn.Get("series", "study", studyID)
	if err != nil {
		return nil, fmt.Errorf("scan series of %s: %w", studyID, err)
	}
	node := &hierarchy.StudyNode{StudyID: row.StudyID, PatientID: row.PatientID}
	for s := it.Next(); s != nil; s = it.Next() {
		node.SeriesIDs = append(node.SeriesIDs, s.(*seriesRow).SeriesID)
	}
	sort.Strings(node.SeriesIDs)
	return node, nil
}

// Series assembles one series node with its ordered instance sequence.
// Shadow entries are excluded from the sequence.
func (tx *Tx) Series(seriesID string) (*hierarchy.SeriesNode, error) {
	raw, err := tx.txn.First("series", "id", seriesID)
	if err != nil {
		return nil, fmt.Errorf("lookup series %s: %w", seriesID, err)
	}
	if raw == nil {
		return nil, nil
	}
	row := raw.(*seriesRow)
	node := &hierarchy.SeriesNode{
		SeriesID:         row.SeriesID,
		StudyID:          row.StudyID,
		Type:             row.Type,
		FrameOfReference: row.FrameOfReference,
	}
	it, err := tx.txn.Get("instance", "series", seriesID)
	if err != nil {
		return nil, fmt.Errorf("scan instances of %s: %w", seriesID, err)
	}
	for i := it.Next(); i != nil; i = it.Next() {
		entry := i.(*instanceRow).Entry
		if entry.Shadow {
			continue
		}
		node.Instances = append(node.Instances, entry)
	}
	sort.Slice(node.Instances, func(i, j int) bool {
		a, b := node.Instances[i], node.Instances[j]
		if a.Ordinal != b.Ordinal {
			return a.Ordinal < b.Ordinal
		}
		return a.InstanceID < b.InstanceID
	})
	return node, nil
}

// AllSeries returns every series node, ordered by series id.
func (tx *Tx) AllSeries() ([]hierarchy.SeriesNode, error) {
	it, err := tx.txn.Get("series", "id")
	if err != nil {
		return nil, fmt.Errorf("scan series: %w", err)
	}
	var out []hierarchy.SeriesNode
	for raw := it.Next(); raw != nil; raw = it.Next() {
		node, err := tx.Series(raw.(*seriesRow).SeriesID)
		if err != nil {
			return nil, err
		}
		out = append(out, *node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeriesID < out[j].SeriesID })
	return out, nil
}

func (tx *Tx) edges(indexName, id string) ([]hierarchy.ReferenceEdge, error) {
	it, err := tx.txn.Get("edge", indexName, id)
	if err != nil {
		return nil, fmt.Errorf("scan %s edges of %s: %w", indexName, id, err)
	}
	var out []hierarchy.ReferenceEdge
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*edgeRow).Edge)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// OutgoingEdges returns the reference edges originating at a series.
func (tx *Tx) OutgoingEdges(seriesID string) ([]hierarchy.ReferenceEdge, error) {
	return tx.edges("source", seriesID)
}

// IncomingEdges returns the reference edges pointing at a series.
func (tx *Tx) IncomingEdges(seriesID string) ([]hierarchy.ReferenceEdge, error) {
	return tx.edges("target", seriesID)
}

// Errors returns the permanent error log, ordered by record identity.
func (tx *Tx) Errors() ([]hierarchy.ErrorRecord, error) {
	it, err := tx.txn.Get("error", "id")
	if err != nil {
		return nil, fmt.Errorf("scan error log: %w", err)
	}
	var out []hierarchy.ErrorRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*errorRow).Record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// ErrorsMentioning returns the error records naming id as a subject.
func (tx *Tx) ErrorsMentioning(id string) ([]hierarchy.ErrorRecord, error) {
	all, err := tx.Errors()
	if err != nil {
		return nil, err
	}
	var out []hierarchy.ErrorRecord
	for _, r := range all {
		if r.Mentions(id) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ShadowsOf returns the quarantined shadow entries retained for an
// instance identifier.
func (tx *Tx) ShadowsOf(instanceID string) ([]hierarchy.InstanceEntry, error) {
	it, err := tx.txn.Get("instance", "id")
	if err != nil {
		return nil, fmt.Errorf("scan instances: %w", err)
	}
	var out []hierarchy.InstanceEntry
	for raw := it.Next(); raw != nil; raw = it.Next() {
		entry := raw.(*instanceRow).Entry
		if entry.Shadow && entry.ShadowOf == instanceID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentHash < out[j].ContentHash })
	return out, nil
}

// Counts summarizes the index for run reporting.
type Counts struct {
	Patients  int
	Studies   int
	Series    int
	Instances int
	Shadows   int
	Edges     int
	Dangling  int
	Errors    int
}

// Counts tallies the index contents.
func (tx *Tx) Counts() (Counts, error) {
	var c Counts
	tables := []struct {
		name  string
		count func(raw interface{})
	}{
		{"patient", func(interface{}) { c.Patients++ }},
		{"study", func(interface{}) { c.Studies++ }},
		{"series", func(interface{}) { c.Series++ }},
		{"instance", func(raw interface{}) {
			if raw.(*instanceRow).Entry.Shadow {
				c.Shadows++
			} else {
				c.Instances++
			}
		}},
		{"edge", func(raw interface{}) {
			c.Edges++
			if raw.(*edgeRow).Edge.Dangling {
				c.Dangling++
			}
		}},
		{"error", func(interface{}) { c.Errors++ }},
	}
	for _, t := range tables {
		it, err := tx.txn.Get(t.name, "id")
		if err != nil {
			return c, fmt.Errorf("scan %s: %w", t.name, err)
		}
		for raw := it.Next(); raw != nil; raw = it.Next() {
			t.count(raw)
		}
	}
	return c, nil
}

// String renders the counts on one line for log output.
func (c Counts) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d patients, %d studies, %d series, %d instances", c.Patients, c.Studies, c.Series, c.Instances)
	if c.Shadows > 0 {
		fmt.Fprintf(&b, ", %d shadowed", c.Shadows)
	}
	fmt.Fprintf(&b, ", %d edges (%d dangling), %d error records", c.Edges, c.Dangling, c.Errors)
	return b.String()
}

// Convenience snapshot wrappers.

// Patient reads one assembled patient node from a fresh snapshot.
func (s *Store) Patient(id string) (*hierarchy.PatientNode, error) {
	var node *hierarchy.PatientNode
	err := s.View(func(tx *Tx) error {
		var err error
		node, err = tx.Patient(id)
		return err
	})
	return node, err
}

// Study reads one assembled study node from a fresh snapshot.
func (s *Store) Study(id string) (*hierarchy.StudyNode, error) {
	var node *hierarchy.StudyNode
	err := s.View(func(tx *Tx) error {
		var err error
		node, err = tx.Study(id)
		return err
	})
	return node, err
}

// Series reads one assembled series node from a fresh snapshot.
func (s *Store) Series(id string) (*hierarchy.SeriesNode, error) {
	var node *hierarchy.SeriesNode
	err := s.View(func(tx *Tx) error {
		var err error
		node, err = tx.Series(id)
		return err
	})
	return node, err
}

// Errors reads the error log from a fresh snapshot.
func (s *Store) Errors() ([]hierarchy.ErrorRecord, error) {
	var out []hierarchy.ErrorRecord
	err := s.View(func(tx *Tx) error {
		var err error
		out, err = tx.Errors()
		return err
	})
	return out, err
}

// Counts tallies the index from a fresh snapshot.
func (s *Store) Counts() (Counts, error) {
	var c Counts
	err := s.View(func(tx *Tx) error {
		var err error
		c, err = tx.Counts()
		return err
	})
	return c, err
}
